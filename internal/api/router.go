// Package api 提供只读的热榜/文章查询接口，以及手动触发采集的入口
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/LJTian/HotlistHub/internal/cache"
	"github.com/LJTian/HotlistHub/internal/logging"
	"github.com/LJTian/HotlistHub/internal/manager"
	"github.com/LJTian/HotlistHub/internal/metrics"
	"github.com/LJTian/HotlistHub/internal/pipeline"
	"github.com/LJTian/HotlistHub/internal/ratelimit"
	"github.com/LJTian/HotlistHub/internal/scheduler"
	"github.com/LJTian/HotlistHub/internal/storage"
)

type NewsStore interface {
	ListNews(ctx context.Context, channel, sort string, limit int, date string) ([]storage.News, error)
	ListPublishedDates(ctx context.Context, channel string, limit int) ([]string, error)
}

type SnapshotReader interface {
	Read(ctx context.Context, day string) (*storage.Snapshot, error)
}

type TaskQueue interface {
	Trigger(req pipeline.Request) scheduler.Ack
	Status(id string) (scheduler.TaskStatus, bool)
	Pending() int
}

// SnapshotHistory 查询 PostgreSQL 中每轮运行的归档记录
type SnapshotHistory interface {
	ListSnapshots(ctx context.Context, limit int) ([]storage.SnapshotRecord, error)
}

type CrawlStats interface {
	Stats() manager.Stats
	Platforms() []string
}

type CacheStats interface {
	Stats() cache.Stats
}

type LimiterStatus interface {
	Status() map[string]ratelimit.Status
}

// Deps 中除 Snapshots 外都可以为 nil，对应接口返回 503
type Deps struct {
	News       NewsStore
	History    SnapshotHistory
	Snapshots  SnapshotReader
	Tasks      TaskQueue
	Crawls     CrawlStats
	Cache      CacheStats
	Limiters   LimiterStatus
	CrawlToken string
	Logger     *zap.Logger
}

type Server struct {
	deps   Deps
	logger *zap.Logger
}

func NewServer(deps Deps) *Server {
	return &Server{deps: deps, logger: logging.OrNop(deps.Logger)}
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := r.Group("/api/v1")
	{
		v1.GET("/news", s.listNews)
		v1.GET("/news/dates", s.listDates)
		v1.GET("/hotlist/latest", s.latestHotlist)
		v1.GET("/snapshots", s.listSnapshots)
		v1.GET("/stats", s.stats)
		v1.POST("/crawl", bearerToken(s.deps.CrawlToken), s.triggerCrawl)
		v1.GET("/crawl/:id", s.crawlStatus)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"code": code, "message": message})
}

func unavailable(c *gin.Context) {
	fail(c, http.StatusServiceUnavailable, "unavailable", "component not configured")
}

func (s *Server) internalError(c *gin.Context, err error) {
	s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	fail(c, http.StatusInternalServerError, "internal_error", "internal server error")
}

func queryLimit(c *gin.Context, def int) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if err != nil || limit <= 0 {
		return def
	}
	return limit
}

func (s *Server) listNews(c *gin.Context) {
	if s.deps.News == nil {
		unavailable(c)
		return
	}
	channel := c.Query("channel")
	sort := c.DefaultQuery("sort", "latest")
	if sort != "latest" && sort != "hot" {
		sort = "latest"
	}

	items, err := s.deps.News.ListNews(c.Request.Context(), channel, sort, queryLimit(c, 20), c.Query("date"))
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": "ok", "message": "success", "data": items})
}

func (s *Server) listDates(c *gin.Context) {
	if s.deps.News == nil {
		unavailable(c)
		return
	}
	dates, err := s.deps.News.ListPublishedDates(c.Request.Context(), c.Query("channel"), queryLimit(c, 31))
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": "ok", "message": "success", "data": dates})
}

func (s *Server) listSnapshots(c *gin.Context) {
	if s.deps.History == nil {
		unavailable(c)
		return
	}
	recs, err := s.deps.History.ListSnapshots(c.Request.Context(), queryLimit(c, 20))
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": "ok", "message": "success", "data": recs})
}

// latestHotlist 读取最新快照，date=YYYY-MM-DD 读取当天归档，platform 只返回一个平台
func (s *Server) latestHotlist(c *gin.Context) {
	date := c.Query("date")
	platform := c.Query("platform")

	snap, err := s.deps.Snapshots.Read(c.Request.Context(), date)
	switch {
	case errors.Is(err, storage.ErrInvalidDate):
		fail(c, http.StatusBadRequest, "invalid_date", err.Error())
		return
	case errors.Is(err, storage.ErrNotFound):
		msg := "no hotlist data available, please wait for the next crawl"
		if date != "" {
			msg = "no hotlist data found for date " + date
		}
		fail(c, http.StatusNotFound, "not_found", msg)
		return
	case err != nil:
		s.internalError(c, err)
		return
	}

	key := storage.LatestSnapshotKey
	if date != "" {
		key = storage.DatedSnapshotKey(date)
	}
	snap = snap.FilterPlatform(platform)
	filterDate, filterPlatform := date, platform
	if filterDate == "" {
		filterDate = "latest"
	}
	if filterPlatform == "" {
		filterPlatform = "all"
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data": gin.H{
			"runId":    snap.RunID,
			"hotlists": snap.Hotlists,
			"articles": snap.Articles,
			"stats":    snap.Stats,
			"filters":  gin.H{"date": filterDate, "platform": filterPlatform},
			"cacheInfo": gin.H{
				"key":       key,
				"updatedAt": snap.Stats.UpdatedAt,
			},
		},
	})
}

func (s *Server) stats(c *gin.Context) {
	data := gin.H{}
	if s.deps.Crawls != nil {
		data["crawl"] = s.deps.Crawls.Stats()
		data["platforms"] = s.deps.Crawls.Platforms()
	}
	if s.deps.Cache != nil {
		data["cache"] = s.deps.Cache.Stats()
	}
	if s.deps.Limiters != nil {
		data["rateLimit"] = s.deps.Limiters.Status()
	}
	if s.deps.Tasks != nil {
		data["queued"] = s.deps.Tasks.Pending()
	}
	c.JSON(http.StatusOK, gin.H{"code": "ok", "message": "success", "data": data})
}

// triggerCrawl 把采集任务放进队列后立即返回 202，body 可选：{"platforms":[...],"skipCache":true}
func (s *Server) triggerCrawl(c *gin.Context) {
	if s.deps.Tasks == nil {
		unavailable(c)
		return
	}
	var req pipeline.Request
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		fail(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	ack := s.deps.Tasks.Trigger(req)
	if !ack.Accepted {
		c.JSON(http.StatusTooManyRequests, gin.H{"code": "queue_full", "message": ack.Reason, "data": ack})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"code": "accepted", "message": "crawl queued", "data": ack})
}

func (s *Server) crawlStatus(c *gin.Context) {
	if s.deps.Tasks == nil {
		unavailable(c)
		return
	}
	st, ok := s.deps.Tasks.Status(c.Param("id"))
	if !ok {
		fail(c, http.StatusNotFound, "not_found", "task not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": "ok", "message": "success", "data": st})
}
