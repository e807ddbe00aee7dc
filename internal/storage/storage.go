// Package storage 提供 Redis 键值、分布式锁、热榜快照，以及 PostgreSQL 中的文章归档
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/LJTian/HotlistHub/internal/logging"
	"github.com/LJTian/HotlistHub/internal/processor"
)

// Channel 描述一个数据源，例如 weibo / zhihu / github
type Channel struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Code     string `gorm:"size:64;uniqueIndex" json:"code"` // 平台 key
	Name     string `gorm:"size:128" json:"name"`
	Category string `gorm:"size:32;index" json:"category"`
	Status   string `gorm:"size:32;index" json:"status"` // active / disabled

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type News struct {
	ID       string `gorm:"primaryKey;size:40" json:"id"`
	Title    string `gorm:"size:512" json:"title"`
	URL      string `gorm:"size:1024;uniqueIndex" json:"url"`
	Source   string `gorm:"size:64;index" json:"source"` // 平台 key
	Category string `gorm:"size:32;index" json:"category"`
	// 介绍文案在 processor 中已截断到约 200 个字符
	Description   string            `gorm:"size:600" json:"description"`
	PublishedAt   time.Time         `gorm:"index" json:"publishedAt"`
	PublishedDate string            `gorm:"size:10;index" json:"publishedDate"` // 东八区日期 YYYY-MM-DD
	Rank          int               `json:"rank"`
	HotScore      float64           `gorm:"index" json:"hotScore"`
	IsHotlist     bool              `json:"isHotlist"`
	ExtraData     datatypes.JSONMap `gorm:"type:jsonb" json:"extraData"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SnapshotRecord 记录每轮发布的快照统计，完整内容在 Redis
type SnapshotRecord struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	RunID          string         `gorm:"size:36;uniqueIndex" json:"runId"`
	Day            string         `gorm:"size:10;index" json:"day"`
	TotalPlatforms int            `json:"totalPlatforms"`
	Succeeded      int            `json:"succeeded"`
	Failed         int            `json:"failed"`
	TotalItems     int            `json:"totalItems"`
	Articles       int            `json:"articles"`
	Platforms      datatypes.JSON `gorm:"type:jsonb" json:"platforms"`

	CreatedAt time.Time `json:"createdAt"`
}

type Store struct {
	DB     *gorm.DB
	KV     KV
	logger *zap.Logger
}

// NewStore 连接 PostgreSQL 并迁移表结构；kv 可以为 nil，此时列表查询不走缓存
func NewStore(dsn string, kv KV, logger *zap.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&Channel{}, &News{}, &SnapshotRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{DB: db, KV: kv, logger: logging.OrNop(logger)}, nil
}

// EnsureChannel 确保某个渠道存在，并同步名称、分类和启用状态
func (s *Store) EnsureChannel(code, name, category string, enabled bool) (*Channel, error) {
	status := "active"
	if !enabled {
		status = "disabled"
	}
	ch := &Channel{}
	if err := s.DB.Where("code = ?", code).First(ch).Error; err == nil {
		err = s.DB.Model(ch).Updates(map[string]any{"name": name, "category": category, "status": status}).Error
		return ch, err
	}

	ch = &Channel{Code: code, Name: name, Category: category, Status: status}
	if err := s.DB.Create(ch).Error; err != nil {
		return nil, err
	}
	return ch, nil
}

// 东八区，用于日期展示与筛选
var locEast8 *time.Location

func init() {
	locEast8, _ = time.LoadLocation("Asia/Shanghai")
	if locEast8 == nil {
		locEast8 = time.FixedZone("CST", 8*3600)
	}
}

// East8 返回日期归档使用的时区
func East8() *time.Location { return locEast8 }

// toValidUTF8 避免 PostgreSQL invalid byte sequence 错误（部分源可能含 GBK/混编）
func toValidUTF8(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}

// truncateRunesDB 按 rune 数截断，确保不会超过数据库字段长度
func truncateRunesDB(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit])
}

func newsFromArticle(a processor.Article) *News {
	return &News{
		ID:            a.ID,
		Title:         truncateRunesDB(toValidUTF8(a.Title), 512),
		URL:           a.URL,
		Source:        a.Platform,
		Category:      a.Category,
		Description:   truncateRunesDB(toValidUTF8(a.Description), 600),
		PublishedAt:   a.PubDate,
		PublishedDate: a.PubDate.In(locEast8).Format(dateLayout),
		Rank:          a.Rank,
		HotScore:      a.HotScore,
		IsHotlist:     a.IsHotlist,
		ExtraData:     datatypes.JSONMap(a.Extra),
	}
}

// SaveBatch 按 URL 幂等写入；已存在时更新标题、介绍和热度。没有 URL 的条目只在快照里保留。
func (s *Store) SaveBatch(ctx context.Context, items []processor.Article) (int, error) {
	saved := 0
	db := s.DB.WithContext(ctx)
	for _, it := range items {
		if strings.TrimSpace(it.URL) == "" {
			continue
		}
		n := newsFromArticle(it)
		if err := db.Where("url = ?", n.URL).FirstOrCreate(n).Error; err != nil {
			return saved, fmt.Errorf("save news %s: %w", n.URL, err)
		}
		if err := db.Model(n).Updates(map[string]any{
			"title":          n.Title,
			"description":    n.Description,
			"rank":           n.Rank,
			"hot_score":      n.HotScore,
			"published_at":   n.PublishedAt,
			"published_date": n.PublishedDate,
		}).Error; err != nil {
			s.logger.Warn("update news failed", zap.String("url", n.URL), zap.Error(err))
		}
		saved++
	}
	// 不做通配删除，列表缓存依赖短 TTL 自然过期
	return saved, nil
}

func snapshotRecord(snap Snapshot) (*SnapshotRecord, error) {
	platforms, err := json.Marshal(snap.Stats.Platforms)
	if err != nil {
		return nil, err
	}
	return &SnapshotRecord{
		RunID:          snap.RunID,
		Day:            snap.Stats.UpdatedAt.In(locEast8).Format(dateLayout),
		TotalPlatforms: snap.Stats.TotalPlatforms,
		Succeeded:      snap.Stats.Succeeded,
		Failed:         snap.Stats.Failed,
		TotalItems:     snap.Stats.TotalItems,
		Articles:       len(snap.Articles),
		Platforms:      datatypes.JSON(platforms),
	}, nil
}

// Archive 把一轮快照归档到数据库：文章入 news 表，统计入 snapshots 表
func (s *Store) Archive(ctx context.Context, snap Snapshot) error {
	saved, err := s.SaveBatch(ctx, snap.Articles)
	if err != nil {
		return err
	}
	rec, err := snapshotRecord(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot stats: %w", err)
	}
	if err := s.DB.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("save snapshot record: %w", err)
	}
	s.logger.Info("snapshot archived", zap.String("run_id", snap.RunID), zap.Int("news", saved))
	return nil
}

const listCacheTTL = 5 * time.Minute

func (s *Store) cached(ctx context.Context, key string, dst any) bool {
	if s.KV == nil {
		return false
	}
	bs, err := s.KV.Get(ctx, key)
	if err != nil {
		return false
	}
	return json.Unmarshal(bs, dst) == nil
}

func (s *Store) remember(ctx context.Context, key string, v any) {
	if s.KV == nil {
		return
	}
	bs, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.KV.Set(ctx, key, bs, listCacheTTL); err != nil {
		s.logger.Debug("list cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// ListNews 按渠道、排序与可选日期返回归档的文章
// sort: latest(默认) / hot；date: 可选 YYYY-MM-DD
func (s *Store) ListNews(ctx context.Context, channel, sort string, limit int, date string) ([]News, error) {
	if limit <= 0 || limit > 1000 {
		limit = 20
	}
	if sort == "" {
		sort = "latest"
	}

	cacheKey := fmt.Sprintf("news:list:%s:%s:%d:%s", channel, sort, limit, date)
	var list []News
	if s.cached(ctx, cacheKey, &list) {
		return list, nil
	}

	db := s.DB.WithContext(ctx).Model(&News{})
	if date != "" {
		db = db.Where("published_date = ?", date)
	}
	if channel != "" {
		db = db.Where("source = ?", channel)
	}
	switch sort {
	case "hot":
		db = db.Order("hot_score DESC").Order("published_at DESC")
	default:
		db = db.Order("published_at DESC")
	}
	if err := db.Limit(limit).Find(&list).Error; err != nil {
		return nil, err
	}

	if len(list) > 0 {
		s.remember(ctx, cacheKey, list)
	}
	return list, nil
}

// ListPublishedDates 返回有数据的日期列表（倒序），结果缓存 5 分钟
func (s *Store) ListPublishedDates(ctx context.Context, channel string, limit int) ([]string, error) {
	if limit <= 0 || limit > 365 {
		limit = 31
	}
	cacheKey := fmt.Sprintf("news:dates:%s:%d", channel, limit)
	var dates []string
	if s.cached(ctx, cacheKey, &dates) {
		return dates, nil
	}

	q := s.DB.WithContext(ctx).Model(&News{}).
		Distinct("published_date").
		Where("published_date <> ''")
	if channel != "" {
		q = q.Where("source = ?", channel)
	}
	if err := q.Order("published_date DESC").Limit(limit).Pluck("published_date", &dates).Error; err != nil {
		return nil, err
	}
	if len(dates) > 0 {
		s.remember(ctx, cacheKey, dates)
	}
	return dates, nil
}

// ListSnapshots 返回最近的快照记录
func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]SnapshotRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var recs []SnapshotRecord
	err := s.DB.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&recs).Error
	return recs, err
}
