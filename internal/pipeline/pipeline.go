// Package pipeline 执行完整的一轮采集：加锁、抓取所有数据源、与上一次结果合并去重、发布快照
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/LJTian/HotlistHub/internal/logging"
	"github.com/LJTian/HotlistHub/internal/manager"
	"github.com/LJTian/HotlistHub/internal/metrics"
	"github.com/LJTian/HotlistHub/internal/processor"
	"github.com/LJTian/HotlistHub/internal/storage"
)

const (
	unlockTimeout = 5 * time.Second
	// publishTimeout 约束发布阶段的每一步（读取当天快照、写快照、归档）
	publishTimeout = 30 * time.Second
)

type Crawler interface {
	CrawlAll(ctx context.Context, platforms []string, opts manager.CrawlOptions) *manager.RunResult
}

// Locker 是一轮运行的互斥锁；运行期间每 TTL/3 调用一次 Extend 续期
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
	Extend(ctx context.Context) error
	TTL() time.Duration
}

type SnapshotStore interface {
	Write(ctx context.Context, snap storage.Snapshot) error
	// Prior 返回 at 当天已发布的快照
	Prior(ctx context.Context, at time.Time) (*storage.Snapshot, error)
}

// Archiver 把快照归档到长期存储；失败只记录日志，不影响本轮结果
type Archiver interface {
	Archive(ctx context.Context, snap storage.Snapshot) error
}

// Request 描述一次运行的参数；Platforms 为空表示全部已注册平台
type Request struct {
	Platforms []string `json:"platforms,omitempty"`
	SkipCache bool     `json:"skipCache,omitempty"`
}

// Outcome 是一次运行的结果。拿不到锁时 Skipped 为 true，Run 为 nil。
type Outcome struct {
	Skipped  bool                   `json:"skipped"`
	Run      *manager.RunResult     `json:"run,omitempty"`
	Snapshot *storage.Snapshot      `json:"-"`
	Articles int                    `json:"articles"`
	Elapsed  time.Duration          `json:"elapsed"`
	Stats    *storage.SnapshotStats `json:"stats,omitempty"`
}

type Option func(*Pipeline)

func WithArchiver(a Archiver) Option {
	return func(p *Pipeline) { p.archiver = a }
}

func WithInterSourceDelay(d time.Duration) Option {
	return func(p *Pipeline) { p.delay = d }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
		p.merger = p.merger.WithClock(now)
	}
}

type Pipeline struct {
	crawler  Crawler
	newLock  func() Locker
	snaps    SnapshotStore
	archiver Archiver
	merger   *processor.Merger
	delay    time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// New 创建流水线；newLock 每次运行调用一次，返回的锁只用于该次运行
func New(crawler Crawler, newLock func() Locker, snaps SnapshotStore, logger *zap.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		crawler: crawler,
		newLock: newLock,
		snaps:   snaps,
		merger:  processor.NewMerger(),
		now:     time.Now,
		logger:  logging.OrNop(logger),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run 执行一轮采集。另一个实例持有锁时直接返回 Skipped，不算错误；
// 部分数据源失败时仍然发布快照，失败情况记录在快照统计里。
func (p *Pipeline) Run(ctx context.Context, req Request) (Outcome, error) {
	start := p.now()
	lock := p.newLock()
	ok, err := lock.TryLock(ctx)
	if err != nil {
		metrics.ObserveRun("failed", 0)
		return Outcome{}, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		p.logger.Info("another run is in progress, skipping")
		metrics.ObserveRun("skipped", 0)
		return Outcome{Skipped: true}, nil
	}
	defer func() {
		uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unlockTimeout)
		defer cancel()
		if err := lock.Unlock(uctx); err != nil {
			p.logger.Warn("release run lock failed", zap.Error(err))
		}
	}()
	stopHeartbeat := p.keepLock(ctx, lock)
	defer stopHeartbeat()

	run := p.crawler.CrawlAll(ctx, req.Platforms, manager.CrawlOptions{
		InterSourceDelay: p.delay,
		SkipCache:        req.SkipCache,
	})
	if err := ctx.Err(); err != nil {
		p.logger.Warn("run interrupted, publishing what was collected", zap.String("run_id", run.ID), zap.Error(err))
	}

	// 抓取阶段被取消（超时或停机）时，已成功的数据源仍然要发布
	pub := context.WithoutCancel(ctx)
	now := p.now()

	var prior []processor.Article
	pctx, cancel := context.WithTimeout(pub, publishTimeout)
	snapPrior, err := p.snaps.Prior(pctx, now)
	cancel()
	if err == nil {
		prior = snapPrior.Articles
	} else if !errors.Is(err, storage.ErrNotFound) {
		p.logger.Warn("load prior snapshot failed, merging current run only", zap.Error(err))
	}

	merged := p.merger.DedupAndMerge(processor.HotlistToArticles(run.Items()), prior)
	snap := BuildSnapshot(run, merged, now)
	wctx, cancel := context.WithTimeout(pub, publishTimeout)
	err = p.snaps.Write(wctx, snap)
	cancel()
	if err != nil {
		metrics.ObserveRun("failed", p.now().Sub(start))
		return Outcome{Run: run}, fmt.Errorf("write snapshot: %w", err)
	}
	if p.archiver != nil {
		actx, cancel := context.WithTimeout(pub, publishTimeout)
		if err := p.archiver.Archive(actx, snap); err != nil {
			p.logger.Warn("archive snapshot failed", zap.String("run_id", run.ID), zap.Error(err))
		}
		cancel()
	}

	elapsed := p.now().Sub(start)
	metrics.SetSnapshotItems(len(merged))
	metrics.ObserveRun("completed", elapsed)
	p.logger.Info("snapshot published",
		zap.String("run_id", run.ID),
		zap.Int("platforms", snap.Stats.TotalPlatforms),
		zap.Int("failed", snap.Stats.Failed),
		zap.Int("items", snap.Stats.TotalItems),
		zap.Int("articles", len(merged)),
		zap.Duration("elapsed", elapsed),
	)
	return Outcome{
		Run:      run,
		Snapshot: &snap,
		Articles: len(merged),
		Elapsed:  elapsed,
		Stats:    &snap.Stats,
	}, nil
}

// keepLock 在后台按 TTL/3 续期运行锁，返回的函数停止续期并等待后台 goroutine 退出。
// 续期失败说明锁已丢失，只记录日志，本轮照常结束。
func (p *Pipeline) keepLock(ctx context.Context, lock Locker) func() {
	interval := lock.TTL() / 3
	if interval <= 0 {
		return func() {}
	}
	hctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-hctx.Done():
				return
			case <-ticker.C:
				ectx, ecancel := context.WithTimeout(hctx, unlockTimeout)
				err := lock.Extend(ectx)
				ecancel()
				if err != nil {
					p.logger.Warn("extend run lock failed", zap.Error(err))
					if errors.Is(err, storage.ErrLockNotHeld) {
						return
					}
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
