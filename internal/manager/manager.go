// Package manager 注册和调度所有数据源：串行抓取、统计成功/失败，并通知观察者
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/LJTian/HotlistHub/internal/collector"
	"github.com/LJTian/HotlistHub/internal/logging"
	"github.com/LJTian/HotlistHub/internal/metrics"
)

var (
	ErrNotRegistered = errors.New("platform not registered")
	ErrDisabled      = errors.New("platform disabled")
)

// Stats 是跨多次运行累计的计数，ResetStats 之前一直累加
type Stats struct {
	Total       int64   `json:"total"`
	Success     int64   `json:"success"`
	Failed      int64   `json:"failed"`
	Skipped     int64   `json:"skipped"`
	SuccessRate float64 `json:"successRate"`
	Platforms   int     `json:"platforms"`
}

type CrawlOptions struct {
	// InterSourceDelay 两个数据源之间的等待，对提供方保持礼貌
	InterSourceDelay time.Duration
	SkipCache        bool
}

type Option func(*Manager)

func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observers = append(m.observers, o) }
}

// WithSleep 替换源间等待函数，测试用
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(m *Manager) { m.sleep = sleep }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager 持有所有数据源。在 main 中创建一次并显式传递，不使用全局单例。
type Manager struct {
	mu        sync.RWMutex
	fetchers  map[string]collector.Fetcher
	order     []string
	observers []Observer
	stats     Stats

	logger *zap.Logger
	sleep  func(context.Context, time.Duration) error
	now    func() time.Time
}

func New(logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		fetchers: make(map[string]collector.Fetcher),
		logger:   logging.OrNop(logger),
		sleep:    sleepCtx,
		now:      time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Register 注册一个数据源；同名平台已存在时覆盖并记录警告，保留原来的顺序位置
func (m *Manager) Register(platform string, f collector.Fetcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.fetchers[platform]; ok {
		m.logger.Warn("platform already registered, overwriting", zap.String("platform", platform))
	} else {
		m.order = append(m.order, platform)
	}
	m.fetchers[platform] = f
	m.logger.Info("platform registered", zap.String("platform", platform))
}

func (m *Manager) Get(platform string) (collector.Fetcher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.fetchers[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, platform)
	}
	return f, nil
}

// Platforms 按注册顺序返回所有平台
func (m *Manager) Platforms() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// CrawlOne 执行单个数据源并更新统计。禁用的数据源计入 skipped，返回 ErrDisabled。
func (m *Manager) CrawlOne(ctx context.Context, platform string, opts CrawlOptions) (Outcome, error) {
	out := Outcome{Platform: platform}
	f, err := m.Get(platform)
	if err != nil {
		out.setErr(err)
		return out, err
	}
	desc := f.Descriptor()
	out.Name = desc.Name
	out.Category = desc.Category
	if !desc.Enabled {
		m.mu.Lock()
		m.stats.Skipped++
		m.mu.Unlock()
		out.Skipped = true
		m.logger.Info("platform disabled, skipping", zap.String("platform", platform))
		return out, fmt.Errorf("%w: %s", ErrDisabled, platform)
	}

	m.notify(Event{Type: EventStart, Platform: platform, At: m.now()})
	m.mu.Lock()
	m.stats.Total++
	m.mu.Unlock()

	start := m.now()
	res, err := f.Fetch(ctx, collector.FetchOptions{SkipCache: opts.SkipCache})
	out.Elapsed = m.now().Sub(start)
	if err != nil {
		m.mu.Lock()
		m.stats.Failed++
		m.mu.Unlock()
		out.setErr(err)
		metrics.ObserveCrawl(platform, "error", 0)
		m.notify(Event{Type: EventError, Platform: platform, Err: err, Message: err.Error(), At: m.now()})
		return out, err
	}

	m.mu.Lock()
	m.stats.Success++
	m.mu.Unlock()
	out.Success = true
	out.Count = len(res.Items)
	out.Strategy = res.Strategy
	out.FromCache = res.FromCache
	out.Items = res.Items
	metrics.ObserveCrawl(platform, "success", len(res.Items))
	m.notify(Event{Type: EventSuccess, Platform: platform, Count: len(res.Items), Strategy: res.Strategy, At: m.now()})
	return out, nil
}

// CrawlAll 依次抓取 platforms（为空时抓取全部已注册平台）。
// 单个数据源失败不会中断整轮，只在结果中标记；只有 ctx 取消会提前结束。
func (m *Manager) CrawlAll(ctx context.Context, platforms []string, opts CrawlOptions) *RunResult {
	if len(platforms) == 0 {
		platforms = m.Platforms()
	}
	run := &RunResult{
		ID:        uuid.NewString(),
		StartedAt: m.now(),
		Outcomes:  make([]Outcome, 0, len(platforms)),
	}
	m.logger.Info("crawl run started", zap.String("run_id", run.ID), zap.Int("platforms", len(platforms)))

	for i, p := range platforms {
		if err := ctx.Err(); err != nil {
			out := Outcome{Platform: p}
			out.setErr(err)
			run.Outcomes = append(run.Outcomes, out)
			continue
		}
		out, err := m.CrawlOne(ctx, p, opts)
		if err != nil && !out.Skipped {
			m.logger.Warn("platform crawl failed", zap.String("platform", p), zap.Error(err))
		}
		run.Outcomes = append(run.Outcomes, out)

		if opts.InterSourceDelay > 0 && i < len(platforms)-1 && !out.Skipped {
			if err := m.sleep(ctx, opts.InterSourceDelay); err != nil {
				m.logger.Warn("inter-source delay interrupted", zap.Error(err))
			}
		}
	}

	run.Elapsed = m.now().Sub(run.StartedAt)
	m.logSummary(run)
	return run
}

// CrawlByCategory 只抓取 category 匹配的平台
func (m *Manager) CrawlByCategory(ctx context.Context, category string, opts CrawlOptions) *RunResult {
	m.mu.RLock()
	var platforms []string
	for _, p := range m.order {
		if m.fetchers[p].Descriptor().Category == category {
			platforms = append(platforms, p)
		}
	}
	m.mu.RUnlock()
	if len(platforms) == 0 {
		return &RunResult{ID: uuid.NewString(), StartedAt: m.now()}
	}
	return m.CrawlAll(ctx, platforms, opts)
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := m.stats
	st.Platforms = len(m.fetchers)
	if st.Total > 0 {
		st.SuccessRate = float64(st.Success) / float64(st.Total) * 100
	}
	return st
}

func (m *Manager) ResetStats() {
	m.mu.Lock()
	m.stats = Stats{}
	m.mu.Unlock()
}

func (m *Manager) logSummary(run *RunResult) {
	st := m.Stats()
	m.logger.Info("crawl run finished",
		zap.String("run_id", run.ID),
		zap.Int("succeeded", run.Succeeded()),
		zap.Int("failed", run.Failed()),
		zap.Int("skipped", run.Skipped()),
		zap.Int("items", len(run.Items())),
		zap.Duration("elapsed", run.Elapsed),
		zap.Int64("total", st.Total),
		zap.String("success_rate", fmt.Sprintf("%.2f%%", st.SuccessRate)),
	)
}

func (m *Manager) notify(e Event) {
	m.mu.RLock()
	obs := m.observers
	m.mu.RUnlock()
	for _, o := range obs {
		o.OnEvent(e)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
