// Package ratelimit 实现基于滑动窗口的请求准入控制
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/LJTian/HotlistHub/internal/logging"
	"github.com/LJTian/HotlistHub/internal/metrics"
)

const (
	DefaultLimit  = 60
	DefaultWindow = time.Minute
)

// Status 当前窗口内的使用情况
type Status struct {
	Current   int `json:"current"`
	Limit     int `json:"limit"`
	Available int `json:"available"`
}

// Limiter 保证任意长度为 window 的时间窗口内最多放行 limit 次。
// 放行时间戳按顺序保存，每次 Acquire 先清理窗口外的记录。
type Limiter struct {
	mu     sync.Mutex
	class  string
	limit  int
	window time.Duration
	grants []time.Time

	now    func() time.Time
	sleep  func(context.Context, time.Duration) error
	logger *zap.Logger
}

type Option func(*Limiter)

// WithClock 注入时钟与等待函数，测试用
func WithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
		if sleep != nil {
			l.sleep = sleep
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) { l.logger = logging.OrNop(logger) }
}

func WithClass(class string) Option {
	return func(l *Limiter) { l.class = class }
}

func New(limit int, window time.Duration, opts ...Option) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	l := &Limiter{
		class:  "default",
		limit:  limit,
		window: window,
		now:    time.Now,
		sleep:  sleepCtx,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire 阻塞到可以放行为止。唯一的错误来源是 ctx 被取消。
func (l *Limiter) Acquire(ctx context.Context) error {
	var waited time.Duration
	for {
		l.mu.Lock()
		now := l.now()
		l.purge(now)
		if len(l.grants) < l.limit {
			l.grants = append(l.grants, now)
			l.mu.Unlock()
			metrics.ObserveRateLimitWait(l.class, waited)
			return nil
		}
		wait := l.window - now.Sub(l.grants[0])
		l.mu.Unlock()

		if wait <= 0 {
			continue
		}
		l.logger.Info("rate limit reached, waiting",
			zap.String("class", l.class),
			zap.Duration("wait", wait),
			zap.Int("limit", l.limit),
		)
		if err := l.sleep(ctx, wait); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
		waited += wait
	}
}

// Status 返回窗口内的使用量，不修改内部状态
func (l *Limiter) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	current := 0
	for _, t := range l.grants {
		if now.Sub(t) < l.window {
			current++
		}
	}
	available := l.limit - current
	if available < 0 {
		available = 0
	}
	return Status{Current: current, Limit: l.limit, Available: available}
}

// purge 删除窗口之外的放行记录；grants 有序，只需找到第一个仍在窗口内的位置
func (l *Limiter) purge(now time.Time) {
	i := 0
	for i < len(l.grants) && now.Sub(l.grants[i]) >= l.window {
		i++
	}
	if i > 0 {
		l.grants = append(l.grants[:0], l.grants[i:]...)
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
