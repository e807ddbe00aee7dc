// Package retry 提供带指数退避的重试执行器
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultMaxAttempts   = 3
	DefaultInitialDelay  = time.Second
	DefaultMaxDelay      = 10 * time.Second
	DefaultBackoffFactor = 2.0
)

// RetryFunc 在每次等待前调用，仅用于日志/指标，不影响重试决策
type RetryFunc func(attempt, maxAttempts int, delay time.Duration, err error)

type Config struct {
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	OnRetry       RetryFunc
}

func DefaultConfig() Config {
	return Config{
		InitialDelay:  DefaultInitialDelay,
		MaxDelay:      DefaultMaxDelay,
		BackoffFactor: DefaultBackoffFactor,
	}
}

// Executor 第 n 次失败后等待 min(InitialDelay × BackoffFactor^(n-1), MaxDelay)
type Executor struct {
	cfg   Config
	sleep func(context.Context, time.Duration) error
}

func New(cfg Config) *Executor {
	def := DefaultConfig()
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = def.BackoffFactor
	}
	return &Executor{cfg: cfg, sleep: sleepCtx}
}

// WithSleep 替换等待函数，测试里用来跳过真实等待
func (e *Executor) WithSleep(sleep func(context.Context, time.Duration) error) *Executor {
	cp := *e
	if sleep != nil {
		cp.sleep = sleep
	}
	return &cp
}

// WithOnRetry 返回一个带额外观察钩子的副本，原有钩子仍会被调用
func (e *Executor) WithOnRetry(fn RetryFunc) *Executor {
	cp := *e
	prev := e.cfg.OnRetry
	cp.cfg.OnRetry = func(attempt, maxAttempts int, delay time.Duration, err error) {
		if prev != nil {
			prev(attempt, maxAttempts, delay, err)
		}
		if fn != nil {
			fn(attempt, maxAttempts, delay, err)
		}
	}
	return &cp
}

// Delay 返回第 attempt 次失败之后的等待时长（attempt 从 1 开始）
func (e *Executor) Delay(attempt int) time.Duration {
	b := e.newBackOff()
	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return e.capped(d)
}

// Execute 调用 op，失败则按退避策略重试，最多 maxAttempts 次；
// 最后一次失败时原样返回 op 的错误。op 必须可以安全地重复执行。
func (e *Executor) Execute(ctx context.Context, maxAttempts int, op func(context.Context) error) error {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	b := e.newBackOff()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("retry aborted after %d attempts: %w", attempt-1, errors.Join(err, lastErr))
			}
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}

		delay := e.capped(b.NextBackOff())
		if e.cfg.OnRetry != nil {
			e.cfg.OnRetry(attempt, maxAttempts, delay, lastErr)
		}
		if err := e.sleep(ctx, delay); err != nil {
			return fmt.Errorf("retry aborted after %d attempts: %w", attempt, errors.Join(err, lastErr))
		}
	}
	return lastErr
}

// Do 是 Execute 的泛型版本，返回 op 成功时的结果
func Do[T any](ctx context.Context, e *Executor, maxAttempts int, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := e.Execute(ctx, maxAttempts, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (e *Executor) newBackOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     e.cfg.InitialDelay,
		RandomizationFactor: 0,
		Multiplier:          e.cfg.BackoffFactor,
		MaxInterval:         e.cfg.MaxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

func (e *Executor) capped(d time.Duration) time.Duration {
	if d > e.cfg.MaxDelay || d < 0 {
		return e.cfg.MaxDelay
	}
	return d
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
