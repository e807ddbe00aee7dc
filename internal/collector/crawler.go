package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/LJTian/HotlistHub/internal/cache"
	"github.com/LJTian/HotlistHub/internal/logging"
	"github.com/LJTian/HotlistHub/internal/metrics"
	"github.com/LJTian/HotlistHub/internal/ratelimit"
	"github.com/LJTian/HotlistHub/internal/retry"
)

const (
	DefaultCacheTTL = 2 * time.Minute
	DefaultTimeout  = 15 * time.Second
)

// Deps 是所有 Crawler 共享的组件，在 main 中创建一次
type Deps struct {
	Client     *http.Client
	Cache      *cache.Store[[]Item]
	Limiter    *ratelimit.Group
	Retry      *retry.Executor
	Translator *Translator
	Logger     *zap.Logger
	Now        func() time.Time
}

// Crawler 按 Descriptor 中的策略顺序抓取一个数据源
type Crawler struct {
	desc       Descriptor
	strategies []Strategy

	client     *http.Client
	cache      *cache.Store[[]Item]
	limiter    *ratelimit.Group
	retry      *retry.Executor
	translator *Translator
	logger     *zap.Logger
	now        func() time.Time
}

// NewCrawler 校验 Descriptor 并补齐默认值；Cache、Limiter、Translator 为 nil 时对应步骤跳过
func NewCrawler(desc Descriptor, deps Deps) (*Crawler, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if desc.CacheTTL == 0 {
		desc.CacheTTL = DefaultCacheTTL
	}
	if desc.Timeout == 0 {
		desc.Timeout = DefaultTimeout
	}
	if desc.Retry == 0 {
		desc.Retry = retry.DefaultMaxAttempts
	}

	c := &Crawler{
		desc:       desc,
		strategies: desc.Ordered(),
		client:     deps.Client,
		cache:      deps.Cache,
		limiter:    deps.Limiter,
		retry:      deps.Retry,
		translator: deps.Translator,
		logger:     logging.OrNop(deps.Logger).With(zap.String("platform", desc.Platform)),
		now:        deps.Now,
	}
	if c.client == nil {
		c.client = &http.Client{}
	}
	if c.retry == nil {
		c.retry = retry.New(retry.DefaultConfig())
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.retry = c.retry.WithOnRetry(func(attempt, maxAttempts int, delay time.Duration, err error) {
		metrics.ObserveRetry(desc.Platform)
		c.logger.Info("fetch attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	})
	return c, nil
}

func (c *Crawler) Descriptor() Descriptor { return c.desc }

// CacheKey 是该数据源在缓存中的 key
func (c *Crawler) CacheKey() string { return c.desc.Platform + ":hotlist" }

// Fetch 先查缓存，未命中则按优先级逐个尝试策略，第一个返回非空结果的策略胜出并写入缓存。
// 全部失败或为空时返回 ErrAllStrategiesFailed，不写缓存。
func (c *Crawler) Fetch(ctx context.Context, opts FetchOptions) (Result, error) {
	key := c.CacheKey()
	if c.cache != nil && !opts.SkipCache {
		if items, ok := c.cache.Get(ctx, key, c.desc.CacheTTL); ok {
			c.logger.Info("use cached data", zap.Int("count", len(items)))
			return Result{Items: items, Strategy: "cache", FromCache: true}, nil
		}
	}

	c.logger.Info("fetch source", zap.String("name", c.desc.Name))
	var errs []error
	for _, s := range c.strategies {
		items, err := c.tryStrategy(ctx, s)
		if err != nil {
			metrics.ObserveStrategy(c.desc.Platform, s.Name, "error")
			c.logger.Warn("strategy failed", zap.String("strategy", s.Name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if len(items) == 0 {
			metrics.ObserveStrategy(c.desc.Platform, s.Name, "empty")
			c.logger.Warn("strategy returned no items", zap.String("strategy", s.Name))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, errEmptyResult))
			continue
		}

		metrics.ObserveStrategy(c.desc.Platform, s.Name, "ok")
		c.logger.Info("strategy succeeded", zap.String("strategy", s.Name), zap.Int("count", len(items)))
		if c.cache != nil {
			if err := c.cache.Set(ctx, key, items, cache.SetOptions{TTL: c.desc.CacheTTL}); err != nil {
				c.logger.Warn("cache write failed", zap.Error(err))
			}
		}
		return Result{Items: items, Strategy: s.Name}, nil
	}
	return Result{}, fmt.Errorf("%s: %w: %w", c.desc.Platform, ErrAllStrategiesFailed, errors.Join(errs...))
}

// tryStrategy 每次请求前先过限流，单次请求受 Timeout 约束，失败按退避重试
func (c *Crawler) tryStrategy(ctx context.Context, s Strategy) ([]Item, error) {
	raws, err := retry.Do(ctx, c.retry, c.desc.Retry, func(ctx context.Context) ([]RawItem, error) {
		if c.limiter != nil {
			if err := c.limiter.Acquire(ctx, string(s.Type)); err != nil {
				return nil, err
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, c.desc.Timeout)
		defer cancel()
		return c.runStrategy(callCtx, s)
	})
	if err != nil {
		return nil, err
	}

	items, dropped := Normalize(c.desc, raws, c.now())
	if dropped > 0 {
		c.logger.Warn("dropped items without title", zap.String("strategy", s.Name), zap.Int("dropped", dropped))
	}
	if c.translator != nil && c.desc.Translate != TranslateNone {
		c.translator.translateItems(ctx, items, c.desc.Translate)
	}
	return items, nil
}

func (c *Crawler) runStrategy(ctx context.Context, s Strategy) ([]RawItem, error) {
	switch s.Type {
	case StrategyAPI:
		return c.fetchAPI(ctx, s)
	case StrategyRSS:
		return c.fetchFeed(ctx, s)
	case StrategyHTML:
		return c.fetchHTML(ctx, s)
	default:
		return nil, fmt.Errorf("unknown strategy type %q", s.Type)
	}
}
