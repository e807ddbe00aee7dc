// Package bootstrap 按配置组装采集流水线的各个组件，cmd/api 和 cmd/collect 共用
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/LJTian/HotlistHub/internal/cache"
	"github.com/LJTian/HotlistHub/internal/collector"
	"github.com/LJTian/HotlistHub/internal/config"
	"github.com/LJTian/HotlistHub/internal/logging"
	"github.com/LJTian/HotlistHub/internal/manager"
	"github.com/LJTian/HotlistHub/internal/pipeline"
	"github.com/LJTian/HotlistHub/internal/ratelimit"
	"github.com/LJTian/HotlistHub/internal/retry"
	"github.com/LJTian/HotlistHub/internal/storage"
)

const redisPingTimeout = 3 * time.Second

// App 持有一次进程生命周期内的所有组件，由 main 创建并显式传递
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Sources []collector.Descriptor

	Redis     *redis.Client
	Cache     *cache.Store[[]collector.Item]
	Limiters  *ratelimit.Group
	Manager   *manager.Manager
	Snapshots *storage.SnapshotWriter
	// Archive 在 POSTGRES_DSN 为空时为 nil
	Archive  *storage.Store
	Pipeline *pipeline.Pipeline
}

type Options struct {
	// WithArchive 为 false 时不连接 PostgreSQL
	WithArchive bool
	Observers   []manager.Observer
}

// Build 依次创建 Redis、缓存、限流、各数据源的抓取器、快照与归档，最后组装流水线
func Build(cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	logger = logging.OrNop(logger)
	app := &App{Config: cfg, Logger: logger}

	sources, err := config.LoadSources(cfg.SourcesFile)
	if err != nil {
		return nil, fmt.Errorf("load sources: %w", err)
	}
	app.Sources = sources

	app.Redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := app.Redis.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping failed", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}

	backend, err := newCacheBackend(cfg, app.Redis)
	if err != nil {
		return nil, err
	}
	app.Cache = cache.New[[]collector.Item](backend, cache.Options{
		MaxMemorySize: cfg.CacheMemorySize,
		Logger:        logger.Named("cache"),
	})
	app.Limiters = ratelimit.NewGroup(cfg.RateLimit, cfg.RateWindow, ratelimit.WithLogger(logger.Named("ratelimit")))

	mopts := []manager.Option{}
	for _, o := range opts.Observers {
		mopts = append(mopts, manager.WithObserver(o))
	}
	app.Manager = manager.New(logger.Named("manager"), mopts...)

	client := &http.Client{}
	deps := collector.Deps{
		Client:     client,
		Cache:      app.Cache,
		Limiter:    app.Limiters,
		Retry:      retry.New(retry.DefaultConfig()),
		Translator: collector.NewTranslator(client, logger.Named("translate")),
		Logger:     logger.Named("collector"),
	}
	for _, d := range sources {
		c, err := collector.NewCrawler(d, deps)
		if err != nil {
			return nil, err
		}
		app.Manager.Register(d.Platform, c)
	}

	kv := storage.NewRedisKV(app.Redis)
	app.Snapshots = storage.NewSnapshotWriter(kv, storage.WithSnapshotTTL(cfg.SnapshotTTL))

	popts := []pipeline.Option{pipeline.WithInterSourceDelay(cfg.InterSourceDelay)}
	if opts.WithArchive && cfg.PostgresDSN != "" {
		store, err := storage.NewStore(cfg.PostgresDSN, kv, logger.Named("storage"))
		if err != nil {
			return nil, fmt.Errorf("init store: %w", err)
		}
		for _, d := range sources {
			if _, err := store.EnsureChannel(d.Platform, d.Name, d.Category, d.Enabled); err != nil {
				return nil, fmt.Errorf("ensure channel %s: %w", d.Platform, err)
			}
		}
		app.Archive = store
		popts = append(popts, pipeline.WithArchiver(store))
	}

	lockTTL := cfg.LockTTL
	app.Pipeline = pipeline.New(app.Manager,
		func() pipeline.Locker { return storage.NewDistributedLock(kv, storage.CrawlLockKey, lockTTL) },
		app.Snapshots, logger.Named("pipeline"), popts...)

	logger.Info("components ready",
		zap.Int("sources", len(sources)),
		zap.String("cache_backend", cfg.CacheBackend),
		zap.Bool("archive", app.Archive != nil),
	)
	return app, nil
}

func newCacheBackend(cfg *config.Config, rdb *redis.Client) (cache.Backend, error) {
	switch cfg.CacheBackend {
	case config.CacheBackendFile:
		b, err := cache.NewFileBackend(cfg.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("init file cache: %w", err)
		}
		return b, nil
	default:
		return cache.NewRedisBackend(rdb, ""), nil
	}
}

func (a *App) Close() {
	if a.Archive != nil {
		if db, err := a.Archive.DB.DB(); err == nil {
			_ = db.Close()
		}
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	_ = a.Logger.Sync()
}
