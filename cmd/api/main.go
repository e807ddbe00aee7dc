package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/LJTian/HotlistHub/internal/api"
	"github.com/LJTian/HotlistHub/internal/bootstrap"
	"github.com/LJTian/HotlistHub/internal/config"
	"github.com/LJTian/HotlistHub/internal/logging"
	"github.com/LJTian/HotlistHub/internal/manager"
	"github.com/LJTian/HotlistHub/internal/metrics"
	"github.com/LJTian/HotlistHub/internal/scheduler"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		return err
	}
	logger, err := logging.New(cfg.LogDev)
	if err != nil {
		_, _ = os.Stderr.WriteString("logger: " + err.Error() + "\n")
		return err
	}
	logger.Info("config loaded", zap.String("port", cfg.AppPort), zap.String("cron", cfg.CronSpec))
	metrics.Init()

	events := logger.Named("events")
	app, err := bootstrap.Build(cfg, logger, bootstrap.Options{
		WithArchive: true,
		Observers: []manager.Observer{manager.ObserverFunc(func(e manager.Event) {
			events.Debug("crawl event",
				zap.String("type", string(e.Type)),
				zap.String("platform", e.Platform),
				zap.Int("count", e.Count),
				zap.String("error", e.Message),
			)
		})},
	})
	if err != nil {
		logger.Error("init components failed", zap.Error(err))
		return err
	}
	defer app.Close()

	sched, err := scheduler.New(cfg.CronSpec, app.Pipeline, logger.Named("scheduler"),
		scheduler.WithQueueSize(cfg.QueueSize),
		scheduler.WithStartupDelay(cfg.StartupDelay),
	)
	if err != nil {
		logger.Error("init scheduler failed", zap.Error(err))
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	sched.Start(ctx)
	defer sched.Stop()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), api.RequestLogger(logger.Named("http")))
	// 配置了访问密码时启用 Basic Auth（/health 仍然免认证）
	if cfg.BasicAuthEnabled() {
		r.Use(api.BasicAuth(cfg.BasicAuthUser, cfg.BasicAuthPass))
	}

	deps := api.Deps{
		Snapshots:  app.Snapshots,
		Tasks:      sched,
		Crawls:     app.Manager,
		Cache:      app.Cache,
		Limiters:   app.Limiters,
		CrawlToken: cfg.CrawlToken,
		Logger:     logger.Named("api"),
	}
	if app.Archive != nil {
		deps.News = app.Archive
		deps.History = app.Archive
	}
	api.NewServer(deps).RegisterRoutes(r)

	srv := &http.Server{Addr: ":" + cfg.AppPort, Handler: r}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting api server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		logger.Error("server exit", zap.Error(err))
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn("server shutdown failed", zap.Error(err))
	}
	return nil
}
