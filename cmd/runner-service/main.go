package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"judgelet/internal/common/cache"
	"judgelet/internal/common/db"
	"judgelet/internal/common/storage"
	"judgelet/internal/judge/controller"
	"judgelet/internal/judge/executor"
	"judgelet/internal/judge/language"
	"judgelet/internal/judge/observer"
	"judgelet/internal/judge/problem"
	"judgelet/internal/judge/sandbox/boxpool"
	"judgelet/internal/judge/sandbox/isolate"
	"judgelet/internal/judge/stream"
	"judgelet/pkg/utils/logger"
)

const defaultConfigPath = "configs/runner_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()
	ctx := context.Background()

	mysqlDB, err := db.New(appCfg.Database)
	if err != nil {
		logger.Error(ctx, "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mysqlDB.Close()
	}()

	var testCache problem.Cache
	if appCfg.Redis.Addr != "" {
		redisCache, err := cache.New(appCfg.Redis)
		if err != nil {
			logger.Error(ctx, "init redis failed", zap.Error(err))
			return
		}
		defer func() {
			_ = redisCache.Close()
		}()
		testCache = redisCache
	}

	var packs problem.PackStorage
	if appCfg.MinIO.Endpoint != "" {
		objStorage, err := storage.New(appCfg.MinIO)
		if err != nil {
			logger.Error(ctx, "init minio failed", zap.Error(err))
			return
		}
		if err := objStorage.EnsureBucket(ctx); err != nil {
			logger.Error(ctx, "ensure bucket failed", zap.Error(err))
			return
		}
		packs = objStorage
	}

	languages := language.NewRegistry()
	if err := languages.Apply(appCfg.Languages); err != nil {
		logger.Error(ctx, "apply language overrides failed", zap.Error(err))
		return
	}

	pool, err := boxpool.New(appCfg.Pool.MinBoxID, appCfg.Pool.MaxBoxID)
	if err != nil {
		logger.Error(ctx, "init box pool failed", zap.Error(err))
		return
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := observer.NewPrometheusRecorder(registry)

	driver := isolate.NewDriver(appCfg.Sandbox)
	exec := executor.New(driver, pool, languages, appCfg.Limits, metrics)
	runner := stream.New(exec, appCfg.Pool.Concurrency, metrics)
	store := problem.NewStore(mysqlDB, testCache, packs, appCfg.Problem.CacheTTL)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), controller.TraceMiddleware())
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	ctrl := controller.NewJudgeController(runner, store, pool, languages)
	ctrl.RegisterRoutes(engine)

	httpServer := &http.Server{
		Addr:        appCfg.Server.Addr,
		Handler:     engine,
		ReadTimeout: appCfg.Server.ReadTimeout,
		IdleTimeout: appCfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "runner http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "http server failed", zap.Error(err))
		}
	case sig := <-quit:
		logger.Info(ctx, "shutting down", zap.String("signal", sig.String()))
		shutdownCtx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error(ctx, "shutdown failed", zap.Error(err))
		}
	}
}
