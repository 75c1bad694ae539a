package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"predmarket/internal/aiconfig"
	"predmarket/internal/broker"
	"predmarket/internal/client/chain"
	"predmarket/internal/client/llm"
	"predmarket/internal/config"
	cronrunner "predmarket/internal/cron"
	"predmarket/internal/db"
	"predmarket/internal/handler"
	"predmarket/internal/logger"
	gormrepository "predmarket/internal/repository/gorm"
	"predmarket/internal/service"
	"predmarket/internal/worker"
)

func main() {
	cfgPath := os.Getenv("MP_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("MP_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := gormrepository.New(dbConn.Gorm)

	pipelineBroker := broker.New(cfg.Broker, logger)
	defer pipelineBroker.Close()
	if err := pipelineBroker.EnsureTopology(ctx); err != nil {
		// Lazy reconnect recovers once the broker comes up; until then
		// publishes report not-accepted and get logged.
		logger.Warn("broker topology setup failed (will retry on use)", zap.Error(err))
	}

	cache := aiconfig.NewCache(store, logger)
	if err := cache.Refresh(ctx); err != nil {
		logger.Warn("initial ai config load failed, serving defaults", zap.Error(err))
	}

	limiter := &service.RateLimiter{Repo: store, Config: cache}
	heartbeatSvc := &service.HeartbeatService{Repo: store, Logger: logger}
	if err := heartbeatSvc.EnsureDefaultConfigs(ctx); err != nil {
		logger.Warn("seed worker configs failed", zap.Error(err))
	}
	reviewSvc := &service.ReviewService{Repo: store, Broker: pipelineBroker, Logger: logger}
	disputeSvc := &service.DisputeService{
		Repo:    store,
		Broker:  pipelineBroker,
		Config:  cache,
		Limiter: limiter,
		Logger:  logger,
	}
	proposalSvc := &service.ProposalService{
		Repo:    store,
		Broker:  pipelineBroker,
		Limiter: limiter,
		Logger:  logger,
	}
	configSvc := &service.ConfigService{
		Repo:   store,
		Cache:  cache,
		Broker: pipelineBroker,
		Logger: logger,
	}

	llmHTTP := &http.Client{Timeout: cfg.LLM.Timeout}
	completer := llm.NewClient(llmHTTP, cfg.LLM.BaseURL, cfg.LLM.APIKey)
	chainHTTP := &http.Client{Timeout: cfg.Chain.Timeout}
	chainClient := chain.NewClient(chainHTTP, cfg.Chain.BaseURL, "")

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())
	engine.Use(handler.RequestID())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(engine)
	proposalHandler := &handler.ProposalHandler{
		Repo:      store,
		Review:    reviewSvc,
		Proposals: proposalSvc,
	}
	proposalHandler.Register(engine)
	disputeHandler := &handler.DisputeHandler{Repo: store, Disputes: disputeSvc}
	disputeHandler.Register(engine)
	aiConfigHandler := &handler.AIConfigHandler{Config: configSvc}
	aiConfigHandler.Register(engine)
	workerHandler := &handler.WorkerHandler{Heartbeats: heartbeatSvc}
	workerHandler.Register(engine)
	queueHandler := &handler.QueueHandler{Broker: pipelineBroker}
	queueHandler.Register(engine)
	auditHandler := &handler.AuditLogHandler{Repo: store}
	auditHandler.Register(engine)

	resolver := &worker.Resolver{
		Repo:      store,
		Publisher: pipelineBroker,
		Config:    cache,
		Completer: completer,
		Logger:    logger,
	}

	cronRunner := cronrunner.New(logger, ctx)
	if cfg.Cron.Enabled {
		_, err = cronRunner.Add(cfg.Cron.ResolverScan, func(ctx context.Context) {
			if err := resolver.ScanOnce(ctx); err != nil {
				logger.Warn("resolver scan failed", zap.Error(err))
			}
			if err := resolver.FinalizeDue(ctx); err != nil {
				logger.Warn("resolution finalize pass failed", zap.Error(err))
			}
		})
		if err != nil {
			logger.Warn("cron register resolver scan failed", zap.Error(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	if cfg.Worker.Enabled {
		runner := &worker.Runner{
			InstanceID:        cfg.Worker.InstanceID,
			HeartbeatInterval: cfg.Worker.HeartbeatInterval,
			Broker:            pipelineBroker,
			Config:            cache,
			Heartbeats:        heartbeatSvc,
			Invalidate:        cache.Invalidate,
			Drafter: &worker.Drafter{
				Repo:      store,
				Publisher: pipelineBroker,
				Config:    cache,
				Completer: completer,
				ChainID:   cfg.Chain.ChainID,
				Logger:    logger,
			},
			Validator: &worker.Validator{
				Repo:      store,
				Publisher: pipelineBroker,
				Config:    cache,
				Limiter:   limiter,
				Logger:    logger,
			},
			Publisher: &worker.Publisher{Repo: store, Chain: chainClient, Logger: logger},
			Resolver:  resolver,
			Disputes:  &worker.DisputeWatcher{Repo: store, Logger: logger},
			Logger:    logger,
		}
		go func() {
			if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("worker runner stopped", zap.Error(err))
			}
		}()
	}

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	errCh := make(chan error, 2)

	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,X-Request-ID,X-Admin-User,X-Submitter")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
