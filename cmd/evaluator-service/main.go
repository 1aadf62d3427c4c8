package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"nodeo/internal/common/cache"
	"nodeo/internal/common/db"
	commonmw "nodeo/internal/common/http/middleware"
	"nodeo/internal/common/mq"
	"nodeo/internal/common/storage"
	"nodeo/internal/evaluator/challenge"
	"nodeo/internal/evaluator/controller"
	"nodeo/internal/evaluator/judge"
	"nodeo/internal/evaluator/repository"
	"nodeo/internal/evaluator/runner"
	"nodeo/internal/evaluator/service"
	"nodeo/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/evaluator_service.yaml"

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

	mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
	if err != nil {
		logger.Error(ctx, "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mysqlDB.Close()
	}()
	historyRepo := repository.NewHistoryRepository(db.NewStaticProvider(mysqlDB))
	if err := historyRepo.EnsureSchema(ctx); err != nil {
		logger.Error(ctx, "ensure history schema failed", zap.Error(err))
		return
	}

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		logger.Error(ctx, "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	mqClient, err := mq.NewKafkaQueue(appCfg.Kafka.toMQConfig())
	if err != nil {
		logger.Error(ctx, "init kafka failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mqClient.Close()
	}()

	objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
	if err != nil {
		logger.Error(ctx, "init minio failed", zap.Error(err))
		return
	}
	if err := objStorage.EnsureBucket(ctx, appCfg.Run.SourceBucket); err != nil {
		logger.Error(ctx, "ensure source bucket failed", zap.Error(err))
		return
	}
	sourceStore, err := repository.NewSourceStore(objStorage, appCfg.Run.SourceBucket)
	if err != nil {
		logger.Error(ctx, "init source store failed", zap.Error(err))
		return
	}
	defer sourceStore.Close()

	adapter, err := judge.NewAdapterFromConfig(appCfg.Judge)
	if err != nil {
		logger.Error(ctx, "init judge failed", zap.Error(err))
		return
	}
	table := runner.NewTable(runner.LocalLanguages(appCfg.Runner.LocalLanguages), judge.NewLanguageTable(appCfg.Judge.Languages))
	evalRunner, err := runner.New(table, adapter, appCfg.Runner)
	if err != nil {
		logger.Error(ctx, "init runner failed", zap.Error(err))
		return
	}

	var challenges service.ChallengeSource
	if appCfg.Run.ChallengesDir != "" {
		loader, err := challenge.LoadDir(ctx, appCfg.Run.ChallengesDir)
		if err != nil {
			logger.Error(ctx, "load challenges failed", zap.Error(err))
			return
		}
		challenges = loader
	}

	publisher := repository.NewMQStatusEventPublisher(mqClient, appCfg.Topics.StatusFinal)
	statusRepo := repository.NewStatusRepository(redisCache, appCfg.Status.TTL, publisher)

	evalService, err := service.New(service.Config{
		Runner:         evalRunner,
		StatusRepo:     statusRepo,
		History:        historyRepo,
		Sources:        sourceStore,
		Challenges:     challenges,
		Cache:          redisCache,
		Queue:          mqClient,
		RunTopic:       appCfg.Topics.Run,
		MaxCodeBytes:   appCfg.Run.MaxCodeBytes,
		WorkerPoolSize: appCfg.Worker.PoolSize,
		WorkerTimeout:  appCfg.Worker.Timeout,
		StatusTTL:      appCfg.Status.TTL,
		EmptyTTL:       appCfg.Status.EmptyTTL,
		LockTTL:        appCfg.Worker.LockTTL,
		IdempotencyTTL: appCfg.Run.IdempotencyTTL,
		Timeouts:       appCfg.Timeouts,
	})
	if err != nil {
		logger.Error(ctx, "init evaluator service failed", zap.Error(err))
		return
	}

	runOpts := appCfg.Worker.Consumer.toSubscribeOptions()
	if err := mqClient.SubscribeWithOptions(ctx, appCfg.Topics.Run, evalService.HandleMessage, &runOpts); err != nil {
		logger.Error(ctx, "subscribe run topic failed", zap.Error(err))
		return
	}
	finalOpts := appCfg.Status.FinalConsumer.toSubscribeOptions()
	if err := mqClient.SubscribeWithOptions(ctx, appCfg.Topics.StatusFinal, evalService.HandleFinalStatusMessage, &finalOpts); err != nil {
		logger.Error(ctx, "subscribe status final topic failed", zap.Error(err))
		return
	}
	if err := mqClient.Start(); err != nil {
		logger.Error(ctx, "start kafka consumer failed", zap.Error(err))
		return
	}

	limiter := commonmw.NewRateLimiter(redisCache, appCfg.Server.RateLimit.Window, appCfg.Timeouts.Cache)
	httpServer := buildHTTPServer(appCfg.Server, evalService, limiter)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(ctx, "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "evaluator http server started",
			zap.String("addr", appCfg.Server.Addr),
			zap.Int("languages", len(evalService.Languages())),
		)
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	ctxShutdown, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	_ = mqClient.Stop()
}

func buildHTTPServer(cfg ServerConfig, evalService *service.Service, limiter *commonmw.RateLimiter) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.CORSMiddleware(cfg.CORS))
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.RequestLogger())

	controller.NewRunController(evalService, cfg.WatchInterval).
		RegisterRoutes(router, commonmw.RateLimitMiddleware(limiter, "runs", cfg.RateLimit))

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}
