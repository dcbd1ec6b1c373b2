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
	"time"

	"codejudge/internal/common/cache"
	commonmw "codejudge/internal/common/http/middleware"
	"codejudge/internal/common/mq"
	"codejudge/internal/judge/controller"
	"codejudge/internal/judge/executor"
	"codejudge/internal/judge/language"
	"codejudge/internal/judge/repository"
	"codejudge/internal/judge/service"
	"codejudge/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/judge_service.yaml"

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

	var runEvents service.RunEventPublisher
	if len(appCfg.Kafka.Brokers) > 0 {
		producer, err := mq.NewKafkaProducer(appCfg.Kafka.toMQConfig())
		if err != nil {
			logger.Error(context.Background(), "init kafka failed", zap.Error(err))
			return
		}
		defer func() {
			_ = producer.Close()
		}()
		pingCtx, cancelPing := context.WithTimeout(context.Background(), 3*time.Second)
		if err := producer.Ping(pingCtx); err != nil {
			logger.Warn(context.Background(), "kafka is not reachable at startup", zap.Strings("brokers", appCfg.Kafka.Brokers), zap.Error(err))
		}
		cancelPing()
		runEvents = repository.NewMQRunEventPublisher(producer, appCfg.Kafka.Topic)
	}

	client := executor.NewClient(appCfg.Executor.toClientConfig(), nil)
	judgeSvc, err := service.NewService(service.Config{
		Executor:        client,
		Registry:        language.NewRegistry(appCfg.Executor.Languages),
		Limits:          appCfg.Executor.limits(),
		Events:          runEvents,
		PollConcurrency: appCfg.Executor.PollConcurrency,
	})
	if err != nil {
		logger.Error(context.Background(), "init judge service failed", zap.Error(err))
		return
	}

	var healthCache cache.Cache
	var submitChain []gin.HandlerFunc
	if appCfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
		if err != nil {
			logger.Error(context.Background(), "init redis failed", zap.Error(err))
			return
		}
		defer func() {
			_ = redisCache.Close()
		}()
		healthCache = redisCache
		if appCfg.RateLimit.IPMax > 0 || appCfg.RateLimit.RouteMax > 0 {
			limiter := service.NewRateLimitService(redisCache, appCfg.RateLimit.Window, appCfg.Redis.ReadTimeout)
			submitChain = append(submitChain, commonmw.RateLimitMiddleware(limiter, "judge:submit", appCfg.RateLimit))
		}
	} else {
		logger.Warn(context.Background(), "redis addr is empty, health probes are not cached")
	}
	healthRepo := repository.NewHealthRepository(healthCache, client, appCfg.Health.TTL, appCfg.Health.UnhealthyTTL)

	if !healthRepo.IsHealthy(context.Background()) {
		logger.Warn(context.Background(), "executor is not reachable at startup", zap.String("base_url", client.Config().BaseURL))
	}

	httpServer := buildHTTPServer(appCfg.Server, controller.NewJudgeController(judgeSvc, client, healthRepo), submitChain)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "judge http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
}

func buildHTTPServer(cfg ServerConfig, judgeController *controller.JudgeController, submitChain []gin.HandlerFunc) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	group := router.Group("/api/v1/judge")
	group.Use(commonmw.ZstdBodyMiddleware(cfg.MaxBodyBytes))
	judgeController.RegisterRoutes(group, submitChain...)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
