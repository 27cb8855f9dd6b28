package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AfshinJalili/stocktrade/libs/health"
	"github.com/AfshinJalili/stocktrade/libs/httpmiddleware"
	"github.com/AfshinJalili/stocktrade/libs/kafka"
	"github.com/AfshinJalili/stocktrade/libs/logging"
	"github.com/AfshinJalili/stocktrade/libs/metrics"
	"github.com/AfshinJalili/stocktrade/libs/rate"
	"github.com/AfshinJalili/stocktrade/libs/trace"
	"github.com/AfshinJalili/stocktrade/services/trading/internal/catalog"
	"github.com/AfshinJalili/stocktrade/services/trading/internal/config"
	"github.com/AfshinJalili/stocktrade/services/trading/internal/consumer"
	"github.com/AfshinJalili/stocktrade/services/trading/internal/handlers"
	"github.com/AfshinJalili/stocktrade/services/trading/internal/service"
	"github.com/AfshinJalili/stocktrade/services/trading/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

var demoBalance = decimal.RequireFromString("10000.00")

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)
	shutdownTracer, err := trace.InitTracer(cfg.App.ServiceName, cfg.App.Env)
	if err != nil {
		logger.Error("tracer init failed", "error", err)
	} else {
		defer func() {
			_ = shutdownTracer(context.Background())
		}()
	}

	if cfg.App.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := metrics.NewRegistry()
	httpMetrics := metrics.NewHTTPMetrics(registry)
	tradeMetrics := service.NewMetrics(registry)
	catalogMetrics := catalog.NewMetrics(registry)

	ready := health.NewManager(false)

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("storage init failed", "driver", cfg.Storage.Driver, "error", err)
		os.Exit(1)
	}
	defer closeStore()
	ready.AddCheck("storage", store.Ping)

	instruments, err := catalog.New(store, catalog.Options{TTL: cfg.Catalog.CacheTTL, MaxCost: cfg.Catalog.CacheMaxCost}, catalogMetrics, logger)
	if err != nil {
		logger.Error("catalog init failed", "error", err)
		os.Exit(1)
	}
	defer instruments.Close()

	tradeService := service.NewTradeService(store, instruments, logger, tradeMetrics)

	consumerCtx, consumerCancel := context.WithCancel(context.Background())
	defer consumerCancel()

	if cfg.Kafka.Enabled {
		producer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers, cfg.App.ServiceName, logger, kafka.NewProducerMetrics(registry))
		if err != nil {
			logger.Error("kafka producer init failed", "error", err)
			os.Exit(1)
		}
		defer producer.Close()

		publisher := kafka.Publisher(producer)
		if cfg.Kafka.Topics.DeadLetter != "" {
			publisher = kafka.NewDLQPublisher(producer, producer, cfg.Kafka.Topics.DeadLetter, logger)
		}
		tradeService.WithEvents(publisher, cfg.Kafka.Topics.TradesExecuted)

		group, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, logger)
		if err != nil {
			logger.Error("kafka consumer init failed", "error", err)
			os.Exit(1)
		}
		group.WithDLQ(producer, cfg.Kafka.Topics.DeadLetter)
		defer group.Close()

		instrumentHandler := consumer.NewInstrumentHandler(instruments, logger)
		go func() {
			logger.Info("instrument consumer starting", "topic", cfg.Kafka.Topics.InstrumentsUpdated)
			if err := group.Consume(consumerCtx, []string{cfg.Kafka.Topics.InstrumentsUpdated}, instrumentHandler); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("kafka consumer error", "error", err)
			}
		}()
	}

	var limiter rate.Limiter
	if cfg.RateLimit.Enabled {
		limiter = buildLimiter(cfg, logger)
	}

	httpServer := buildHTTPServer(cfg, tradeService, limiter, ready, registry, httpMetrics, logger)

	ready.SetReady(true)

	go func() {
		logger.Info("trading http starting", "addr", httpServer.Addr, "storage", cfg.Storage.Driver)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	waitForShutdown(httpServer, ready, consumerCancel, cfg.App.HTTP.ShutdownTimeout, logger)
}

type ledgerStore interface {
	storage.Store
	Ping(ctx context.Context) error
}

func openStore(cfg *config.Config, logger *slog.Logger) (ledgerStore, func(), error) {
	if cfg.Storage.Driver == config.DriverMemory {
		store := storage.NewMemoryStore(cfg.Ledger.BalanceCeiling)
		if err := storage.SeedDemo(context.Background(), store, demoBalance); err != nil {
			return nil, nil, err
		}
		logger.Warn("using in-memory ledger; state is lost on restart")
		return store, func() {}, nil
	}

	pool, err := connectDB(cfg)
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := storage.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return storage.NewPostgresStore(pool, cfg.Ledger.BalanceCeiling, logger), pool.Close, nil
}

func connectDB(cfg *config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return storage.Connect(ctx, cfg.DB.DSN(), cfg.DB.MaxConns)
}

// buildLimiter shares the window through Redis when configured and falls
// back to a per-process limiter otherwise.
func buildLimiter(cfg *config.Config, logger *slog.Logger) rate.Limiter {
	if cfg.Redis.Addr == "" {
		return rate.NewMemory(cfg.RateLimit.Limit, cfg.RateLimit.Window)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, using in-process rate limiter", "addr", cfg.Redis.Addr, "error", err)
		_ = client.Close()
		return rate.NewMemory(cfg.RateLimit.Limit, cfg.RateLimit.Window)
	}
	return rate.NewRedisLimiter(client, cfg.RateLimit.Limit, cfg.RateLimit.Window, "")
}

func buildHTTPServer(cfg *config.Config, svc handlers.TradeService, limiter rate.Limiter, ready *health.Manager, registry *prometheus.Registry, httpMetrics *metrics.HTTPMetrics, logger *slog.Logger) *http.Server {
	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger, httpMetrics))
	router.Use(httpmiddleware.Recovery(logger))
	router.Use(trace.Middleware(cfg.App.ServiceName))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))

	var tradeLimit gin.HandlerFunc
	if limiter != nil {
		tradeLimit = rate.Middleware(limiter, handlers.UserKey, logger)
	}
	handlers.New(svc, logger, cfg.Trading.TradeTimeout).Register(router, []byte(cfg.Auth.JWTSecret), tradeLimit)

	addr := fmt.Sprintf("%s:%d", cfg.App.HTTP.Host, cfg.App.HTTP.Port)
	return &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}
}

func waitForShutdown(httpServer *http.Server, ready *health.Manager, cancel context.CancelFunc, timeout time.Duration, logger *slog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown started")
	ready.SetReady(false)
	cancel()

	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancelTimeout := context.WithTimeout(context.Background(), timeout)
	defer cancelTimeout()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}
