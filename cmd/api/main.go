package main

import (
	"context"
	"errors"
	"log"
	nethttp "net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/joho/godotenv"
	"github.com/kristianrpo/connectivity-microservice/internal/auth"
	"github.com/kristianrpo/connectivity-microservice/internal/centralizer"
	"github.com/kristianrpo/connectivity-microservice/internal/metrics"
	"github.com/kristianrpo/connectivity-microservice/internal/service"
	"github.com/kristianrpo/connectivity-microservice/internal/transport/http"
	"github.com/kristianrpo/connectivity-microservice/internal/transport/http/handler"
	"github.com/kristianrpo/connectivity-microservice/pkg/config"
	"github.com/kristianrpo/connectivity-microservice/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const serviceName = "connectivity-api"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println(".env not found, using system envs")
	}

	cfg := config.MustLoad()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := config.NewLogger(cfg.LoggerConfig(serviceName))
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	tp, err := utils.InitTracer(ctx, serviceName, cfg.Tracing.Endpoint, cfg.Env, cfg.Tracing.Enabled)
	if err != nil {
		logger.Fatal("Failed to init tracer", zap.Error(err))
	}

	reg := metrics.NewRegistry()
	m := metrics.New(reg)

	metricsServer := &nethttp.Server{
		Addr:              cfg.Metrics.Port,
		Handler:           metricsMux(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Metrics server is listening", zap.String("addr", cfg.Metrics.Port))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			logger.Error("Metrics serving failed", zap.Error(err))
		}
	}()

	validator, err := auth.NewValidator(cfg.Auth.JWTSecret, cfg.Auth.JWTAlgorithm)
	if err != nil {
		logger.Fatal("Failed to create token validator", zap.Error(err))
	}

	client := centralizer.NewClient(centralizer.ConfigFrom(cfg.Centralizer), logger, m)

	lookup := service.NewLookupService(client, logger)

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr: cfg.Redis.Addr,
		})

		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("Failed to connect to redis", zap.Error(err))
		}

		lookup = service.NewCachedLookupService(lookup, rdb, cfg.Redis.TTL, logger)
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTP.Timeout,
		WriteTimeout: cfg.HTTP.Timeout,
	})

	app.Use(otelfiber.Middleware())

	app.Use(limiter.New(limiter.Config{
		Max:        20,
		Expiration: 5 * time.Second,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests. Try again later.",
			})
		},
	}))

	var router fiber.Router = app
	if cfg.HTTP.BasePath != "" {
		router = app.Group(cfg.HTTP.BasePath)
	}

	handlers := &http.Handlers{
		Citizen: handler.NewCitizenHandler(lookup, m, logger),
	}

	http.RegisterRoutes(router, handlers, validator, logger)

	go func() {
		logger.Info("HTTP service listening", zap.String("addr", cfg.HTTP.Port))
		if err := app.Listen(cfg.HTTP.Port); err != nil {
			logger.Fatal("Error listening on HTTP port", zap.String("addr", cfg.HTTP.Port), zap.Error(err))
		}
	}()

	<-ctx.Done()

	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("Error shutting down HTTP app", zap.Error(err))
	}

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down metrics server", zap.Error(err))
	}

	if rdb != nil {
		if err := rdb.Close(); err != nil {
			logger.Error("Error closing redis client", zap.Error(err))
		}
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down telemetry", zap.Error(err))
	}
}

func metricsMux(reg *prometheus.Registry) *nethttp.ServeMux {
	mux := nethttp.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	return mux
}
