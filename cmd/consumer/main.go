package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kristianrpo/connectivity-microservice/internal/centralizer"
	"github.com/kristianrpo/connectivity-microservice/internal/domain"
	"github.com/kristianrpo/connectivity-microservice/internal/metrics"
	"github.com/kristianrpo/connectivity-microservice/internal/publisher"
	"github.com/kristianrpo/connectivity-microservice/internal/repository"
	"github.com/kristianrpo/connectivity-microservice/internal/service"
	transport "github.com/kristianrpo/connectivity-microservice/internal/transport/broker"
	"github.com/kristianrpo/connectivity-microservice/internal/worker"
	"github.com/kristianrpo/connectivity-microservice/pkg/broker"
	"github.com/kristianrpo/connectivity-microservice/pkg/config"
	"github.com/kristianrpo/connectivity-microservice/pkg/db"
	"github.com/kristianrpo/connectivity-microservice/pkg/kafka"
	"github.com/kristianrpo/connectivity-microservice/pkg/rabbitmq"
	"github.com/kristianrpo/connectivity-microservice/pkg/utils"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const serviceName = "connectivity-consumer"

const (
	pipelineAll          = "all"
	pipelineRegistration = "registration"
	pipelineDocument     = "document"
)

func main() {
	pipeline := pflag.String("pipeline", pipelineAll, "pipeline to consume: registration, document or all")
	routingKey := pflag.String("routing-key", "", "override the inbound routing key of a single pipeline")
	pflag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println(".env not found, using system envs")
	}

	cfg := config.MustLoad()

	if err := applyFlags(&cfg.Pipelines, *pipeline, *routingKey); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

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

	mux := nethttp.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	metricsServer := &nethttp.Server{
		Addr:              cfg.Metrics.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Metrics server is listening", zap.String("addr", cfg.Metrics.Port))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			logger.Error("Metrics serving failed", zap.Error(err))
		}
	}()

	if cfg.Postgres.AutoMigrate {
		if err := db.Migrate(cfg.Postgres.URL); err != nil {
			logger.Fatal("Failed to apply migrations", zap.Error(err))
		}
	}

	pool, err := db.NewPostgresDB(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal("Failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	repo := repository.NewTraceRepository(pool, logger)
	client := centralizer.NewClient(centralizer.ConfigFrom(cfg.Centralizer), logger, m)

	out, err := newPublisher(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create publisher", zap.Error(err))
	}
	defer func() {
		if err := out.Close(); err != nil {
			logger.Error("Error closing publisher", zap.Error(err))
		}
	}()

	results := publisher.NewResultPublisher(out, repo, logger)
	republish := cfg.Pipelines.PublishFailure == config.PublishFailureRequeue

	registration := service.NewRegistrationService(repo, client, results, service.PipelineConfig{
		ResultRoutingKey:     cfg.Pipelines.Registration.ResultRoutingKey,
		RepublishUnpublished: republish,
	}, logger)

	document := service.NewDocumentService(repo, client, results, service.PipelineConfig{
		ResultRoutingKey:     cfg.Pipelines.Document.ResultRoutingKey,
		RepublishUnpublished: republish,
	}, logger)

	dispatcher := transport.NewDispatcher(registration, document, cfg.Pipelines.PublishFailure, m, logger)
	routes := dispatcher.Routes(
		cfg.Pipelines,
		*pipeline != pipelineDocument,
		*pipeline != pipelineRegistration,
	)

	consumer, err := newConsumer(cfg, routes, logger)
	if err != nil {
		logger.Fatal("Failed to create consumer", zap.Error(err))
	}

	logger.Info("Consumer started",
		zap.String("driver", cfg.Broker.Driver),
		zap.String("pipeline", *pipeline),
		zap.String("publish_failure", cfg.Pipelines.PublishFailure),
	)

	if cfg.Relay.Enabled {
		relay := worker.NewResultRelay(repo, results, worker.RelayConfig{
			Interval:    cfg.Relay.Interval,
			BatchSize:   cfg.Relay.BatchSize,
			GracePeriod: cfg.Relay.GracePeriod,
			RoutingKeys: map[domain.EventType]string{
				domain.EventCitizenRegistration:    cfg.Pipelines.Registration.ResultRoutingKey,
				domain.EventDocumentAuthentication: cfg.Pipelines.Document.ResultRoutingKey,
			},
		}, logger)

		go relay.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- consumer.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down gracefully...")
		// Run returns after the in-flight delivery is settled
		if err := <-errCh; err != nil {
			logger.Error("Consumer stopped with error", zap.Error(err))
		}
	case err := <-errCh:
		if err != nil {
			logger.Error("Consumer stopped with error", zap.Error(err))
		}
	}

	if err := consumer.Close(); err != nil {
		logger.Error("Error closing consumer", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down metrics server", zap.Error(err))
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down telemetry", zap.Error(err))
	}
}

func applyFlags(p *config.Pipelines, pipeline, routingKey string) error {
	switch pipeline {
	case pipelineAll, pipelineRegistration, pipelineDocument:
	default:
		return fmt.Errorf("unknown pipeline %q", pipeline)
	}

	if routingKey == "" {
		return nil
	}

	switch pipeline {
	case pipelineRegistration:
		p.Registration.RoutingKey = routingKey
		p.Registration.Queue = routingKey
	case pipelineDocument:
		p.Document.RoutingKey = routingKey
		p.Document.Queue = routingKey
	default:
		return errors.New("--routing-key needs --pipeline registration or document")
	}

	return nil
}

func newPublisher(cfg *config.Config, logger *zap.Logger) (broker.Publisher, error) {
	if cfg.Broker.Driver == config.DriverKafka {
		return kafka.NewProducer(cfg.Broker.KafkaBrokers, logger)
	}

	return rabbitmq.NewPublisher(rabbitConfig(cfg, serviceName+"-publisher"), logger)
}

func newConsumer(cfg *config.Config, routes []broker.Route, logger *zap.Logger) (broker.Consumer, error) {
	if cfg.Broker.Driver == config.DriverKafka {
		return kafka.NewConsumerGroup(kafka.Config{
			Brokers:         cfg.Broker.KafkaBrokers,
			GroupID:         cfg.Broker.KafkaGroupID,
			DeadLetterTopic: cfg.Broker.KafkaDeadLetter,
		}, routes, logger)
	}

	return rabbitmq.NewConsumer(rabbitConfig(cfg, serviceName), routes, logger), nil
}

func rabbitConfig(cfg *config.Config, name string) rabbitmq.Config {
	return rabbitmq.Config{
		URL:                cfg.Broker.URL,
		Exchange:           cfg.Broker.Exchange,
		DeadLetterExchange: cfg.Broker.DeadLetterExchange,
		Heartbeat:          cfg.Broker.Heartbeat,
		ConnectionName:     name,
		Prefetch:           1,
	}
}
