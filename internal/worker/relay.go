package worker

import (
	"context"
	"time"

	"github.com/kristianrpo/connectivity-microservice/internal/domain"
	"github.com/kristianrpo/connectivity-microservice/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type UnpublishedLister interface {
	ListUnpublished(ctx context.Context, completedBefore time.Time, limit int) ([]*domain.Trace, error)
}

type ResultPublisher interface {
	Publish(ctx context.Context, t *domain.Trace, routingKey string) error
}

type RelayConfig struct {
	Interval  time.Duration
	BatchSize int
	// GracePeriod leaves recently completed traces to the pipeline that is still publishing them.
	GracePeriod time.Duration
	// RoutingKeys maps each event type to the routing key of its result event.
	RoutingKeys map[domain.EventType]string
}

// ResultRelay republishes result events of terminal traces that were never stamped as published.
type ResultRelay struct {
	lister    UnpublishedLister
	publisher ResultPublisher
	cfg       RelayConfig
	now       func() time.Time
	logger    *zap.Logger
	tracer    trace.Tracer
}

func NewResultRelay(lister UnpublishedLister, publisher ResultPublisher, cfg RelayConfig, logger *zap.Logger) *ResultRelay {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = time.Minute
	}

	return &ResultRelay{
		lister:    lister,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger,
		tracer:    otel.Tracer("result-relay"),
	}
}

func (r *ResultRelay) Start(ctx context.Context) {
	mylogger.Info(
		ctx,
		r.logger,
		"Starting result relay",
		zap.Duration("interval", r.cfg.Interval),
	)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			mylogger.Info(
				ctx,
				r.logger,
				"Result relay stopping",
			)

			return
		case <-ticker.C:
			if _, err := r.ProcessBatch(ctx); err != nil {
				mylogger.Error(
					ctx,
					r.logger,
					"Error processing relay batch",
					zap.Error(err),
				)
			}
		}
	}
}

// ProcessBatch publishes one batch and reports how many events went out.
// A failed publish leaves the trace for the next tick.
func (r *ResultRelay) ProcessBatch(ctx context.Context) (int, error) {
	ctx, span := r.tracer.Start(ctx, "ResultRelay.ProcessBatch")
	defer span.End()

	traces, err := r.lister.ListUnpublished(ctx, r.now().Add(-r.cfg.GracePeriod), r.cfg.BatchSize)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	if len(traces) == 0 {
		return 0, nil
	}

	mylogger.Info(
		ctx,
		r.logger,
		"Relaying unpublished results",
		zap.Int("count", len(traces)),
	)

	published := 0
	for _, t := range traces {
		tctx := mylogger.WithMessageID(ctx, t.MessageID)

		routingKey, ok := r.cfg.RoutingKeys[t.EventType]
		if !ok {
			mylogger.Warn(
				tctx,
				r.logger,
				"No result routing key for event type",
				zap.String("event_type", string(t.EventType)),
			)
			continue
		}

		if err := r.publisher.Publish(tctx, t, routingKey); err != nil {
			mylogger.Error(
				tctx,
				r.logger,
				"Relay publish failed",
				zap.String("routing_key", routingKey),
				zap.Error(err),
			)
			continue
		}

		published++
	}

	span.SetAttributes(attribute.Int("relay.published", published))
	return published, nil
}
