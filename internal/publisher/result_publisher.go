package publisher

import (
	"context"
	"fmt"

	"github.com/kristianrpo/connectivity-microservice/internal/domain"
	"github.com/kristianrpo/connectivity-microservice/pkg/broker"
	"github.com/kristianrpo/connectivity-microservice/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// PublishError wraps a broker failure while sending a result event. The trace is left untouched.
type PublishError struct {
	MessageID  string
	RoutingKey string
	Err        error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s for message %s: %v", e.RoutingKey, e.MessageID, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

type PublishedMarker interface {
	MarkPublished(ctx context.Context, messageID string) error
}

type ResultPublisher struct {
	publisher broker.Publisher
	marker    PublishedMarker
	logger    *zap.Logger
	tracer    trace.Tracer
}

func NewResultPublisher(publisher broker.Publisher, marker PublishedMarker, logger *zap.Logger) *ResultPublisher {
	return &ResultPublisher{
		publisher: publisher,
		marker:    marker,
		logger:    logger,
		tracer:    otel.Tracer("publisher/result_publisher"),
	}
}

// Publish sends the outcome event of a terminal trace and stamps published_at.
func (p *ResultPublisher) Publish(ctx context.Context, t *domain.Trace, routingKey string) error {
	ctx, span := p.tracer.Start(ctx, "ResultPublisher.Publish")
	defer span.End()

	span.SetAttributes(
		attribute.String("message_id", t.MessageID),
		attribute.String("routing_key", routingKey),
		attribute.String("status", string(t.Status)),
	)

	event, err := domain.NewOutboundEvent(t, routingKey)
	if err != nil {
		span.RecordError(err)
		return &PublishError{MessageID: t.MessageID, RoutingKey: routingKey, Err: err}
	}

	body, err := event.Body()
	if err != nil {
		span.RecordError(err)
		return &PublishError{MessageID: t.MessageID, RoutingKey: routingKey, Err: err}
	}

	if err := p.publisher.Publish(ctx, broker.Message{
		RoutingKey: event.RoutingKey,
		MessageID:  event.MessageID,
		Body:       body,
	}); err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			p.logger,
			"Failed to publish result event",
			zap.String("routing_key", routingKey),
			zap.Error(err),
		)

		return &PublishError{MessageID: t.MessageID, RoutingKey: routingKey, Err: err}
	}

	if err := p.marker.MarkPublished(ctx, t.MessageID); err != nil {
		// the event is already out; a later redelivery may publish it again
		mylogger.Warn(
			ctx,
			p.logger,
			"Result event published but trace not stamped",
			zap.Error(err),
		)
		return nil
	}

	mylogger.Info(
		ctx,
		p.logger,
		"Result event published",
		zap.String("routing_key", routingKey),
		zap.String("status", string(t.Status)),
	)

	return nil
}
