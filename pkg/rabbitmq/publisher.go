package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kristianrpo/connectivity-microservice/pkg/broker"
	"github.com/kristianrpo/connectivity-microservice/pkg/mylogger"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var ErrNotConfirmed = errors.New("publish not confirmed by broker")

// Publisher sends persistent messages to the configured exchange and waits for broker confirms.
// A single channel is shared and guarded by mu.
type Publisher struct {
	cfg    Config
	logger *zap.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewPublisher(cfg Config, logger *zap.Logger) (*Publisher, error) {
	p := &Publisher{
		cfg:    cfg,
		logger: logger,
	}

	if err := p.connect(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Publisher) connect() error {
	conn, err := dial(p.cfg.URL, p.cfg)
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return fmt.Errorf("enable confirms: %w", err)
	}

	if err := declareExchange(ch, p.cfg.Exchange); err != nil {
		_ = conn.Close()
		return err
	}

	p.conn = conn
	p.ch = ch
	return nil
}

func (p *Publisher) Publish(ctx context.Context, msg broker.Message) error {
	ctx, span := tracer.Start(ctx, "rabbitmq_publish "+msg.RoutingKey,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination", p.cfg.Exchange),
			attribute.String("messaging.rabbitmq.routing_key", msg.RoutingKey),
			attribute.String("messaging.message_id", msg.MessageID),
		),
	)
	defer span.End()

	broker.InjectTracing(ctx, &msg)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil || p.ch.IsClosed() {
		if p.conn != nil {
			_ = p.conn.Close()
		}
		mylogger.Warn(ctx, p.logger, "Publisher channel closed, reconnecting")
		if err := p.connect(); err != nil {
			span.RecordError(err)
			return err
		}
	}

	confirm, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.cfg.Exchange, msg.RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.MessageID,
		Timestamp:    time.Now().UTC(),
		Headers:      mapToHeaders(msg.Headers),
		Body:         msg.Body,
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("publish to %s: %w", msg.RoutingKey, err)
	}

	ok, err := confirm.WaitContext(ctx)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("wait confirm for %s: %w", msg.RoutingKey, err)
	}
	if !ok {
		span.RecordError(ErrNotConfirmed)
		return fmt.Errorf("%w: %s", ErrNotConfirmed, msg.RoutingKey)
	}

	mylogger.Debug(ctx, p.logger, "Message published",
		zap.String("exchange", p.cfg.Exchange),
		zap.String("routing_key", msg.RoutingKey),
	)
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return nil
	}

	err := p.conn.Close()
	p.conn = nil
	p.ch = nil

	if errors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}
