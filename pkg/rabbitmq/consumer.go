package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kristianrpo/connectivity-microservice/pkg/broker"
	"github.com/kristianrpo/connectivity-microservice/pkg/mylogger"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("pkg/rabbitmq")

type Consumer struct {
	cfg    Config
	routes []broker.Route
	logger *zap.Logger

	mu   sync.Mutex
	conn *amqp.Connection
}

func NewConsumer(cfg Config, routes []broker.Route, logger *zap.Logger) *Consumer {
	return &Consumer{
		cfg:    cfg,
		routes: routes,
		logger: logger,
	}
}

// Run consumes every route until ctx is cancelled, reconnecting with exponential backoff.
func (c *Consumer) Run(ctx context.Context) error {
	if len(c.routes) == 0 {
		return errors.New("rabbitmq consumer has no routes")
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	for {
		err := c.consume(ctx, bo)
		if ctx.Err() != nil {
			mylogger.Info(ctx, c.logger, "Context cancelled, shutting down consumer")
			return nil
		}

		wait := bo.NextBackOff()
		mylogger.Error(ctx, c.logger, "RabbitMQ consumer disconnected, reconnecting",
			zap.Duration("retry_in", wait),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (c *Consumer) consume(ctx context.Context, bo backoff.BackOff) error {
	conn, err := dial(c.cfg.URL, c.cfg)
	if err != nil {
		return err
	}
	c.setConn(conn)
	defer func() {
		c.setConn(nil)
		_ = conn.Close()
	}()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))
	cancelled := ch.NotifyCancel(make(chan string, len(c.routes)))

	if err := declareExchange(ch, c.cfg.Exchange); err != nil {
		return err
	}

	if err := ch.Qos(c.cfg.prefetch(), 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	var wg sync.WaitGroup
	tags := make([]string, 0, len(c.routes))
	// each route reports here when its deliveries chan closes
	stopped := make(chan string, len(c.routes))

	for i, route := range c.routes {
		if err := declareQueue(ch, c.cfg.Exchange, route.Queue, route.RoutingKey, c.cfg.DeadLetterExchange); err != nil {
			return err
		}

		tag := fmt.Sprintf("%s-%d", route.Queue, i)
		deliveries, err := ch.Consume(route.Queue, tag, false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("consume %s: %w", route.Queue, err)
		}
		tags = append(tags, tag)

		mylogger.Info(ctx, c.logger, "Consuming queue",
			zap.String("queue", route.Queue),
			zap.String("routing_key", route.RoutingKey),
		)

		wg.Add(1)
		go func(route broker.Route) {
			defer wg.Done()
			for d := range deliveries {
				c.handle(ctx, route, d)
			}
			stopped <- route.Queue
		}(route)
	}

	bo.Reset()

	var reason error
	select {
	case <-ctx.Done():
		c.cancelAll(ctx, ch, tags)
		wg.Wait()
		return nil
	case amqpErr := <-connClosed:
		reason = closeReason("connection", amqpErr)
	case amqpErr := <-chClosed:
		reason = closeReason("channel", amqpErr)
	case tag := <-cancelled:
		reason = fmt.Errorf("%w: consumer %s cancelled by server", broker.ErrClosed, tag)
	case queue := <-stopped:
		reason = fmt.Errorf("%w: deliveries for %s ended", broker.ErrClosed, queue)
	}

	// the remaining routes are cancelled so Run reconnects all of them together
	c.cancelAll(ctx, ch, tags)
	wg.Wait()
	return reason
}

func (c *Consumer) cancelAll(ctx context.Context, ch *amqp.Channel, tags []string) {
	if ch.IsClosed() {
		return
	}
	for _, tag := range tags {
		if err := ch.Cancel(tag, false); err != nil {
			mylogger.Warn(ctx, c.logger, "Failed to cancel consumer", zap.String("tag", tag), zap.Error(err))
		}
	}
}

func closeReason(scope string, amqpErr *amqp.Error) error {
	if amqpErr == nil {
		return fmt.Errorf("%w: %s closed", broker.ErrClosed, scope)
	}
	return fmt.Errorf("%s closed: %w", scope, amqpErr)
}

func (c *Consumer) handle(ctx context.Context, route broker.Route, d amqp.Delivery) {
	msg := broker.Message{
		RoutingKey: d.RoutingKey,
		MessageID:  d.MessageId,
		Body:       d.Body,
		Headers:    headersToMap(d.Headers),
	}

	// in-flight deliveries complete even when shutdown has begun
	hctx := broker.ExtractTracing(context.WithoutCancel(ctx), msg.Headers)
	hctx, span := tracer.Start(hctx, "rabbitmq_process "+route.Queue,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination", route.Queue),
			attribute.String("messaging.rabbitmq.routing_key", d.RoutingKey),
		),
	)
	defer span.End()

	disposition := route.Handler(hctx, msg)
	span.SetAttributes(attribute.String("messaging.disposition", disposition.String()))

	var err error
	switch disposition {
	case broker.Ack:
		err = d.Ack(false)
	case broker.Requeue:
		err = d.Nack(false, true)
	default:
		err = d.Nack(false, false)
	}

	if err != nil {
		span.RecordError(err)
		mylogger.Error(hctx, c.logger, "Failed to settle delivery",
			zap.String("queue", route.Queue),
			zap.Stringer("disposition", disposition),
			zap.Error(err),
		)
	}
}

func (c *Consumer) setConn(conn *amqp.Connection) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// Close tears down the live connection; Run then returns once ctx is done.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}
	return c.conn.Close()
}
