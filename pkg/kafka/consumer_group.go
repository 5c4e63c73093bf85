package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	"github.com/kristianrpo/connectivity-microservice/pkg/broker"
	"github.com/kristianrpo/connectivity-microservice/pkg/mylogger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const messageIDHeader = "message-id"

type Config struct {
	Brokers []string
	GroupID string
	// DeadLetterTopic receives rejected messages; empty drops them.
	DeadLetterTopic string
}

// ConsumerGroup maps broker dispositions onto offsets: Ack marks, Requeue re-produces
// to the same topic then marks, Reject forwards to the dead letter topic then marks.
// A failed re-produce rewinds the partition to that record and ends the session.
type ConsumerGroup struct {
	cfg    Config
	routes map[string]broker.Route
	logger *zap.Logger

	client   sarama.Client
	group    sarama.ConsumerGroup
	producer sarama.SyncProducer

	settleFailed atomic.Bool
}

func NewConsumerGroup(cfg Config, routes []broker.Route, logger *zap.Logger) (*ConsumerGroup, error) {
	if len(routes) == 0 {
		return nil, errors.New("kafka consumer has no routes")
	}

	config := sarama.NewConfig()
	config.Version = sarama.V3_0_0_0
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.BalanceStrategyRoundRobin}
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5

	client, err := sarama.NewClient(cfg.Brokers, config)
	if err != nil {
		return nil, fmt.Errorf("error creating kafka client: %w", err)
	}

	group, err := sarama.NewConsumerGroupFromClient(cfg.GroupID, client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("error creating consumer group: %w", err)
	}

	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = group.Close()
		_ = client.Close()
		return nil, fmt.Errorf("error creating requeue producer: %w", err)
	}

	byTopic := make(map[string]broker.Route, len(routes))
	for _, r := range routes {
		byTopic[r.RoutingKey] = r
	}

	return &ConsumerGroup{
		cfg:      cfg,
		routes:   byTopic,
		logger:   logger,
		client:   client,
		group:    group,
		producer: producer,
	}, nil
}

func (c *ConsumerGroup) Run(ctx context.Context) error {
	topics := make([]string, 0, len(c.routes))
	for topic := range c.routes {
		topics = append(topics, topic)
	}

	handler := &saramaHandler{group: c}

	go func() {
		for err := range c.group.Errors() {
			mylogger.Error(ctx, c.logger, "Consumer group error", zap.Error(err))
		}
	}()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	for {
		err := c.group.Consume(ctx, topics, handler)
		if err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			mylogger.Error(ctx, c.logger, "Error consuming in consumer loop", zap.Error(err))
		}

		if ctx.Err() != nil {
			mylogger.Info(ctx, c.logger, "Context cancelled, shutting down consumer")
			return nil
		}

		if !c.settleFailed.Swap(false) {
			bo.Reset()
			continue
		}

		wait := bo.NextBackOff()
		mylogger.Warn(ctx, c.logger, "Settle failed, rejoining group", zap.Duration("retry_in", wait))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (c *ConsumerGroup) Close() error {
	return errors.Join(c.producer.Close(), c.group.Close(), c.client.Close())
}

type saramaHandler struct {
	group *ConsumerGroup
}

func (h *saramaHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *saramaHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *saramaHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.group.handle(session, msg); err != nil {
				h.group.settleFailed.Store(true)
				return err
			}
		case <-session.Context().Done():
			return nil
		}
	}
}

func (c *ConsumerGroup) handle(session sarama.ConsumerGroupSession, raw *sarama.ConsumerMessage) error {
	route, ok := c.routes[raw.Topic]
	if !ok {
		session.MarkMessage(raw, "")
		return nil
	}

	msg := fromConsumerMessage(raw)

	ctx := broker.ExtractTracing(context.WithoutCancel(session.Context()), msg.Headers)
	ctx, span := tracer.Start(ctx, "kafka_process "+raw.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", raw.Topic),
			attribute.Int64("messaging.kafka.offset", raw.Offset),
		),
	)
	defer span.End()

	disposition := route.Handler(ctx, msg)
	span.SetAttributes(attribute.String("messaging.disposition", disposition.String()))

	var err error
	switch disposition {
	case broker.Requeue:
		_, _, err = c.producer.SendMessage(toProducerMessage(raw.Topic, msg))
	case broker.Reject:
		if c.cfg.DeadLetterTopic != "" {
			_, _, err = c.producer.SendMessage(toProducerMessage(c.cfg.DeadLetterTopic, msg))
		}
	}

	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, c.logger, "Failed to settle message",
			zap.String("topic", raw.Topic),
			zap.Int32("partition", raw.Partition),
			zap.Int64("offset", raw.Offset),
			zap.Stringer("disposition", disposition),
			zap.Error(err),
		)

		// nothing after this record may be marked, the next session reads it again
		session.ResetOffset(raw.Topic, raw.Partition, raw.Offset, "")
		return fmt.Errorf("settle %s/%d@%d: %w", raw.Topic, raw.Partition, raw.Offset, err)
	}

	session.MarkMessage(raw, "")
	return nil
}

func fromConsumerMessage(raw *sarama.ConsumerMessage) broker.Message {
	headers := make(map[string]string, len(raw.Headers))
	for _, h := range raw.Headers {
		headers[string(h.Key)] = string(h.Value)
	}

	id := headers[messageIDHeader]
	delete(headers, messageIDHeader)
	if id == "" && len(raw.Key) > 0 {
		id = string(raw.Key)
	}

	return broker.Message{
		RoutingKey: raw.Topic,
		MessageID:  id,
		Body:       raw.Value,
		Headers:    headers,
	}
}
