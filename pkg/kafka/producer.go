package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/kristianrpo/connectivity-microservice/pkg/broker"
	"github.com/kristianrpo/connectivity-microservice/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("pkg/kafka")

// Producer publishes broker messages with the routing key as topic and the message id as key.
type Producer struct {
	syncProducer sarama.SyncProducer
	logger       *zap.Logger
}

func NewProducer(brokers []string, logger *zap.Logger) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5

	p, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("error creating producer: %w", err)
	}

	return &Producer{syncProducer: p, logger: logger}, nil
}

func (p *Producer) Publish(ctx context.Context, msg broker.Message) error {
	ctx, span := tracer.Start(ctx, "kafka_publish "+msg.RoutingKey,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.RoutingKey),
			attribute.String("messaging.message_id", msg.MessageID),
		),
	)
	defer span.End()

	broker.InjectTracing(ctx, &msg)

	partition, offset, err := p.syncProducer.SendMessage(toProducerMessage(msg.RoutingKey, msg))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("error sending message: %w", err)
	}

	mylogger.Debug(ctx, p.logger, "Message sent",
		zap.String("topic", msg.RoutingKey),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

func (p *Producer) Close() error {
	return p.syncProducer.Close()
}

func toProducerMessage(topic string, msg broker.Message) *sarama.ProducerMessage {
	headers := make([]sarama.RecordHeader, 0, len(msg.Headers)+1)
	for k, v := range msg.Headers {
		headers = append(headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	if msg.MessageID != "" {
		headers = append(headers, sarama.RecordHeader{Key: []byte(messageIDHeader), Value: []byte(msg.MessageID)})
	}

	pm := &sarama.ProducerMessage{
		Topic:   topic,
		Value:   sarama.ByteEncoder(msg.Body),
		Headers: headers,
	}
	if msg.MessageID != "" {
		pm.Key = sarama.StringEncoder(msg.MessageID)
	}
	return pm
}
