package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"stockscan/backend/internal/domain"
)

const scanRecordedType = "scan.recorded"

type Publisher interface {
	PublishScan(ctx context.Context, event domain.ScanEvent) error
}

type NoopPublisher struct{}

func (NoopPublisher) PublishScan(_ context.Context, _ domain.ScanEvent) error {
	return nil
}

// KafkaPublisher writes one message per committed scan request, keyed by
// barcode so the movements of a barcode stay ordered within a partition.
// Writes are asynchronous: PublishScan only enqueues, and delivery failures
// are logged from the writer's completion callback.
type KafkaPublisher struct {
	writer *kafka.Writer
	log    zerolog.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger zerolog.Logger) *KafkaPublisher {
	p := &KafkaPublisher{log: logger.With().Str("component", "events").Str("topic", topic).Logger()}
	p.writer = &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Async:                  true,
		Completion:             p.delivered,
		BatchTimeout:           50 * time.Millisecond,
		WriteTimeout:           5 * time.Second,
		MaxAttempts:            3,
		RequiredAcks:           kafka.RequireOne,
	}
	return p
}

func (p *KafkaPublisher) delivered(messages []kafka.Message, err error) {
	if err == nil {
		return
	}
	for _, msg := range messages {
		p.log.Warn().Err(err).Str("barcode", string(msg.Key)).Msg("scan event not delivered")
	}
}

func (p *KafkaPublisher) PublishScan(ctx context.Context, event domain.ScanEvent) error {
	msg, err := scanMessage(event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func scanMessage(event domain.ScanEvent) (kafka.Message, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:     []byte(event.Barcode),
		Value:   payload,
		Time:    event.ScannedAt,
		Headers: []kafka.Header{{Key: "type", Value: []byte(scanRecordedType)}},
	}, nil
}
