// Package kafka streams finished dataset samples to a Kafka topic for
// downstream training pipelines.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/flood-dataset/internal/domain"
)

// Publisher produces dataset samples to a Kafka topic.
// It implements pipeline.Publisher.
type Publisher struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewPublisher creates a Kafka producer for the dataset topic. Writes wait
// for acks from all replicas; a dropped sample skews the label balance.
func NewPublisher(brokers []string, topic string, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Publisher{writer: w, logger: logger}
}

// PublishBatch serializes and publishes the samples in a single
// WriteMessages call for efficiency. Samples keep their dataset order.
func (p *Publisher) PublishBatch(ctx context.Context, samples []domain.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	producedAt := time.Now().UTC()
	msgs := make([]kafkago.Message, len(samples))
	for i := range samples {
		msg, err := serializeToMessage(samples[i], producedAt)
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return err
	}
	p.logger.Info("published samples", "count", len(samples), "topic", p.writer.Topic)
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage marshals a sample into a Kafka message keyed by sample
// ID, so replays of the same build compact cleanly.
func serializeToMessage(sample domain.Sample, producedAt time.Time) (kafkago.Message, error) {
	data, err := json.Marshal(sample)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize sample: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(sample.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "label", Value: []byte(sample.Label)},
			{Key: "produced_at", Value: []byte(producedAt.Format(time.RFC3339))},
		},
	}, nil
}
