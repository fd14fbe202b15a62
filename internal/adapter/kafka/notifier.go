// Package kafka publishes series update notifications to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/forecast-grid-etl/internal/config"
	"github.com/couchcryptid/forecast-grid-etl/internal/domain"
)

// messageWriter is the subset of *kafkago.Writer the notifier needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Notifier produces one message per written series.
// It implements pipeline.Notifier.
type Notifier struct {
	writer messageWriter
	logger *slog.Logger
}

// NewNotifier creates a Kafka producer for the configured notification topic.
func NewNotifier(cfg *config.Config, logger *slog.Logger) *Notifier {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		WriteTimeout: 10 * time.Second,
	}
	return &Notifier{writer: w, logger: logger}
}

// Publish serializes update and writes it to the topic. Updates of the same
// domain and variable share a key and therefore a partition.
func (n *Notifier) Publish(ctx context.Context, update domain.SeriesUpdate) error {
	msg, err := serializeToMessage(update)
	if err != nil {
		return err
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish series update %s: %w", msg.Key, err)
	}
	n.logger.Debug("series update published", "key", string(msg.Key))
	return nil
}

func (n *Notifier) Close() error {
	return n.writer.Close()
}

// MessageKey is the partitioning key of a series update.
func MessageKey(update domain.SeriesUpdate) string {
	return update.Domain + "/" + update.Variable
}

func serializeToMessage(update domain.SeriesUpdate) (kafkago.Message, error) {
	data, err := json.Marshal(update)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize series update: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(MessageKey(update)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "domain", Value: []byte(update.Domain)},
			{Key: "run", Value: []byte(update.Run.Format(time.RFC3339))},
		},
	}, nil
}
