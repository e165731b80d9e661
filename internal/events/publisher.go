package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"taskwatch/internal/config"
)

// WaitEvent is published once per finished wait
type WaitEvent struct {
	TaskID     string    `json:"task_id"`
	Operation  string    `json:"operation"`
	Outcome    string    `json:"outcome"`
	Result     string    `json:"result,omitempty"`
	Polls      int       `json:"polls"`
	DurationMs int64     `json:"duration_ms"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher delivers wait events to whoever follows long-running operations
type Publisher interface {
	Publish(ctx context.Context, event WaitEvent) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes WaitEvents as JSON, keyed by task ID so events for
// one task stay ordered on a partition.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher creates a publisher for cfg.Topic on cfg.Brokers
func NewKafkaPublisher(cfg config.KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("no kafka topic configured")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           cfg.BatchTimeout,
		BatchSize:              100,
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: writer}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, event WaitEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal wait event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.TaskID),
		Value: data,
		Time:  event.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("failed to write wait event to kafka: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Discard drops every event; used when no brokers are configured
type Discard struct{}

func (Discard) Publish(context.Context, WaitEvent) error { return nil }
func (Discard) Close() error                             { return nil }
