// Package events publishes plan and sync events for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Type names an event.
type Type string

const (
	WorkoutSynced     Type = "workout.synced"
	WorkoutSyncFailed Type = "workout.sync_failed"
	WorkoutRemoved    Type = "workout.removed"
	PlanModified      Type = "plan.modified"
)

// Event is one published fact. Fields that do not apply to the type are empty.
type Event struct {
	Type            Type      `json:"type"`
	WorkoutID       string    `json:"workout_id,omitempty"`
	RemoteWorkoutID string    `json:"remote_workout_id,omitempty"`
	ReviewID        string    `json:"review_id,omitempty"`
	Date            string    `json:"date,omitempty"`
	Error           string    `json:"error,omitempty"`
	At              time.Time `json:"at"`
}

// key partitions events of one workout, or one review, onto the same partition.
func (e Event) key() string {
	if e.WorkoutID != "" {
		return e.WorkoutID
	}
	return e.ReviewID
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, ...Event) error { return nil }
func (Nop) Close() error                            { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON to a single topic keyed by workout id.
type KafkaPublisher struct {
	writer messageWriter
	logger *slog.Logger
}

// NewKafkaPublisher creates a synchronous publisher for topic on brokers.
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	return newKafkaPublisher(&kafka.Writer{ //nolint:exhaustruct // library defaults.
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, //nolint:exhaustruct // library defaults.
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}, logger)
}

func newKafkaPublisher(w messageWriter, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		if e.At.IsZero() {
			e.At = time.Now().UTC()
		}
		value, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal %s event: %w", e.Type, err)
		}
		msgs = append(msgs, kafka.Message{ //nolint:exhaustruct // topic is set on the writer.
			Key:     []byte(e.key()),
			Value:   value,
			Time:    e.At,
			Headers: []kafka.Header{{Key: "event_type", Value: []byte(e.Type)}},
		})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write %d events: %w", len(msgs), err)
	}
	p.logger.LogAttrs(ctx, slog.LevelDebug, "published events", slog.Int("count", len(msgs)))
	return nil
}

func (p *KafkaPublisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}
