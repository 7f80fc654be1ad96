// Package events publishes video lifecycle notifications for downstream
// consumers. Publishing is best-effort and never blocks processing on
// failure.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"github.com/zulandar/reelyard/internal/config"
)

// Event types.
const (
	VideoCompleted = "video.completed"
	VideoFailed    = "video.failed"
	VideoRequeued  = "video.requeued"
	JobExpanded    = "job.expanded"
	JobFinished    = "job.finished"
)

// Event is one lifecycle notification.
type Event struct {
	Type     string    `json:"type"`
	JobID    string    `json:"job_id"`
	VideoID  string    `json:"video_id,omitempty"`
	Status   string    `json:"status,omitempty"`
	Model    string    `json:"model,omitempty"`
	Source   string    `json:"source,omitempty"`
	Segments int       `json:"segments,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// Publisher sends events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// New builds the configured publisher.
func New(cfg config.EventsConfig) (Publisher, error) {
	switch cfg.Backend {
	case "", "none":
		return Nop{}, nil
	case "kafka":
		if len(cfg.Kafka.Brokers) == 0 {
			return nil, fmt.Errorf("events: kafka brokers are required")
		}
		return NewKafka(cfg.Kafka), nil
	case "slack":
		if cfg.Slack.BotToken == "" || cfg.Slack.Channel == "" {
			return nil, fmt.Errorf("events: slack bot token and channel are required")
		}
		return NewSlack(cfg.Slack), nil
	default:
		return nil, fmt.Errorf("events: unknown backend %q", cfg.Backend)
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Kafka writes JSON events keyed by video (or job) ID.
type Kafka struct {
	writer *kafka.Writer
}

// NewKafka returns a publisher writing to cfg.Topic.
func NewKafka(cfg config.KafkaConfig) *Kafka {
	return &Kafka{writer: &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
	}}
}

func (k *Kafka) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: encode %s: %w", ev.Type, err)
	}
	key := ev.VideoID
	if key == "" {
		key = ev.JobID
	}
	msg := kafka.Message{Key: []byte(key), Value: value, Time: ev.At}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events: publish %s: %w", ev.Type, err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}

// Recorder keeps published events in memory, for tests and dry runs.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
