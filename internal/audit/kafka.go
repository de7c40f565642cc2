package audit

import (
	"context"
	"encoding/json"
	"fmt"
)

// Producer is the subset of kafka.Producer the sink needs.
type Producer interface {
	Produce(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// KafkaSink publishes events as JSON, keyed by visitor id so one visitor's
// history stays ordered within a partition.
type KafkaSink struct {
	producer Producer
	topic    string
}

func NewKafkaSink(producer Producer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (s *KafkaSink) Append(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	key := event.VisitorID
	if key == "" {
		key = event.ID
	}
	headers := map[string]string{
		"category": string(event.Category),
		"action":   string(event.Action),
	}
	if err := s.producer.Produce(ctx, s.topic, []byte(key), value, headers); err != nil {
		return fmt.Errorf("publish audit event %s: %w", event.ID, err)
	}
	return nil
}

// Decode parses a record produced by KafkaSink.
func Decode(value []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(value, &e); err != nil {
		return Event{}, fmt.Errorf("decode audit event: %w", err)
	}
	return e, nil
}
