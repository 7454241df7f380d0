package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// QueueService publishes a payload under a message type. The log collector
// and any other fire-and-forget publisher depend on this shape.
type QueueService interface {
	PublishMessage(ctx context.Context, msgType string, payload interface{}) error
}

// Message is the envelope stored on the list.
type Message struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Source    string      `json:"source,omitempty"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

func encodeMessage(msg Message) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	return b, nil
}

// DecodeMessage parses one list entry and decodes its payload into T.
func DecodeMessage[T any](raw []byte) (Message, *T, error) {
	var env struct {
		Message
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return Message{}, nil, fmt.Errorf("unmarshal message: %w", err)
	}
	var out T
	if err := json.Unmarshal(env.Payload, &out); err != nil {
		return env.Message, nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	msg := env.Message
	msg.Payload = out
	return msg, &out, nil
}
