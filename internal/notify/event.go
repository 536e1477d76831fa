// Package notify publishes events about tool calls made through the
// gateway so that other systems can follow what the client did.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	TypeToolCall = "tool.call"
)

// Event is the envelope for every published event.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"` // client instance id
	Data      any       `json:"data"`
}

// ToolCallData is the payload of a tool.call event.
type ToolCallData struct {
	Gateway    string          `json:"gateway,omitempty"`
	Tool       string          `json:"tool"`
	Arguments  json.RawMessage `json:"arguments"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMS int64           `json:"durationMs"`
}

// NewToolCallEvent builds a tool.call event stamped with a fresh UUIDv7
// and the current time.
func NewToolCallEvent(source string, data ToolCallData) (Event, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Event{}, fmt.Errorf("generate event ID: %w", err)
	}
	if len(data.Arguments) == 0 {
		data.Arguments = json.RawMessage(`{}`)
	}
	return Event{
		ID:        id.String(),
		Type:      TypeToolCall,
		Timestamp: time.Now().UTC(),
		Source:    source,
		Data:      data,
	}, nil
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close(ctx context.Context) error
}

// Discard is a Publisher that drops every event.
type Discard struct{}

// Publish does nothing.
func (Discard) Publish(context.Context, Event) error { return nil }

// Close does nothing.
func (Discard) Close(context.Context) error { return nil }
