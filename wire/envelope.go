// ABOUTME: Event envelope and stored action shapes for the realtime channel
// ABOUTME: Defines the JSON wire contract shared by the client and the backend

package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMissingInvocationID is returned when an envelope that should describe a
// tool invocation carries no id.
var ErrMissingInvocationID = errors.New("envelope missing invocation id")

// Kind identifies the step of a tool invocation an envelope describes.
type Kind string

const (
	KindToolStart  Kind = "tool_start"
	KindProgress   Kind = "progress_update"
	KindToolResult Kind = "tool_result"
)

// IsInvocationKind reports whether k is one of the three folded kinds.
// Backends emit other update types (thinking, subscription_ack); those are
// delivered to listeners but never folded into invocation state.
func IsInvocationKind(k Kind) bool {
	switch k {
	case KindToolStart, KindProgress, KindToolResult:
		return true
	}
	return false
}

// Envelope is one realtime event describing a step of a tool invocation.
// Immutable once received: the transport creates it, the aggregator folds it,
// and nothing mutates it afterwards.
type Envelope struct {
	InvocationID   string          `json:"id,omitempty"`
	Kind           Kind            `json:"type"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Tool           string          `json:"tool,omitempty"`
	Args           map[string]any  `json:"args,omitempty"`
	Progress       float64         `json:"progress,omitempty"`
	Message        string          `json:"message,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          string          `json:"error,omitempty"`
	CorrelationID  string          `json:"correlation_id,omitempty"`

	// ReceivedAt is stamped by the transport on arrival (or mapped from a
	// stored action's created_at when replaying history). It never travels
	// on the wire.
	ReceivedAt time.Time `json:"-"`
}

// ParseEnvelope decodes a raw frame into an Envelope stamped with receivedAt.
func ParseEnvelope(data []byte, receivedAt time.Time) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decoding envelope: %w", err)
	}
	env.ReceivedAt = receivedAt
	return env, nil
}

// StoredAction is a persisted tool action in a conversation's history, as
// served by GET /api/conversations. Data holds the original envelope.
type StoredAction struct {
	ID         string          `json:"id"`
	ActionType string          `json:"action_type"`
	Data       json.RawMessage `json:"data"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Envelope decodes the action payload into an Envelope, using the action's
// stored creation time as the receipt time.
func (a StoredAction) Envelope() (Envelope, error) {
	return ParseEnvelope(a.Data, a.CreatedAt)
}

// InterestFrame is the outbound registration a client sends after opening
// the realtime connection, once per conversation it wants events for.
type InterestFrame struct {
	ConversationID string `json:"conversation_id"`
}
