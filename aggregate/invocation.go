// ABOUTME: Invocation aggregate derived from folding realtime envelopes
// ABOUTME: Tracks one tool call's state across its start/progress/result events

package aggregate

import (
	"encoding/json"
	"time"

	"github.com/loomworks/weft/wire"
)

// State is the lifecycle position of a tool invocation. It only ever
// advances: pending -> running -> done/error.
type State string

const (
	StatePending State = "pending"
	StateRunning State = "running"
	StateDone    State = "done"
	StateError   State = "error"
)

// Terminal reports whether the state is done or error.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError
}

// Invocation is the replay-folded state of one tool call, keyed by the
// invocation id shared by its envelopes. Events preserves arrival order,
// with the exception that at most one progress envelope is retained (the
// newest replaces the stored one in place).
type Invocation struct {
	InvocationID  string
	Tool          string
	Args          map[string]any
	State         State
	Progress      float64
	LatestMessage string
	Result        json.RawMessage
	Error         string
	Events        []wire.Envelope
	FirstSeenAt   time.Time
	CorrelationID string
}

// clone returns a copy whose Events slice is independent of the original,
// so folded maps can be treated as immutable snapshots.
func (inv *Invocation) clone() *Invocation {
	out := *inv
	out.Events = make([]wire.Envelope, len(inv.Events))
	copy(out.Events, inv.Events)
	return &out
}
