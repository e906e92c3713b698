// ABOUTME: Pure fold of realtime envelopes into per-conversation invocation maps
// ABOUTME: Provides Fold for live events and Seed for replaying persisted actions

package aggregate

import (
	"log/slog"

	"github.com/loomworks/weft/wire"
)

// Aggregator folds envelopes into invocation maps. It holds no state beyond
// a logger: Fold applied to the same map and the same ordered envelopes
// always yields the same result.
type Aggregator struct {
	logger *slog.Logger
}

// New creates an Aggregator. Pass nil logger for default.
func New(logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{logger: logger.With("component", "aggregate")}
}

// Fold applies one envelope to an invocation map and returns a new map; the
// input map is never mutated. Envelopes without an invocation id, and
// envelopes of kinds that do not describe an invocation step, leave the map
// untouched.
func (a *Aggregator) Fold(m map[string]*Invocation, env wire.Envelope) map[string]*Invocation {
	if !wire.IsInvocationKind(env.Kind) {
		return m
	}
	if env.InvocationID == "" {
		a.logger.Debug("dropping envelope without invocation id", "kind", env.Kind)
		return m
	}

	out := make(map[string]*Invocation, len(m)+1)
	for k, v := range m {
		out[k] = v
	}

	inv, ok := out[env.InvocationID]
	if ok {
		inv = inv.clone()
	} else {
		inv = &Invocation{
			InvocationID: env.InvocationID,
			State:        StatePending,
			FirstSeenAt:  env.ReceivedAt,
		}
	}
	out[env.InvocationID] = inv

	if env.CorrelationID != "" {
		inv.CorrelationID = env.CorrelationID
	}

	switch env.Kind {
	case wire.KindToolStart:
		inv.Events = append(inv.Events, env)
		if env.Tool != "" {
			inv.Tool = env.Tool
		}
		if env.Args != nil {
			inv.Args = env.Args
		}
		if !inv.State.Terminal() {
			inv.State = StateRunning
		}

	case wire.KindProgress:
		replaced := false
		for i := range inv.Events {
			if inv.Events[i].Kind == wire.KindProgress {
				inv.Events[i] = env
				replaced = true
				break
			}
		}
		if !replaced {
			inv.Events = append(inv.Events, env)
		}
		inv.Progress = env.Progress
		inv.LatestMessage = env.Message
		if !inv.State.Terminal() {
			inv.State = StateRunning
		}

	case wire.KindToolResult:
		if inv.State.Terminal() {
			// Duplicate terminal event for this invocation. Last result
			// wins; the anomaly is worth knowing about.
			a.logger.Warn("duplicate tool_result for invocation",
				"invocation_id", inv.InvocationID,
				"tool", inv.Tool)
		}
		inv.Events = append(inv.Events, env)
		if env.Tool != "" && inv.Tool == "" {
			inv.Tool = env.Tool
		}
		inv.Result = env.Result
		inv.Error = env.Error
		if env.Error != "" {
			inv.State = StateError
		} else {
			inv.State = StateDone
		}
	}

	return out
}

// Seed reconstructs an invocation map by replaying persisted actions, in
// their stored order, through Fold. Actions of other types (user messages,
// thinking updates) are skipped; actions whose payload fails to decode are
// logged and skipped.
func (a *Aggregator) Seed(actions []wire.StoredAction) map[string]*Invocation {
	m := make(map[string]*Invocation)
	for _, action := range actions {
		if !wire.IsInvocationKind(wire.Kind(action.ActionType)) {
			continue
		}
		env, err := action.Envelope()
		if err != nil {
			a.logger.Warn("skipping undecodable stored action",
				"action_id", action.ID,
				"action_type", action.ActionType,
				"error", err)
			continue
		}
		// The stored action's type is authoritative; older backends omitted
		// the type field from the embedded payload.
		if env.Kind == "" {
			env.Kind = wire.Kind(action.ActionType)
		}
		m = a.Fold(m, env)
	}
	return m
}
