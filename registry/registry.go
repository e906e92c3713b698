// ABOUTME: Conversation-scoped listener registry multiplexing one connection
// ABOUTME: Fans parsed envelopes out to listeners synchronously, in order

package registry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/loomworks/weft/wire"
)

// Listener receives envelopes for a conversation, synchronously and in wire
// arrival order. Nothing is buffered for it: a listener registered after an
// envelope was delivered never sees that envelope.
type Listener func(wire.Envelope)

// ConnectionManager is the slice of the realtime manager the registry needs.
// The registry is the only component that talks to it.
type ConnectionManager interface {
	Want(ctx context.Context, conversationID string)
	Forget(conversationID string)
}

// entry pairs a listener with the id its unsubscribe closure removes.
type entry struct {
	id string
	fn Listener
}

// Registry maps conversation ids to ordered listener sets, multiplexing the
// single physical connection across many logical subscribers.
type Registry struct {
	mu        sync.RWMutex
	listeners map[string][]entry
	conn      ConnectionManager
	logger    *slog.Logger
}

// New creates a Registry wired to the given connection manager. Pass nil
// logger for default.
func New(conn ConnectionManager, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		listeners: make(map[string][]entry),
		conn:      conn,
		logger:    logger.With("component", "registry"),
	}
}

// Subscribe registers a listener for a conversation and announces interest
// to the connection manager (which lazily opens the connection on the first
// subscription overall). The returned func removes exactly this listener
// and is idempotent; when a conversation's listener set becomes empty its
// entry is removed and interest withdrawn. The shared connection itself
// stays up as long as any conversation still has listeners.
func (r *Registry) Subscribe(ctx context.Context, conversationID string, fn Listener) func() {
	id := uuid.New().String()

	r.mu.Lock()
	r.listeners[conversationID] = append(r.listeners[conversationID], entry{id: id, fn: fn})
	r.mu.Unlock()

	r.logger.Debug("listener added", "conversation_id", conversationID, "listener_id", id)

	r.conn.Want(ctx, conversationID)

	var once sync.Once
	return func() {
		once.Do(func() {
			r.remove(conversationID, id)
		})
	}
}

// remove deletes one listener; drops the conversation entry when empty.
func (r *Registry) remove(conversationID, id string) {
	r.mu.Lock()
	entries := r.listeners[conversationID]
	for i, e := range entries {
		if e.id == id {
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	empty := len(entries) == 0
	if empty {
		delete(r.listeners, conversationID)
	} else {
		r.listeners[conversationID] = entries
	}
	r.mu.Unlock()

	if empty {
		r.conn.Forget(conversationID)
	}
	r.logger.Debug("listener removed", "conversation_id", conversationID, "listener_id", id)
}

// Dispatch routes one envelope to its conversation's listeners, invoking
// each synchronously in registration order. Envelopes without a
// conversation id are broadcast to every registered listener of every
// conversation; no ordering is guaranteed across conversations.
func (r *Registry) Dispatch(env wire.Envelope) {
	r.mu.RLock()
	var targets []Listener
	if env.ConversationID == "" {
		for _, entries := range r.listeners {
			for _, e := range entries {
				targets = append(targets, e.fn)
			}
		}
	} else {
		entries := r.listeners[env.ConversationID]
		targets = make([]Listener, 0, len(entries))
		for _, e := range entries {
			targets = append(targets, e.fn)
		}
	}
	r.mu.RUnlock()

	for _, fn := range targets {
		fn(env)
	}
}

// ListenerCount reports how many listeners a conversation currently has.
func (r *Registry) ListenerCount(conversationID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners[conversationID])
}
