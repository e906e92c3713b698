// ABOUTME: In-memory fan-out hub for realtime envelopes
// ABOUTME: Publishes each envelope to a conversation's websocket subscribers

package backend

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/loomworks/weft/wire"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Hub provides in-memory pub/sub for realtime envelopes. Websocket handlers
// register for a conversation id and receive envelopes as the responder
// emits them.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan wire.Envelope // conversationID -> subID -> ch
	logger      *slog.Logger
}

// NewHub creates a hub. Pass nil logger for default.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subscribers: make(map[string]map[string]chan wire.Envelope),
		logger:      logger.With("component", "hub"),
	}
}

// Subscribe registers a subscriber for envelopes on the given conversation
// id. Returns a channel that receives envelopes and a subscription ID for
// later unsubscription. The subscription is automatically cleaned up when
// ctx is cancelled.
func (h *Hub) Subscribe(ctx context.Context, conversationID string) (<-chan wire.Envelope, string) {
	subID := uuid.New().String()
	ch := make(chan wire.Envelope, subscriberBufferSize)

	h.mu.Lock()
	if _, ok := h.subscribers[conversationID]; !ok {
		h.subscribers[conversationID] = make(map[string]chan wire.Envelope)
	}
	h.subscribers[conversationID][subID] = ch
	h.mu.Unlock()

	h.logger.Debug("subscriber added", "conversation_id", conversationID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		h.Unsubscribe(conversationID, subID)
	}()

	return ch, subID
}

// Publish sends an envelope to the subscribers of its conversation.
// Envelopes without a conversation id are broadcast to every subscriber of
// every conversation. Non-blocking: envelopes are dropped for subscribers
// whose channels are full.
func (h *Hub) Publish(env wire.Envelope) {
	h.mu.RLock()
	var targets []chan wire.Envelope
	if env.ConversationID == "" {
		for _, subs := range h.subscribers {
			for _, ch := range subs {
				targets = append(targets, ch)
			}
		}
	} else {
		for _, ch := range h.subscribers[env.ConversationID] {
			targets = append(targets, ch)
		}
	}
	h.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- env:
		default:
			h.logger.Debug("dropped envelope for slow subscriber",
				"conversation_id", env.ConversationID,
				"invocation_id", env.InvocationID)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (h *Hub) Unsubscribe(conversationID, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[conversationID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(h.subscribers, conversationID)
	}

	h.logger.Debug("subscriber removed", "conversation_id", conversationID, "sub_id", subID)
}

// Close shuts down the hub and closes all subscriber channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for key, subs := range h.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(h.subscribers, key)
	}

	h.logger.Debug("hub closed")
}
