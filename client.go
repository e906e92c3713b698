// ABOUTME: Public client facade reconciling REST history with live updates
// ABOUTME: Exposes Subscribe, SeedFromHistory, Timeline, and ResetConnection

package weft

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loomworks/weft/aggregate"
	"github.com/loomworks/weft/history"
	"github.com/loomworks/weft/realtime"
	"github.com/loomworks/weft/registry"
	"github.com/loomworks/weft/timeline"
	"github.com/loomworks/weft/wire"
)

// Options configures a Client.
type Options struct {
	// BaseURL is the backend's HTTP base URL, e.g. "http://localhost:3000".
	BaseURL string

	// WebsocketURL overrides the realtime endpoint. Derived from BaseURL
	// ("/ws", ws/wss scheme) when empty.
	WebsocketURL string

	// ReconnectDelay overrides the fixed reconnect interval.
	ReconnectDelay time.Duration

	// RefetchOnReconnect re-fetches history and re-seeds invocation state
	// after every reconnect, reconciling events lost while disconnected.
	RefetchOnReconnect bool

	// Logger receives structured logs. Defaults to slog.Default.
	Logger *slog.Logger
}

// conversationState is the per-conversation view the client maintains:
// persisted messages from the last history fetch and invocations folded
// from the live channel.
type conversationState struct {
	messages    []wire.Message
	invocations map[string]*aggregate.Invocation
	users       int    // active Subscribe callers
	unsubFold   func() // removes the client's own fold listener
}

// Client is the live update multiplexer. It owns the realtime connection
// (through the connection manager), routes events to conversation
// subscribers, folds tool updates into invocation state, and merges that
// state with fetched history into render-ready timelines.
type Client struct {
	opts     Options
	logger   *slog.Logger
	history  *history.Client
	conn     *realtime.Manager
	registry *registry.Registry
	agg      *aggregate.Aggregator

	mu    sync.RWMutex
	convs map[string]*conversationState
}

// New creates a Client. The realtime connection is not opened until the
// first subscription (or an explicit ResetConnection).
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("weft: BaseURL is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	wsURL := opts.WebsocketURL
	if wsURL == "" {
		wsURL = deriveWebsocketURL(opts.BaseURL)
	}

	c := &Client{
		opts:    opts,
		logger:  logger,
		history: history.NewClient(opts.BaseURL, logger),
		agg:     aggregate.New(logger),
		convs:   make(map[string]*conversationState),
	}
	c.conn = realtime.NewManager(wsURL, c.dispatch, logger)
	if opts.ReconnectDelay > 0 {
		c.conn.SetReconnectDelay(opts.ReconnectDelay)
	}
	c.registry = registry.New(c.conn, logger)
	if opts.RefetchOnReconnect {
		c.conn.SetOnOpen(func(reconnected bool) {
			if !reconnected {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := c.RefreshHistory(ctx); err != nil {
				logger.Warn("post-reconnect history refresh failed", "error", err)
			}
		})
	}
	return c, nil
}

// dispatch is the realtime sink: every parsed envelope goes through the
// registry's fan-out.
func (c *Client) dispatch(env wire.Envelope) {
	c.registry.Dispatch(env)
}

// Subscribe registers onUpdate for a conversation's live envelopes and
// starts folding its tool updates into invocation state. The connection is
// established lazily on the first subscription overall. The returned func
// removes exactly this subscription; when the conversation's last
// subscriber leaves, its folded state is discarded (the shared connection
// stays up for other conversations).
func (c *Client) Subscribe(ctx context.Context, conversationID string, onUpdate func(wire.Envelope)) func() {
	c.mu.Lock()
	state, ok := c.convs[conversationID]
	if !ok {
		state = &conversationState{invocations: make(map[string]*aggregate.Invocation)}
		c.convs[conversationID] = state
	}
	if state.unsubFold == nil {
		// The fold listener registers before any user listener, so state is
		// already current when user callbacks observe an envelope.
		state.unsubFold = c.registry.Subscribe(ctx, conversationID, func(env wire.Envelope) {
			c.fold(conversationID, env)
		})
	}
	state.users++
	c.mu.Unlock()

	unsubUser := c.registry.Subscribe(ctx, conversationID, onUpdate)

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubUser()
			c.release(conversationID)
		})
	}
}

// fold applies one envelope to a conversation's invocation map.
func (c *Client) fold(conversationID string, env wire.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.convs[conversationID]
	if !ok {
		return
	}
	state.invocations = c.agg.Fold(state.invocations, env)
}

// release drops a subscriber's hold on conversation state.
func (c *Client) release(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.convs[conversationID]
	if !ok {
		return
	}
	state.users--
	if state.users > 0 {
		return
	}
	if state.unsubFold != nil {
		state.unsubFold()
	}
	delete(c.convs, conversationID)
}

// SeedFromHistory bootstraps a conversation's invocation state from
// persisted actions, replacing whatever was folded so far. Used when a
// conversation's history predates the current connection.
func (c *Client) SeedFromHistory(conversationID string, actions []wire.StoredAction) {
	seeded := c.agg.Seed(actions)

	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.convs[conversationID]
	if !ok {
		state = &conversationState{}
		c.convs[conversationID] = state
	}
	state.invocations = seeded
}

// RefreshHistory fetches all conversations and replaces each known
// conversation's messages and seeded invocation state with the persisted
// record. The fetch error, if any, is surfaced unretried.
func (c *Client) RefreshHistory(ctx context.Context) error {
	conversations, err := c.history.Conversations(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, conv := range conversations {
		state, ok := c.convs[conv.ID]
		if !ok {
			state = &conversationState{}
			c.convs[conv.ID] = state
		}
		state.messages = conv.Messages
		state.invocations = c.agg.Seed(conv.Actions)
	}
	return nil
}

// Timeline returns the merged, chronologically ordered sequence of messages
// and invocations for a conversation. It is recomputed in full from the
// current inputs on every call; unchanged inputs yield a structurally equal
// result.
func (c *Client) Timeline(conversationID string) []timeline.Item {
	c.mu.RLock()
	state, ok := c.convs[conversationID]
	if !ok {
		c.mu.RUnlock()
		return nil
	}
	messages := state.messages
	invocations := state.invocations
	c.mu.RUnlock()

	return timeline.Merge(messages, invocations)
}

// SendMessage posts a user message to a conversation and returns the
// agent's final answer. Tool activity triggered by the message arrives over
// the realtime channel while the call is in flight.
func (c *Client) SendMessage(ctx context.Context, conversationID, message string) (string, error) {
	return c.history.Send(ctx, conversationID, message)
}

// Conversations fetches the conversation list (with messages and actions)
// without touching subscription state.
func (c *Client) Conversations(ctx context.Context) ([]wire.Conversation, error) {
	return c.history.Conversations(ctx)
}

// ResetConnection forcibly closes the realtime connection and opens a new
// one, giving the consuming application a clean slate (e.g. on mount).
func (c *Client) ResetConnection(ctx context.Context) error {
	return c.conn.Reset(ctx)
}

// Close tears down the realtime connection. Subscriptions become inert; no
// reconnect is attempted.
func (c *Client) Close() {
	c.conn.Close()
}

// deriveWebsocketURL maps an HTTP base URL to the backend's /ws endpoint.
func deriveWebsocketURL(baseURL string) string {
	ws := baseURL
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	return strings.TrimRight(ws, "/") + "/ws"
}
