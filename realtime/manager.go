// ABOUTME: Owns the single realtime websocket connection to the agent backend
// ABOUTME: Handles connect, reset, interest announcements, and auto-reconnect

package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/loomworks/weft/wire"
)

const (
	// DefaultReconnectDelay is the fixed interval between reconnect
	// attempts. No backoff: the backend is expected to be local or
	// near-local, and retries continue indefinitely while demand exists.
	DefaultReconnectDelay = 2 * time.Second

	// writeTimeout bounds outbound interest-frame writes.
	writeTimeout = 10 * time.Second

	// maxFrameSize bounds inbound frames; tool results can be large.
	maxFrameSize = 1 << 20
)

// Sink receives every parsed envelope read off the wire, in arrival order.
type Sink func(wire.Envelope)

// Manager owns the process-wide realtime connection. Exactly one physical
// connection exists at any time; repeated Connect calls are no-ops while a
// connection is open or opening. The raw websocket never escapes this type.
type Manager struct {
	url    string
	sink   Sink
	logger *slog.Logger

	reconnectDelay time.Duration
	onOpen         func(reconnected bool)

	mu         sync.Mutex
	conn       *websocket.Conn
	dialing    bool
	gen        int // connection generation, guards stale read loops
	desired    map[string]struct{}
	closed     bool
	everOpened bool
}

// NewManager creates a Manager for the given websocket URL. Envelopes read
// from the connection are delivered to sink. Pass nil logger for default.
func NewManager(url string, sink Sink, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		url:            url,
		sink:           sink,
		logger:         logger.With("component", "realtime"),
		reconnectDelay: DefaultReconnectDelay,
		desired:        make(map[string]struct{}),
	}
}

// SetReconnectDelay overrides the fixed reconnect interval. Must be called
// before the first Connect.
func (m *Manager) SetReconnectDelay(d time.Duration) {
	m.reconnectDelay = d
}

// SetOnOpen registers a hook invoked after every successful open. The
// reconnected flag is false for the first open of the manager's lifetime and
// true afterwards; callers use it to re-fetch history and reconcile events
// missed while disconnected.
func (m *Manager) SetOnOpen(fn func(reconnected bool)) {
	m.onOpen = fn
}

// Connect establishes the realtime connection if none is open or opening.
// Idempotent. After a successful open, one interest frame is sent for every
// currently desired conversation.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	m.closed = false
	if m.conn != nil || m.dialing {
		m.mu.Unlock()
		return nil
	}
	m.dialing = true
	m.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, m.url, nil)

	m.mu.Lock()
	m.dialing = false
	if err != nil {
		m.mu.Unlock()
		m.logger.Warn("dial failed", "url", m.url, "error", err)
		m.scheduleReconnect()
		return err
	}
	if m.closed {
		m.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "closed during dial")
		return nil
	}
	conn.SetReadLimit(maxFrameSize)
	m.conn = conn
	m.gen++
	gen := m.gen
	reconnected := m.everOpened
	m.everOpened = true
	ids := make([]string, 0, len(m.desired))
	for id := range m.desired {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	m.logger.Info("realtime connection open", "url", m.url, "reconnected", reconnected)

	// Re-announce interest in the full desired set, not just the first
	// conversation; anything less silently drops live updates for the rest.
	for _, id := range ids {
		m.writeInterest(conn, id)
	}

	go m.readLoop(gen, conn)

	if m.onOpen != nil {
		go m.onOpen(reconnected)
	}
	return nil
}

// Reset forcibly closes any existing connection and opens a new one. Used
// when the consumer wants a clean slate.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.Lock()
	if m.conn != nil {
		m.gen++ // orphan the old read loop before it reports the close
		m.conn.Close(websocket.StatusNormalClosure, "reset")
		m.conn = nil
	}
	m.mu.Unlock()
	return m.Connect(ctx)
}

// Close tears the connection down for good. No reconnect is scheduled.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client closed")
	}
}

// Want registers interest in a conversation. If the connection is open the
// interest frame is sent immediately; otherwise a connection is established
// (lazily, on the first subscription).
func (m *Manager) Want(ctx context.Context, conversationID string) {
	m.mu.Lock()
	m.desired[conversationID] = struct{}{}
	conn := m.conn
	m.mu.Unlock()

	if conn != nil {
		m.writeInterest(conn, conversationID)
		return
	}
	if err := m.Connect(ctx); err != nil {
		m.logger.Warn("lazy connect failed", "conversation_id", conversationID, "error", err)
	}
}

// Forget withdraws interest in a conversation. The connection stays open
// while other conversations remain desired; once the desired set is empty an
// unexpected close is no longer followed by a reconnect.
func (m *Manager) Forget(conversationID string) {
	m.mu.Lock()
	delete(m.desired, conversationID)
	m.mu.Unlock()
}

// Connected reports whether a connection is currently open.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// writeInterest sends one interest-registration frame.
func (m *Manager) writeInterest(conn *websocket.Conn, conversationID string) {
	data, err := json.Marshal(wire.InterestFrame{ConversationID: conversationID})
	if err != nil {
		m.logger.Error("marshaling interest frame", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		m.logger.Warn("announcing interest failed", "conversation_id", conversationID, "error", err)
	}
}

// readLoop reads frames until the connection dies. Malformed frames are
// logged and dropped without closing the connection. An unexpected close
// schedules a reconnect if at least one conversation is still desired.
func (m *Manager) readLoop(gen int, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			m.mu.Lock()
			stale := gen != m.gen || m.closed
			if !stale {
				m.conn = nil
			}
			m.mu.Unlock()
			if stale {
				return
			}
			m.logger.Warn("realtime connection lost", "error", err)
			m.scheduleReconnect()
			return
		}

		env, err := wire.ParseEnvelope(data, time.Now())
		if err != nil {
			m.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		m.sink(env)
	}
}

// scheduleReconnect retries Connect after the fixed delay, but only while at
// least one subscriber remains interested.
func (m *Manager) scheduleReconnect() {
	time.AfterFunc(m.reconnectDelay, func() {
		m.mu.Lock()
		demand := len(m.desired) > 0 && !m.closed && m.conn == nil && !m.dialing
		m.mu.Unlock()
		if !demand {
			return
		}
		m.logger.Info("attempting reconnect", "url", m.url)
		// Connect reschedules on failure, so errors need no handling here.
		_ = m.Connect(context.Background())
	})
}
