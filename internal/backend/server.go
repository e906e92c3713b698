// ABOUTME: HTTP and websocket handlers for the weft backend
// ABOUTME: Serves /api/conversations, /api/message, and the /ws realtime channel

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/loomworks/weft/wire"
)

const (
	// wsWriteTimeout bounds each outbound websocket write.
	wsWriteTimeout = 10 * time.Second
)

// Responder produces the agent's answer to a user message. Implementations
// emit tool envelopes through the publisher while working, tagging them
// with replyID (the id the assistant's answer will be stored under) so
// clients can attach tool cards to the right message. The returned string
// is the final answer.
type Responder interface {
	OnMessage(ctx context.Context, conversationID, replyID, message string) (string, error)
}

// Publisher is the slice of the backend a responder needs: emit an envelope
// to live subscribers and persist it as a conversation action.
type Publisher interface {
	Emit(ctx context.Context, env wire.Envelope)
}

// Server wires the store, the hub, and a responder behind the HTTP surface
// the weft client consumes.
type Server struct {
	store     *Store
	hub       *Hub
	responder Responder
	logger    *slog.Logger
}

// NewServer creates a Server. Pass nil logger for default.
func NewServer(store *Store, hub *Hub, responder Responder, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:     store,
		hub:       hub,
		responder: responder,
		logger:    logger.With("component", "backend"),
	}
}

// SetResponder wires the responder after construction. The responder emits
// through the server, so the two reference each other.
func (s *Server) SetResponder(r Responder) {
	s.responder = r
}

// Emit publishes an envelope to live subscribers and, when it describes an
// invocation step, persists it as a stored action so later history fetches
// can seed the same state.
func (s *Server) Emit(ctx context.Context, env wire.Envelope) {
	s.hub.Publish(env)

	if !wire.IsInvocationKind(env.Kind) || env.ConversationID == "" {
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		s.logger.Error("marshaling envelope for storage", "error", err)
		return
	}
	if _, err := s.store.AddAction(ctx, env.ConversationID, string(env.Kind), data); err != nil {
		s.logger.Warn("persisting action failed",
			"conversation_id", env.ConversationID,
			"invocation_id", env.InvocationID,
			"error", err)
	}
}

// Routes returns the backend's HTTP handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/conversations", s.handleConversations)
	mux.HandleFunc("/api/message", s.handleMessage)
	mux.HandleFunc("/ws", s.handleWebsocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// handleConversations handles GET /api/conversations.
func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	conversations, err := s.store.ListConversations(r.Context())
	if err != nil {
		s.logger.Error("listing conversations", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list conversations"})
		return
	}
	if conversations == nil {
		conversations = []wire.Conversation{}
	}
	writeJSON(w, http.StatusOK, wire.ConversationsResponse{Conversations: conversations})
}

// handleMessage handles POST /api/message. The user message is persisted,
// the responder runs (emitting tool envelopes as it goes), and its final
// answer is persisted and returned.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req wire.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.ConversationID == "" || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "conversation_id and message are required"})
		return
	}

	ctx := r.Context()
	if _, err := s.store.AddMessage(ctx, req.ConversationID, "", req.Message, "user"); err != nil {
		s.logger.Error("persisting user message", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to store message"})
		return
	}

	// The reply's message id exists before the reply does, so tool
	// envelopes emitted while the responder works can reference it.
	replyID := uuid.New().String()
	response, err := s.responder.OnMessage(ctx, req.ConversationID, replyID, req.Message)
	if err != nil {
		s.logger.Error("responder failed", "conversation_id", req.ConversationID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":  "failed to process message",
			"detail": err.Error(),
		})
		return
	}

	if _, err := s.store.AddMessage(ctx, req.ConversationID, replyID, response, "assistant"); err != nil {
		s.logger.Error("persisting assistant message", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to store response"})
		return
	}

	writeJSON(w, http.StatusOK, wire.SendResponse{Response: response})
}

// subscriptionAck is sent back after each accepted interest frame.
type subscriptionAck struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// handleWebsocket handles the realtime channel. Inbound frames are interest
// registrations; each announced conversation starts streaming its envelopes
// to this connection. A connection may announce any number of
// conversations.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// All writes for this connection are funneled through out, so envelope
	// forwarders and acks never interleave partial frames.
	out := make(chan any, subscriberBufferSize)
	go s.writePump(ctx, cancel, conn, out)

	subscribed := make(map[string]bool)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				s.logger.Debug("websocket closed", "error", err)
			}
			return
		}

		var frame wire.InterestFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.ConversationID == "" {
			s.logger.Debug("ignoring unrecognized inbound frame")
			continue
		}
		if subscribed[frame.ConversationID] {
			continue
		}
		subscribed[frame.ConversationID] = true

		ch, _ := s.hub.Subscribe(ctx, frame.ConversationID)
		go forward(ctx, ch, out)

		select {
		case out <- subscriptionAck{Type: "subscription_ack", ConversationID: frame.ConversationID}:
		case <-ctx.Done():
			return
		}
	}
}

// writePump serializes all outbound writes for one connection. A write
// failure cancels the connection context, which unwinds the reader and all
// forwarders.
func (s *Server) writePump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, out <-chan any) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-out:
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Error("marshaling outbound frame", "error", err)
				continue
			}
			wctx, wcancel := context.WithTimeout(ctx, wsWriteTimeout)
			err = conn.Write(wctx, websocket.MessageText, data)
			wcancel()
			if err != nil {
				cancel()
				return
			}
		}
	}
}

// forward copies one hub subscription into a connection's write funnel.
func forward(ctx context.Context, ch <-chan wire.Envelope, out chan<- any) {
	for env := range ch {
		select {
		case out <- env:
		case <-ctx.Done():
			return
		}
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
