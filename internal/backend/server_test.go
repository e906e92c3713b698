// ABOUTME: Tests for the backend HTTP and websocket handlers
// ABOUTME: Covers history fetching, message intake, emit persistence, and the realtime channel

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/weft/wire"
)

// scriptedResponder emits one canned envelope and returns a fixed answer,
// recording the reply id it was handed.
type scriptedResponder struct {
	server  *Server
	answer  string
	replyID string
}

func (r *scriptedResponder) OnMessage(ctx context.Context, conversationID, replyID, message string) (string, error) {
	r.replyID = replyID
	r.server.Emit(ctx, wire.Envelope{
		InvocationID:   "t1",
		Kind:           wire.KindToolStart,
		ConversationID: conversationID,
		Tool:           "search",
		CorrelationID:  replyID,
	})
	return r.answer, nil
}

func newTestServer(t *testing.T) (*Server, *scriptedResponder, *httptest.Server) {
	t.Helper()
	store := newTestStore(t)
	hub := NewHub(nil)
	t.Cleanup(hub.Close)

	server := NewServer(store, hub, nil, nil)
	responder := &scriptedResponder{server: server, answer: "Search finished."}
	server.SetResponder(responder)

	srv := httptest.NewServer(server.Routes())
	t.Cleanup(srv.Close)
	return server, responder, srv
}

func TestHandleConversations_EmptyList(t *testing.T) {
	_, _, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/conversations")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out wire.ConversationsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.NotNil(t, out.Conversations)
	assert.Empty(t, out.Conversations)
}

func TestHandleConversations_MethodNotAllowed(t *testing.T) {
	_, _, srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/conversations", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHandleMessage_FullFlow(t *testing.T) {
	server, responder, srv := newTestServer(t)

	body, _ := json.Marshal(wire.SendRequest{ConversationID: "conv-1", Message: "please search"})
	resp, err := http.Post(srv.URL+"/api/message", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out wire.SendResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "Search finished.", out.Response)

	conv, err := server.store.GetConversation(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "user", conv.Messages[0].Role)
	assert.Equal(t, "please search", conv.Messages[0].Content)
	assert.Equal(t, "assistant", conv.Messages[1].Role)

	// The tool envelope's correlation id must name the assistant message.
	assert.Equal(t, responder.replyID, conv.Messages[1].ID)
	require.Len(t, conv.Actions, 1)
	env, err := conv.Actions[0].Envelope()
	require.NoError(t, err)
	assert.Equal(t, responder.replyID, env.CorrelationID)
}

func TestHandleMessage_ValidatesBody(t *testing.T) {
	_, _, srv := newTestServer(t)

	for name, payload := range map[string]string{
		"not json":        `{broken`,
		"missing fields":  `{}`,
		"missing message": `{"conversation_id":"conv-1"}`,
	} {
		resp, err := http.Post(srv.URL+"/api/message", "application/json", strings.NewReader(payload))
		require.NoError(t, err, name)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, name)
	}
}

func TestEmit_PersistsInvocationEnvelopes(t *testing.T) {
	server, _, _ := newTestServer(t)

	server.Emit(context.Background(), wire.Envelope{
		InvocationID:   "t1",
		Kind:           wire.KindToolResult,
		ConversationID: "conv-1",
		Result:         json.RawMessage(`{"hits":3}`),
	})
	// Thinking updates are realtime-only and must not be persisted.
	server.Emit(context.Background(), wire.Envelope{
		Kind:           "thinking",
		ConversationID: "conv-1",
		Message:        "hmm",
	})

	conv, err := server.store.GetConversation(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, conv.Actions, 1)
	assert.Equal(t, "tool_result", conv.Actions[0].ActionType)
}

func TestWebsocket_SubscribeAndReceive(t *testing.T) {
	server, _, srv := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(context.Background(), wsURL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	frame, _ := json.Marshal(wire.InterestFrame{ConversationID: "conv-1"})
	require.NoError(t, conn.Write(context.Background(), websocket.MessageText, frame))

	// First the ack, then the published envelope.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var ack subscriptionAck
	require.NoError(t, json.Unmarshal(data, &ack))
	assert.Equal(t, "subscription_ack", ack.Type)
	assert.Equal(t, "conv-1", ack.ConversationID)

	server.Emit(context.Background(), wire.Envelope{
		InvocationID:   "t1",
		Kind:           wire.KindToolStart,
		ConversationID: "conv-1",
		Tool:           "search",
	})

	_, data, err = conn.Read(ctx)
	require.NoError(t, err)
	env, err := wire.ParseEnvelope(data, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "t1", env.InvocationID)
	assert.Equal(t, wire.KindToolStart, env.Kind)
}

func TestWebsocket_MultipleConversationsOneConnection(t *testing.T) {
	server, _, srv := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(context.Background(), wsURL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for _, id := range []string{"conv-1", "conv-2"} {
		frame, _ := json.Marshal(wire.InterestFrame{ConversationID: id})
		require.NoError(t, conn.Write(ctx, websocket.MessageText, frame))
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var ack subscriptionAck
		require.NoError(t, json.Unmarshal(data, &ack))
		assert.Equal(t, id, ack.ConversationID)
	}

	server.Emit(context.Background(), wire.Envelope{InvocationID: "a", Kind: wire.KindToolStart, ConversationID: "conv-2"})
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	env, err := wire.ParseEnvelope(data, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "a", env.InvocationID)
	assert.Equal(t, "conv-2", env.ConversationID)
}

func TestWebsocket_IgnoresUnrecognizedFrames(t *testing.T) {
	_, _, srv := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(context.Background(), wsURL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Garbage first; the connection must survive and accept the real frame.
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{nope`)))
	frame, _ := json.Marshal(wire.InterestFrame{ConversationID: "conv-1"})
	require.NoError(t, conn.Write(ctx, websocket.MessageText, frame))

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var ack subscriptionAck
	require.NoError(t, json.Unmarshal(data, &ack))
	assert.Equal(t, "conv-1", ack.ConversationID)
}

func TestHealth(t *testing.T) {
	_, _, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
