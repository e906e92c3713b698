// ABOUTME: REST client for conversation history and message sending
// ABOUTME: Wraps GET /api/conversations and POST /api/message

package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/loomworks/weft/wire"
)

// defaultTimeout bounds each history request.
const defaultTimeout = 30 * time.Second

// Client fetches persisted conversation history and sends messages over the
// backend's REST API. Fetch failures are surfaced to the caller as
// recoverable errors; no retry is performed here.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a history client for the given base URL (scheme + host,
// no trailing slash). Pass nil logger for default.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  logger.With("component", "history"),
	}
}

// Conversations fetches every conversation with its messages and persisted
// tool actions.
func (c *Client) Conversations(ctx context.Context) ([]wire.Conversation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/conversations", nil)
	if err != nil {
		return nil, fmt.Errorf("building conversations request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching conversations: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetching conversations: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var out wire.ConversationsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding conversations: %w", err)
	}

	c.logger.Debug("fetched conversations", "count", len(out.Conversations))
	return out.Conversations, nil
}

// Send posts a user message to a conversation. The agent's tool activity
// arrives asynchronously over the realtime channel; the returned string is
// its final answer.
func (c *Client) Send(ctx context.Context, conversationID, message string) (string, error) {
	body, err := json.Marshal(wire.SendRequest{
		ConversationID: conversationID,
		Message:        message,
	})
	if err != nil {
		return "", fmt.Errorf("encoding send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/message", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("sending message: status %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}

	var out wire.SendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding send response: %w", err)
	}
	return out.Response, nil
}
