// ABOUTME: Conversation and message wire shapes for the REST history API
// ABOUTME: Matches GET /api/conversations and POST /api/message payloads

package wire

import "time"

// Message is one persisted message in a conversation.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Conversation is one conversation as served by the history endpoint,
// carrying its ordered messages and optionally its persisted tool actions.
type Conversation struct {
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	Messages []Message      `json:"messages"`
	Actions  []StoredAction `json:"actions,omitempty"`
}

// ConversationsResponse is the body of GET /api/conversations.
type ConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
}

// SendRequest is the body of POST /api/message.
type SendRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

// SendResponse is the body returned by POST /api/message. The response text
// is the agent's final answer; tool activity arrives over the realtime
// channel while the request is being processed.
type SendResponse struct {
	Response string `json:"response"`
}
