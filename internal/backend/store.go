// ABOUTME: SQLite persistence for conversations, messages, and tool actions
// ABOUTME: Backs the REST history endpoint; schema is created automatically

package backend

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/loomworks/weft/wire"
)

// ErrConversationNotFound is returned when a requested conversation does not exist.
var ErrConversationNotFound = errors.New("conversation not found")

// Store persists conversations with their messages and tool actions.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore opens a SQLite store at the given path, creating parent
// directories and the schema as needed.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *Store) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			title      TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			content         TEXT NOT NULL,
			role            TEXT NOT NULL,
			created_at      TEXT NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS actions (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			action_type     TEXT NOT NULL,
			data            TEXT NOT NULL,
			created_at      TEXT NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_actions_conversation_created
			ON actions(conversation_id, created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateConversation inserts a conversation. An empty id gets a generated
// UUID; an empty title gets "Conversation <first 8 of id>".
func (s *Store) CreateConversation(ctx context.Context, id, title string) (*wire.Conversation, error) {
	if id == "" {
		id = uuid.New().String()
	}
	if title == "" {
		short := id
		if len(short) > 8 {
			short = short[:8]
		}
		title = "Conversation " + short
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, title, created_at) VALUES (?, ?, ?)`,
		id, title, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "conversation_id", id, "title", title)
	return &wire.Conversation{ID: id, Title: title, Messages: []wire.Message{}}, nil
}

// ensureConversation creates the conversation if it does not already exist,
// mirroring the auto-create behavior of the history API's writers.
func (s *Store) ensureConversation(ctx context.Context, id string) error {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM conversations WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking conversation: %w", err)
	}
	if exists > 0 {
		return nil
	}
	_, err = s.CreateConversation(ctx, id, "")
	return err
}

// AddMessage appends a message to a conversation, creating the conversation
// on first use. An empty id gets a generated UUID; callers that need to
// correlate tool envelopes with the message pre-generate the id.
func (s *Store) AddMessage(ctx context.Context, conversationID, id, content, role string) (*wire.Message, error) {
	if err := s.ensureConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	if id == "" {
		id = uuid.New().String()
	}

	msg := &wire.Message{
		ID:        id,
		Content:   content,
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, content, role, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, conversationID, msg.Content, msg.Role, msg.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}
	return msg, nil
}

// AddAction appends a tool action to a conversation, creating the
// conversation on first use. Data holds the envelope JSON as emitted on the
// realtime channel.
func (s *Store) AddAction(ctx context.Context, conversationID, actionType string, data json.RawMessage) (*wire.StoredAction, error) {
	if err := s.ensureConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	action := &wire.StoredAction{
		ID:         uuid.New().String(),
		ActionType: actionType,
		Data:       data,
		CreatedAt:  time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO actions (id, conversation_id, action_type, data, created_at) VALUES (?, ?, ?, ?, ?)`,
		action.ID, conversationID, action.ActionType, string(action.Data), action.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting action: %w", err)
	}
	return action, nil
}

// GetConversation loads one conversation with its ordered messages and actions.
func (s *Store) GetConversation(ctx context.Context, id string) (*wire.Conversation, error) {
	conv := &wire.Conversation{ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT title FROM conversations WHERE id = ?`, id).Scan(&conv.Title)
	if err == sql.ErrNoRows {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	if conv.Messages, err = s.listMessages(ctx, id); err != nil {
		return nil, err
	}
	if conv.Actions, err = s.listActions(ctx, id); err != nil {
		return nil, err
	}
	return conv, nil
}

// ListConversations loads every conversation with messages and actions,
// ordered by creation time.
func (s *Store) ListConversations(ctx context.Context) ([]wire.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title FROM conversations ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var conversations []wire.Conversation
	for rows.Next() {
		var conv wire.Conversation
		if err := rows.Scan(&conv.ID, &conv.Title); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}

	for i := range conversations {
		if conversations[i].Messages, err = s.listMessages(ctx, conversations[i].ID); err != nil {
			return nil, err
		}
		if conversations[i].Actions, err = s.listActions(ctx, conversations[i].ID); err != nil {
			return nil, err
		}
	}
	return conversations, nil
}

func (s *Store) listMessages(ctx context.Context, conversationID string) ([]wire.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, role, created_at FROM messages
		 WHERE conversation_id = ? ORDER BY created_at ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := []wire.Message{}
	for rows.Next() {
		var msg wire.Message
		var createdAt string
		if err := rows.Scan(&msg.ID, &msg.Content, &msg.Role, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if msg.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing message timestamp: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *Store) listActions(ctx context.Context, conversationID string) ([]wire.StoredAction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, action_type, data, created_at FROM actions
		 WHERE conversation_id = ? ORDER BY created_at ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying actions: %w", err)
	}
	defer rows.Close()

	var actions []wire.StoredAction
	for rows.Next() {
		var action wire.StoredAction
		var data, createdAt string
		if err := rows.Scan(&action.ID, &action.ActionType, &data, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning action: %w", err)
		}
		action.Data = json.RawMessage(data)
		if action.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing action timestamp: %w", err)
		}
		actions = append(actions, action)
	}
	return actions, rows.Err()
}
