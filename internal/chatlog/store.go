// Package chatlog stores conversations and their messages.
//
// Messages are append-only: the core writes exactly one user turn and one
// assistant turn per successful chat request and never updates or deletes
// rows. History reads are capped at the most recent N turns to bound the
// prompt size sent upstream.
package chatlog

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Roles of a conversation turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation groups an ordered sequence of turns.
type Conversation struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

// Turn is one message of a conversation, ordered by CreatedAt ascending.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store manages conversations and messages.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a chatlog store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Create starts a new conversation.
func (s *Store) Create(ctx context.Context, title string) (Conversation, error) {
	if title == "" {
		title = "New Conversation"
	}

	var c Conversation
	err := s.pool.QueryRow(ctx,
		`INSERT INTO chat_conversations (title)
		 VALUES ($1)
		 RETURNING id, title, created_at`,
		title).Scan(&c.ID, &c.Title, &c.CreatedAt)
	if err != nil {
		return Conversation{}, fmt.Errorf("creating conversation: %w", err)
	}

	s.logger.Debug("conversation created", "id", c.ID, "title", c.Title)
	return c, nil
}

// Append adds one turn to a conversation. Append-only: rows are never
// updated afterwards.
func (s *Store) Append(ctx context.Context, conversationID uuid.UUID, role, content string) error {
	if role != RoleUser && role != RoleAssistant {
		return fmt.Errorf("invalid role: %q", role)
	}
	if content == "" {
		return fmt.Errorf("content is required")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_messages (conversation_id, role, content)
		 VALUES ($1, $2, $3)`,
		conversationID, role, content)
	if err != nil {
		return fmt.Errorf("appending %s message: %w", role, err)
	}

	return nil
}

// Recent returns the most recent n turns of a conversation in
// chronological order. Fetching newest-first and reversing keeps the cap
// on the latest turns rather than pinning the oldest ones forever.
func (s *Store) Recent(ctx context.Context, conversationID uuid.UUID, n int) ([]Turn, error) {
	if n < 1 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT role, content, created_at
		 FROM chat_messages
		 WHERE conversation_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		conversationID, n)
	if err != nil {
		return nil, fmt.Errorf("loading conversation history: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading turns: %w", err)
	}

	slices.Reverse(turns)
	return turns, nil
}

// Turns returns every turn of a conversation in chronological order.
func (s *Store) Turns(ctx context.Context, conversationID uuid.UUID) ([]Turn, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT role, content, created_at
		 FROM chat_messages
		 WHERE conversation_id = $1
		 ORDER BY created_at, id`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading turns: %w", err)
	}

	return turns, nil
}
