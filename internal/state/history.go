// Package state persists conversation transcripts so an interrupted
// conversation can resume where it stopped.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/switchyard/internal/llm"
)

const DefaultMaxHistoryBytes = 8 << 20 // 8 MiB

// Conversation is the saved transcript of one persona's conversation on a
// ticket.
type Conversation struct {
	Messages    []llm.Message
	Turns       int
	InputTokens int64
	UpdatedAt   time.Time
}

// HistoryStore keeps one transcript per (ticket, persona) in conversations.
type HistoryStore struct {
	db       *sql.DB
	maxBytes int
	now      func() time.Time
}

func NewHistoryStore(db *sql.DB) *HistoryStore {
	return &HistoryStore{db: db, maxBytes: DefaultMaxHistoryBytes, now: time.Now}
}

func checkKey(ticketID, personaID string) error {
	if ticketID == "" {
		return fmt.Errorf("ticket id is empty")
	}
	if personaID == "" {
		return fmt.Errorf("persona id is empty")
	}
	return nil
}

// Load returns the persona's saved transcript for the ticket. ok is false
// when none exists.
func (s *HistoryStore) Load(ctx context.Context, ticketID, personaID string) (Conversation, bool, error) {
	if err := checkKey(ticketID, personaID); err != nil {
		return Conversation{}, false, err
	}

	var (
		raw     string
		conv    Conversation
		updated string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT messages, turns, input_tokens, updated_at FROM conversations WHERE ticket_id = ? AND persona_id = ?;",
		ticketID, personaID).Scan(&raw, &conv.Turns, &conv.InputTokens, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, false, nil
	}
	if err != nil {
		return Conversation{}, false, fmt.Errorf("read conversation history: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &conv.Messages); err != nil {
		return Conversation{}, false, fmt.Errorf("stored conversation for %s/%s is invalid JSON: %w", ticketID, personaID, err)
	}
	conv.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return conv, true, nil
}

// Save replaces the persona's transcript for the ticket.
func (s *HistoryStore) Save(ctx context.Context, ticketID, personaID string, conv Conversation) error {
	if err := checkKey(ticketID, personaID); err != nil {
		return err
	}
	msgs := conv.Messages
	if msgs == nil {
		msgs = []llm.Message{}
	}
	raw, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	if len(raw) > s.maxBytes {
		return fmt.Errorf("conversation history exceeds max size (%d bytes)", s.maxBytes)
	}

	now := s.now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, `
INSERT INTO conversations(ticket_id, persona_id, messages, turns, input_tokens, updated_at)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(ticket_id, persona_id) DO UPDATE SET
  messages = excluded.messages,
  turns = excluded.turns,
  input_tokens = excluded.input_tokens,
  updated_at = excluded.updated_at;
`, ticketID, personaID, string(raw), conv.Turns, conv.InputTokens, now)
	if err != nil {
		return fmt.Errorf("upsert conversation history: %w", err)
	}
	return nil
}

// Clear drops the persona's transcript once its conversation has finished.
func (s *HistoryStore) Clear(ctx context.Context, ticketID, personaID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE ticket_id = ? AND persona_id = ?;", ticketID, personaID); err != nil {
		return fmt.Errorf("delete conversation history: %w", err)
	}
	return nil
}
