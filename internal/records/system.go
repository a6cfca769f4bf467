package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const pauseKey = "pause"

// PauseState is the system-wide dispatch pause. It is set when agent
// credentials or quota are exhausted and blocks every dispatch until cleared.
type PauseState struct {
	Paused bool       `json:"paused"`
	Reason string     `json:"reason,omitempty"`
	Since  time.Time  `json:"since,omitzero"`
	Until  *time.Time `json:"until,omitempty"`
}

// PauseState reads the pause flag. A pause whose Until has passed reads as
// not paused.
func (s *SQLStore) PauseState(ctx context.Context) (PauseState, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM system_state WHERE key = ?;", pauseKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return PauseState{}, nil
	}
	if err != nil {
		return PauseState{}, fmt.Errorf("read pause state: %w", err)
	}

	var st PauseState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return PauseState{}, fmt.Errorf("decode pause state: %w", err)
	}
	if st.Paused && st.Until != nil && !s.now().Before(*st.Until) {
		return PauseState{}, nil
	}
	return st, nil
}

func (s *SQLStore) Pause(ctx context.Context, reason string, until *time.Time) error {
	return s.putPause(ctx, PauseState{Paused: true, Reason: reason, Since: s.now().UTC(), Until: until})
}

func (s *SQLStore) Resume(ctx context.Context) error {
	return s.putPause(ctx, PauseState{})
}

func (s *SQLStore) putPause(ctx context.Context, st PauseState) error {
	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode pause state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO system_state(key, value, updated_at) VALUES(?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at;
`, pauseKey, string(b), formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("write pause state: %w", err)
	}
	return nil
}
