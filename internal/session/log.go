package session

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Log appends events to session.jsonl. Lines are never rewritten; every
// write is synced so a crash leaves everything up to the last event.
// It is safe for concurrent use.
type Log struct {
	mu     sync.Mutex
	file   *os.File
	now    func() time.Time
	closed bool
}

// OpenLog opens path for appending, creating it if needed.
func OpenLog(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open session log %q: %w", path, err)
	}
	return &Log{file: f, now: time.Now}, nil
}

// Append stamps and writes one event.
func (l *Log) Append(ev Event) error {
	if ev.At.IsZero() {
		ev.At = l.now().UTC()
	}
	if err := ev.Validate(); err != nil {
		return err
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode session event: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.New("session log is closed")
	}
	if _, err := l.file.Write(line); err != nil {
		return fmt.Errorf("write session event: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync session log: %w", err)
	}
	return nil
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}

// ReadEvents decodes a session log. A torn final line (crash mid-write) is
// dropped; corruption anywhere else is an error.
func ReadEvents(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()
	return DecodeEvents(f)
}

func DecodeEvents(r io.Reader) ([]Event, error) {
	var (
		out     []Event
		pending error
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		if pending != nil {
			return nil, pending
		}
		var ev Event
		if err := json.Unmarshal(b, &ev); err != nil {
			pending = fmt.Errorf("session log line %d: %w", line, err)
			continue
		}
		out = append(out, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan session log: %w", err)
	}
	return out, nil
}

// Summary is what a session's event log says happened.
type Summary struct {
	Strategy     string
	Resumed      bool
	Turns        int
	ToolCalls    int
	ToolErrors   int
	InputTokens  int
	OutputTokens int
	Statuses     []string
	Terminal     Kind
	Outcome      string
	ExitCode     int
	LastError    string
	StartedAt    time.Time
	EndedAt      time.Time
}

// Finished reports whether the session reached a terminal event.
func (s Summary) Finished() bool { return s.Terminal != "" }

// Replay folds events into a Summary.
func Replay(events []Event) Summary {
	var s Summary
	for _, ev := range events {
		if s.StartedAt.IsZero() {
			s.StartedAt = ev.At
		}
		switch ev.Kind {
		case KindSpawn:
			if ev.Spawn != nil {
				s.Strategy = ev.Spawn.Strategy
				s.Resumed = ev.Spawn.Resumed
			}
		case KindTurn:
			if ev.Turn != nil {
				s.Turns = max(s.Turns, ev.Turn.Number)
				s.InputTokens += ev.Turn.InputTokens
				s.OutputTokens += ev.Turn.OutputTokens
			}
		case KindToolCall:
			s.ToolCalls++
		case KindToolResult:
			if ev.ToolResult != nil && ev.ToolResult.IsError {
				s.ToolErrors++
			}
		case KindStatus:
			if ev.Status != nil {
				s.Statuses = append(s.Statuses, ev.Status.Message)
			}
		case KindTimeout:
			s.Terminal, s.EndedAt, s.Outcome = KindTimeout, ev.At, "timeout"
		case KindComplete:
			s.Terminal, s.EndedAt = KindComplete, ev.At
			if ev.Complete != nil {
				s.Outcome = ev.Complete.Outcome
				s.ExitCode = ev.Complete.ExitCode
			}
		case KindError:
			s.Terminal, s.EndedAt, s.Outcome = KindError, ev.At, "error"
			if ev.Error != nil {
				s.LastError = ev.Error.Message
				s.ExitCode = ev.Error.ExitCode
			}
		}
	}
	return s
}
