// Package session owns the on-disk record of one dispatch attempt: the
// brief, the system prompt, captured output and the append-only event log.
// A Context is created per dispatch and passed explicitly to everything that
// writes into the session.
package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattjoyce/switchyard/internal/domain"
)

// Fixed filenames inside a session directory.
const (
	TaskFile         = "task.md"
	SystemPromptFile = "system-prompt.txt"
	OutputFile       = "output.md"
	StderrFile       = "stderr.log"
	EventsFile       = "session.jsonl"
)

const stampLayout = "20060102T150405.000000000Z"

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Context identifies one dispatch attempt and carries its event log.
type Context struct {
	ID        string
	Dir       string
	TicketID  string
	TicketKey string
	PersonaID string
	Phase     domain.Phase
	StartedAt time.Time

	log *Log
}

func (c *Context) TaskPath() string         { return filepath.Join(c.Dir, TaskFile) }
func (c *Context) SystemPromptPath() string { return filepath.Join(c.Dir, SystemPromptFile) }
func (c *Context) OutputPath() string       { return filepath.Join(c.Dir, OutputFile) }
func (c *Context) StderrPath() string       { return filepath.Join(c.Dir, StderrFile) }
func (c *Context) EventsPath() string       { return filepath.Join(c.Dir, EventsFile) }

// Record appends ev to session.jsonl.
func (c *Context) Record(ev Event) error {
	if c.log == nil {
		return fmt.Errorf("session %s has no open log", c.ID)
	}
	return c.log.Append(ev)
}

// WriteFile writes one of the fixed session files.
func (c *Context) WriteFile(name, content string) error {
	if err := os.WriteFile(filepath.Join(c.Dir, name), []byte(content), 0o644); err != nil {
		return fmt.Errorf("write session %s: %w", name, err)
	}
	return nil
}

// Close releases the event log. The directory is kept.
func (c *Context) Close() error {
	if c.log == nil {
		return nil
	}
	return c.log.Close()
}

// Manager creates session directories under a root, one subdirectory per
// ticket key.
type Manager struct {
	root string
	now  func() time.Time
}

func NewManager(root string) (*Manager, error) {
	trimmed := strings.TrimSpace(root)
	if trimmed == "" {
		return nil, fmt.Errorf("session root directory is empty")
	}
	return &Manager{root: filepath.Clean(trimmed), now: time.Now}, nil
}

func (m *Manager) Root() string { return m.root }

// Create makes a new session directory named
// <root>/<ticketKey>/<phase>-<timestamp>[-<personaID>] and opens its log.
func (m *Manager) Create(ctx context.Context, ticket domain.Ticket, phase domain.Phase, personaID string) (*Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := safeName(ticket.Key)
	if key == "" {
		return nil, fmt.Errorf("ticket key is empty")
	}

	started := m.now().UTC()
	name := string(phase) + "-" + started.Format(stampLayout)
	if personaID != "" {
		name += "-" + safeName(personaID)
	}
	dir := filepath.Join(m.root, key, name)

	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return nil, fmt.Errorf("create session parent: %w", err)
	}
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	log, err := OpenLog(filepath.Join(dir, EventsFile))
	if err != nil {
		return nil, err
	}
	log.now = m.now

	return &Context{
		ID:        uuid.NewString(),
		Dir:       dir,
		TicketID:  ticket.ID,
		TicketKey: ticket.Key,
		PersonaID: personaID,
		Phase:     phase,
		StartedAt: started,
		log:       log,
	}, nil
}

// List returns a ticket's session directories, oldest first.
func (m *Manager) List(ticketKey string) ([]string, error) {
	base := filepath.Join(m.root, safeName(ticketKey))
	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	type dated struct {
		dir   string
		stamp string
	}
	var out []dated
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, stamp, ok := splitName(e.Name()); ok {
			out = append(out, dated{filepath.Join(base, e.Name()), stamp})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].stamp < out[j].stamp })

	dirs := make([]string, len(out))
	for i, d := range out {
		dirs[i] = d.dir
	}
	return dirs, nil
}

// splitName extracts phase and timestamp from a session directory name.
func splitName(name string) (phase, stamp string, ok bool) {
	phase, rest, found := strings.Cut(name, "-")
	if !found || len(rest) < len(stampLayout) {
		return "", "", false
	}
	stamp = rest[:len(stampLayout)]
	if _, err := time.Parse(stampLayout, stamp); err != nil {
		return "", "", false
	}
	return phase, stamp, true
}

// ParseDirName splits a session directory name into its phase, start time
// and persona ID. The persona is empty for sessions created without one.
func ParseDirName(name string) (phase domain.Phase, started time.Time, personaID string, ok bool) {
	p, stamp, ok := splitName(name)
	if !ok {
		return "", time.Time{}, "", false
	}
	started, _ = time.Parse(stampLayout, stamp)
	rest := name[len(p)+1+len(stamp):]
	return domain.Phase(p), started, strings.TrimPrefix(rest, "-"), true
}

func safeName(s string) string {
	return strings.Trim(unsafeName.ReplaceAllString(strings.TrimSpace(s), "_"), "._")
}
