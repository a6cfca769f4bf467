// Package cooldown throttles repeat dispatches of the same persona to the
// same ticket.
package cooldown

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/mattjoyce/switchyard/internal/config"
)

// Kind selects the cooldown window for a trigger.
type Kind string

const (
	Mention Kind = "mention"
	Auto    Kind = "auto"
	Urgent  Kind = "urgent"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case Mention, Auto, Urgent:
		return k, nil
	case "":
		return Auto, nil
	}
	return "", fmt.Errorf("unknown trigger kind %q", s)
}

// Tracker answers whether a (ticket, persona) pair was dispatched too
// recently for a trigger of the given kind.
type Tracker interface {
	IsOnCooldown(ticketID, personaID string, kind Kind) bool
	MarkDispatched(ticketID, personaID string)
}

const (
	DefaultMentionWindow = 2 * time.Minute
	DefaultAutoWindow    = 30 * time.Minute
	DefaultMaxEntries    = 10000
)

// LRUTracker keeps last-dispatch times in a cache whose entries expire after
// the longer window. Entries are never evicted while still inside it; once
// the table reaches maxEntries, the next mark prunes expired entries.
type LRUTracker struct {
	mention    time.Duration
	auto       time.Duration
	maxEntries int // prune threshold, not a hard cap
	now        func() time.Time

	mu    sync.Mutex
	cache *expirable.LRU[string, time.Time]
}

var _ Tracker = (*LRUTracker)(nil)

func New(mention, auto time.Duration, maxEntries int) *LRUTracker {
	if mention <= 0 {
		mention = DefaultMentionWindow
	}
	if auto <= 0 {
		auto = DefaultAutoWindow
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &LRUTracker{
		mention:    mention,
		auto:       auto,
		maxEntries: maxEntries,
		now:        time.Now,
		// Size 0 disables LRU eviction; only expiry removes entries.
		cache: expirable.NewLRU[string, time.Time](0, nil, max(mention, auto)),
	}
}

func NewFromConfig(cfg config.CooldownConfig) *LRUTracker {
	return New(cfg.Mention, cfg.Auto, cfg.MaxEntries)
}

func key(ticketID, personaID string) string { return ticketID + "\x00" + personaID }

func (t *LRUTracker) window(kind Kind) time.Duration {
	if kind == Mention {
		return t.mention
	}
	return t.auto
}

func (t *LRUTracker) IsOnCooldown(ticketID, personaID string, kind Kind) bool {
	if kind == Urgent {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	last, ok := t.cache.Peek(key(ticketID, personaID))
	if !ok {
		return false
	}
	return t.now().Sub(last) < t.window(kind)
}

func (t *LRUTracker) MarkDispatched(ticketID, personaID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cache.Len() >= t.maxEntries {
		t.pruneLocked()
	}
	t.cache.Add(key(ticketID, personaID), t.now())
}

// pruneLocked drops entries older than the longest window.
func (t *LRUTracker) pruneLocked() {
	cutoff := t.now().Add(-max(t.mention, t.auto))
	for _, k := range t.cache.Keys() {
		if at, ok := t.cache.Peek(k); ok && at.Before(cutoff) {
			t.cache.Remove(k)
		}
	}
}

func (t *LRUTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cache.Len()
}
