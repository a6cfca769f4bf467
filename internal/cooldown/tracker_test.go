package cooldown

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTracker(maxEntries int) (*LRUTracker, *clock) {
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	tr := New(2*time.Minute, 30*time.Minute, maxEntries)
	tr.now = c.now
	return tr, c
}

func TestCooldownWindows(t *testing.T) {
	tr, c := newTracker(0)
	assert.False(t, tr.IsOnCooldown("t1", "p1", Auto))

	tr.MarkDispatched("t1", "p1")
	assert.True(t, tr.IsOnCooldown("t1", "p1", Mention))
	assert.True(t, tr.IsOnCooldown("t1", "p1", Auto))
	assert.False(t, tr.IsOnCooldown("t1", "p1", Urgent))
	assert.False(t, tr.IsOnCooldown("t1", "p2", Auto))
	assert.False(t, tr.IsOnCooldown("t2", "p1", Auto))

	c.advance(3 * time.Minute)
	assert.False(t, tr.IsOnCooldown("t1", "p1", Mention))
	assert.True(t, tr.IsOnCooldown("t1", "p1", Auto))

	c.advance(30 * time.Minute)
	assert.False(t, tr.IsOnCooldown("t1", "p1", Auto))
}

func TestCooldownPrunesWhenFull(t *testing.T) {
	tr, c := newTracker(3)
	tr.MarkDispatched("t1", "p")
	tr.MarkDispatched("t2", "p")
	c.advance(time.Hour)
	tr.MarkDispatched("t3", "p")
	require.Equal(t, 3, tr.Len())

	tr.MarkDispatched("t4", "p")
	assert.Equal(t, 2, tr.Len())
	assert.True(t, tr.IsOnCooldown("t3", "p", Auto))
	assert.True(t, tr.IsOnCooldown("t4", "p", Auto))
}

func TestCooldownNeverDropsLiveEntries(t *testing.T) {
	tr, c := newTracker(3)
	for i := range 20 {
		tr.MarkDispatched(fmt.Sprintf("t%d", i), "p")
	}
	assert.Equal(t, 20, tr.Len())
	for i := range 20 {
		assert.True(t, tr.IsOnCooldown(fmt.Sprintf("t%d", i), "p", Auto), "t%d", i)
	}

	c.advance(time.Hour)
	tr.MarkDispatched("t20", "p")
	assert.Equal(t, 1, tr.Len())
	assert.True(t, tr.IsOnCooldown("t20", "p", Auto))
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("Mention")
	require.NoError(t, err)
	assert.Equal(t, Mention, k)
	k, err = ParseKind("")
	require.NoError(t, err)
	assert.Equal(t, Auto, k)
	_, err = ParseKind("whenever")
	assert.Error(t, err)
}
