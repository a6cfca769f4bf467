package records

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/switchyard/internal/domain"
	"github.com/mattjoyce/switchyard/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time { return c.t }

func newTestStore(t *testing.T) (*SQLStore, *testClock) {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clock := &testClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	s := NewSQLStore(db)
	s.now = clock.Now
	return s, clock
}

func seedTicket(t *testing.T, s *SQLStore, id, project string, state domain.TicketState) domain.Ticket {
	t.Helper()
	tk := domain.Ticket{ID: id, Key: strings.ToUpper(id), ProjectID: project, Title: "Ticket " + id, State: state}
	require.NoError(t, s.PutTicket(context.Background(), tk))
	got, err := s.Ticket(context.Background(), id)
	require.NoError(t, err)
	return got
}

func TestTicketRoundTrip(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	approved := clock.t.Add(-time.Hour)
	require.NoError(t, s.PutTicket(ctx, domain.Ticket{
		ID: "t1", Key: "ABC-1", ProjectID: "p1", Title: "Add login",
		State: domain.StatePlanning, Priority: 3, ResearchApprovedAt: &approved,
	}))

	got, err := s.TicketByKey(ctx, "ABC-1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.ID)
	assert.Equal(t, domain.StatePlanning, got.State)
	assert.Equal(t, 3, got.Priority)
	require.NotNil(t, got.ResearchApprovedAt)
	assert.True(t, approved.Equal(*got.ResearchApprovedAt))
	assert.Nil(t, got.LastAgentActivity)
	assert.True(t, clock.t.Equal(got.CreatedAt))

	_, err = s.Ticket(ctx, "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestActivityTouchAndClear(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	seedTicket(t, s, "t1", "p1", domain.StateBuilding)

	require.NoError(t, s.TouchActivity(ctx, "t1", "persona-dev", clock.t))
	got, _ := s.Ticket(ctx, "t1")
	require.NotNil(t, got.LastAgentActivity)
	assert.Equal(t, "persona-dev", got.AssigneeID)

	require.NoError(t, s.ClearActivity(ctx, "t1"))
	got, _ = s.Ticket(ctx, "t1")
	assert.Nil(t, got.LastAgentActivity)
	assert.Equal(t, "persona-dev", got.AssigneeID)

	err := s.ClearActivity(ctx, "nope")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestPersonaLookup(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutPersona(ctx, domain.Persona{ID: "g-crit", Name: "Vera", Role: domain.RoleCritic}))
	require.NoError(t, s.PutPersona(ctx, domain.Persona{ID: "p1-crit", Name: "Otto", Role: domain.RoleCritic, ProjectID: "p1"}))
	require.NoError(t, s.PutPersona(ctx, domain.Persona{ID: "p2-dev", Name: "Ada", Role: domain.RoleDeveloper, ProjectID: "p2"}))

	crits, err := s.PersonasByRole(ctx, "p1", domain.RoleCritic)
	require.NoError(t, err)
	require.Len(t, crits, 2)
	assert.Equal(t, "p1-crit", crits[0].ID, "project personas come first")
	assert.Equal(t, "g-crit", crits[1].ID)

	p, err := s.PersonaByName(ctx, "p1", "otto")
	require.NoError(t, err)
	assert.Equal(t, "p1-crit", p.ID)

	_, err = s.PersonaByName(ctx, "p1", "Ada")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	p, err = s.PersonaByName(ctx, "", "ADA")
	require.NoError(t, err)
	assert.Equal(t, "p2-dev", p.ID)

	assert.Error(t, s.PutPersona(ctx, domain.Persona{ID: "bad", Name: "x"}))
}

func TestRecentCommentsOldestFirst(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	for i, body := range []string{"one", "two", "three"} {
		clock.t = clock.t.Add(time.Duration(i+1) * time.Minute)
		_, err := s.AddComment(ctx, "t1", "human", body)
		require.NoError(t, err)
	}

	got, err := s.RecentComments(ctx, "t1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "two", got[0].Body)
	assert.Equal(t, "three", got[1].Body)

	none, err := s.RecentComments(ctx, "t1", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAuditTrail(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendAudit(ctx, domain.AuditEntry{TicketID: "t1", PersonaID: "p", Action: "dispatch", Detail: "research"}))
	require.NoError(t, s.AppendAudit(ctx, domain.AuditEntry{TicketID: "t1", Action: "skip"}))

	entries, err := s.Audit(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "dispatch", entries[0].Action)
	assert.NotEmpty(t, entries[0].ID)
}

func TestPauseState(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	st, err := s.PauseState(ctx)
	require.NoError(t, err)
	assert.False(t, st.Paused)

	until := clock.t.Add(10 * time.Minute)
	require.NoError(t, s.Pause(ctx, "rate limited", &until))
	st, err = s.PauseState(ctx)
	require.NoError(t, err)
	assert.True(t, st.Paused)
	assert.Equal(t, "rate limited", st.Reason)

	clock.t = until
	st, err = s.PauseState(ctx)
	require.NoError(t, err)
	assert.False(t, st.Paused, "expired pause reads as resumed")

	require.NoError(t, s.Pause(ctx, "auth expired", nil))
	require.NoError(t, s.Resume(ctx))
	st, _ = s.PauseState(ctx)
	assert.False(t, st.Paused)
}
