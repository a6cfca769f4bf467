package records

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mattjoyce/switchyard/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(cs []Candidate) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Ticket.ID)
	}
	return out
}

func TestResearchCandidatesStopAtThreeVersions(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	seedTicket(t, s, "fresh", "p1", domain.StateBacklog)
	seedTicket(t, s, "reviewed", "p1", domain.StateBacklog)
	seedTicket(t, s, "done", "p1", domain.StateBacklog)
	seedTicket(t, s, "building", "p1", domain.StateBuilding)

	_, err := s.AppendResearch(ctx, "reviewed", "r", "R", "v1 text")
	require.NoError(t, err)
	for i := 1; i <= 3; i++ {
		_, err := s.AppendResearch(ctx, "done", "r", "R", fmt.Sprintf("version %d of the research", i))
		require.NoError(t, err)
	}

	cs, err := s.ResearchCandidates(ctx, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"fresh", "reviewed"}, ids(cs))
	for _, c := range cs {
		if c.Ticket.ID == "reviewed" {
			assert.Equal(t, 1, c.MaxResearchVersion)
		} else {
			assert.Equal(t, 0, c.MaxResearchVersion)
		}
	}
}

func TestResearchCandidatesOrderByPriority(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"old-low", "new-high", "new-low"} {
		clock.t = clock.t.Add(time.Duration(i) * time.Minute)
		prio := 0
		if id == "new-high" {
			prio = 5
		}
		require.NoError(t, s.PutTicket(ctx, domain.Ticket{ID: id, Key: id, ProjectID: "p", Title: id, State: domain.StateBacklog, Priority: prio}))
	}

	cs, err := s.ResearchCandidates(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"new-high", "old-low"}, ids(cs))
}

func TestPlanningCandidates(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	seedTicket(t, s, "unapproved", "p1", domain.StateBacklog)
	seedTicket(t, s, "approved", "p1", domain.StateBacklog)
	seedTicket(t, s, "planned", "p1", domain.StatePlanning)
	require.NoError(t, s.ApproveResearch(ctx, "approved"))
	require.NoError(t, s.ApproveResearch(ctx, "planned"))
	_, err := s.UpsertDocument(ctx, "planned", domain.DocPlan, "dev", "the plan")
	require.NoError(t, err)

	cs, err := s.PlanningCandidates(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"approved"}, ids(cs))
}

func TestImplementationCandidatesQuietPeriod(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"idle", "busy", "stale", "unapproved"} {
		seedTicket(t, s, id, "p1", domain.StateBuilding)
		if id != "unapproved" {
			require.NoError(t, s.ApprovePlan(ctx, id))
		}
	}
	require.NoError(t, s.TouchActivity(ctx, "busy", "dev", clock.t.Add(-5*time.Minute)))
	require.NoError(t, s.TouchActivity(ctx, "stale", "dev", clock.t.Add(-45*time.Minute)))

	cs, err := s.ImplementationCandidates(ctx, clock.t.Add(-20*time.Minute), 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"idle", "stale"}, ids(cs))
}
