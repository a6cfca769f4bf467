package records

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mattjoyce/switchyard/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckRegression(t *testing.T) {
	prev := strings.Repeat("a", 100)

	assert.NoError(t, CheckRegression("", "x"))
	assert.NoError(t, CheckRegression(prev, strings.Repeat("b", 30)))

	err := CheckRegression(prev, strings.Repeat("b", 29))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRegressionRejected))

	// Length is counted in characters, not bytes.
	assert.NoError(t, CheckRegression(strings.Repeat("é", 10), "abc"))
}

func TestRegressionRejectedLeavesStateUnchanged(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedTicket(t, s, "t1", "p1", domain.StateBuilding)

	first, err := s.UpsertDocument(ctx, "t1", domain.DocPlan, "dev", strings.Repeat("plan ", 100))
	require.NoError(t, err)

	for _, short := range []string{"tiny", strings.Repeat("x", 149)} {
		_, err = s.UpsertDocument(ctx, "t1", domain.DocPlan, "dev", short)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrRegressionRejected))
	}

	latest, err := s.LatestDocument(ctx, "t1", domain.DocPlan)
	require.NoError(t, err)
	assert.Equal(t, first, latest)
}

func TestUpsertDocumentSingleSlot(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	d1, err := s.UpsertDocument(ctx, "t1", domain.DocDesign, "designer", "first draft of the design")
	require.NoError(t, err)
	assert.Equal(t, 1, d1.Version)

	d2, err := s.UpsertDocument(ctx, "t1", domain.DocDesign, "designer", "second, longer draft of the design")
	require.NoError(t, err)
	assert.Equal(t, 2, d2.Version)
	assert.Equal(t, d1.ID, d2.ID)

	all, err := s.Documents(ctx, "t1", domain.DocDesign)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "second, longer draft of the design", all[0].Content)

	_, err = s.UpsertDocument(ctx, "t1", domain.DocResearch, "x", "y")
	assert.Error(t, err)
}

func TestResearchCycle(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	seedTicket(t, s, "t1", "p1", domain.StateBacklog)

	v1, err := s.AppendResearch(ctx, "t1", "res", "Rae", "Findings: the cache is cold on boot.")
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)

	v2, err := s.AppendResearch(ctx, "t1", "crit", "Vera", "Missing: eviction policy.")
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
	assert.True(t, strings.HasPrefix(v2.Content, v1.Content))
	assert.Contains(t, v2.Content, "## Review by Vera\n\nMissing: eviction policy.")

	tk, _ := s.Ticket(ctx, "t1")
	assert.Nil(t, tk.ResearchCompletedAt)

	v3, err := s.AppendResearch(ctx, "t1", "res", "Rae", v2.Content+"\n\nRevised: warm the cache with an LRU eviction policy.")
	require.NoError(t, err)
	assert.Equal(t, 3, v3.Version)

	tk, _ = s.Ticket(ctx, "t1")
	require.NotNil(t, tk.ResearchCompletedAt)
	assert.True(t, clock.t.Equal(*tk.ResearchCompletedAt))

	_, err = s.AppendResearch(ctx, "t1", "res", "Rae", "more")
	assert.True(t, errors.Is(err, ErrResearchComplete))

	all, err := s.Documents(ctx, "t1", domain.DocResearch)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestResearchRegressionRejected(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	seedTicket(t, s, "t1", "p1", domain.StateBacklog)

	_, err := s.AppendResearch(ctx, "t1", "res", "Rae", strings.Repeat("evidence ", 50))
	require.NoError(t, err)
	_, err = s.AppendResearch(ctx, "t1", "crit", "Vera", "ok")
	require.NoError(t, err)

	_, err = s.AppendResearch(ctx, "t1", "res", "Rae", "short rewrite")
	assert.True(t, errors.Is(err, domain.ErrRegressionRejected))

	all, _ := s.Documents(ctx, "t1", domain.DocResearch)
	assert.Len(t, all, 2)
}
