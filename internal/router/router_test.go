package router

import (
	"context"
	"errors"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/switchyard/internal/cooldown"
	"github.com/mattjoyce/switchyard/internal/dispatch"
	"github.com/mattjoyce/switchyard/internal/domain"
	"github.com/mattjoyce/switchyard/internal/log"
	"github.com/mattjoyce/switchyard/internal/records"
	"github.com/mattjoyce/switchyard/internal/records/recordstest"
	"github.com/mattjoyce/switchyard/internal/router/mocks"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

type harness struct {
	store  *records.SQLStore
	exec   *mocks.MockExecutor
	router *Router

	mu   sync.Mutex
	jobs []dispatch.Job
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	ctrl := gomock.NewController(t)
	s := recordstest.NewStore(t)
	recordstest.Project(t, s, "web", "")
	recordstest.Persona(t, s, "p-res", "Rita", domain.RoleResearcher, "web")
	recordstest.Persona(t, s, "p-crit", "Carl", domain.RoleCritic, "")
	recordstest.Persona(t, s, "p-dev", "Dana", domain.RoleDeveloper, "web")
	recordstest.Persona(t, s, "p-hack", "Hal", domain.RoleHacker, "")

	h := &harness{store: s, exec: mocks.NewMockExecutor(ctrl)}
	h.router = New(s, cooldown.New(2*time.Minute, 30*time.Minute, 100), h.exec, nil, opts)
	return h
}

// expectRuns accepts n jobs and records them.
func (h *harness) expectRuns(n int, err error) {
	h.exec.EXPECT().Run(gomock.Any(), gomock.Any()).Times(n).DoAndReturn(
		func(_ context.Context, job dispatch.Job) (dispatch.Result, error) {
			h.mu.Lock()
			h.jobs = append(h.jobs, job)
			h.mu.Unlock()
			return dispatch.Result{SessionDir: "/sessions/" + job.Persona.ID, Outcome: "completed", Err: err}, err
		})
}

func (h *harness) personas() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var ids []string
	for _, j := range h.jobs {
		ids = append(ids, j.Persona.ID)
	}
	sort.Strings(ids)
	return ids
}

func approvedResearch(tk *domain.Ticket) {
	at := time.Now().Add(-time.Hour)
	tk.ResearchApprovedAt = &at
}

func TestAutoResearchPicksResearcher(t *testing.T) {
	h := newHarness(t, Options{ExcerptChars: 100, RecentComments: 5, Acknowledge: true})
	recordstest.Ticket(t, h.store, "t1", "web", domain.StateBacklog, func(tk *domain.Ticket) {
		tk.Description = "Pages load slowly."
	})
	h.expectRuns(1, nil)

	out, err := h.router.Dispatch(context.Background(), "t1", Trigger{Kind: cooldown.Auto, Source: "scheduler"})
	require.NoError(t, err)
	assert.Empty(t, out.Skipped)
	require.Len(t, out.Targets, 1)
	assert.Equal(t, "p-res", out.Targets[0].Persona.ID)
	assert.Equal(t, domain.DocResearch, out.Targets[0].DocumentType)
	assert.Equal(t, "/sessions/p-res", out.Targets[0].SessionDir)

	job := h.jobs[0]
	assert.Equal(t, domain.PhaseResearch, job.Phase)
	assert.Equal(t, domain.RoleResearcher.Capabilities().Tools, job.Tools)
	assert.Equal(t, domain.RoleResearcher.Capabilities().ConversationTools, job.ConversationTools)
	assert.Contains(t, job.Task, "Pages load slowly.")
	assert.Contains(t, job.Task, "## Instructions: research\n")
	assert.Contains(t, job.SystemPrompt, "You are Rita, the Researcher")

	tk, _ := h.store.Ticket(context.Background(), "t1")
	assert.NotNil(t, tk.LastAgentActivity)
	assert.Equal(t, "p-res", tk.AssigneeID)

	trail, _ := h.store.Audit(context.Background(), "t1")
	require.Len(t, trail, 1)
	assert.Equal(t, "dispatch", trail[0].Action)
	assert.Contains(t, trail[0].Detail, "source=scheduler")

	comments, _ := h.store.RecentComments(context.Background(), "t1", 5)
	require.Len(t, comments, 1)
	assert.Equal(t, AckAuthor, comments[0].AuthorID)
	assert.Contains(t, comments[0].Body, "Rita (Researcher) is picking this up")
}

func TestResearchAlternatesRoles(t *testing.T) {
	h := newHarness(t, Options{})
	recordstest.Ticket(t, h.store, "t1", "web", domain.StateBacklog)
	_, err := h.store.AppendResearch(context.Background(), "t1", "p-res", "Rita", "first findings")
	require.NoError(t, err)
	h.expectRuns(1, nil)

	out, err := h.router.Dispatch(context.Background(), "t1", Trigger{})
	require.NoError(t, err)
	require.Len(t, out.Launched(), 1)
	assert.Equal(t, "p-crit", out.Targets[0].Persona.ID)
	assert.Contains(t, h.jobs[0].Task, "## Instructions: research review")
	// Reviewers see prior artifacts in full.
	assert.Contains(t, h.jobs[0].Task, "first findings")
}

func TestResearchCompleteHasNoPersona(t *testing.T) {
	h := newHarness(t, Options{})
	recordstest.Ticket(t, h.store, "t1", "web", domain.StateBacklog)
	ctx := context.Background()
	for _, p := range []struct{ id, name, body string }{
		{"p-res", "Rita", "first findings"},
		{"p-crit", "Carl", "review"},
		{"p-res", "Rita", "first findings\n\n## Review by Carl\n\nreview\n\nrevised"},
	} {
		_, err := h.store.AppendResearch(ctx, "t1", p.id, p.name, p.body)
		require.NoError(t, err)
	}

	out, err := h.router.Dispatch(ctx, "t1", Trigger{})
	require.NoError(t, err)
	assert.Equal(t, SkipNoPersona, out.Skipped)
}

func TestHumanOwnedPhaseSkipped(t *testing.T) {
	for _, state := range []domain.TicketState{domain.StateReview, domain.StateShipped} {
		t.Run(string(state), func(t *testing.T) {
			h := newHarness(t, Options{Acknowledge: true})
			recordstest.Ticket(t, h.store, "t1", "web", state)

			out, err := h.router.Dispatch(context.Background(), "t1", Trigger{PersonaID: "p-dev"})
			require.NoError(t, err)
			assert.Equal(t, SkipHumanOwned, out.Skipped)
			assert.Empty(t, out.Targets)

			comments, _ := h.store.RecentComments(context.Background(), "t1", 5)
			assert.Empty(t, comments)
		})
	}
}

func TestPausedSystemSkipped(t *testing.T) {
	h := newHarness(t, Options{})
	recordstest.Ticket(t, h.store, "t1", "web", domain.StateBacklog)
	require.NoError(t, h.store.Pause(context.Background(), "quota", nil))

	out, err := h.router.Dispatch(context.Background(), "t1", Trigger{})
	require.NoError(t, err)
	assert.Equal(t, SkipPaused, out.Skipped)
	assert.Equal(t, "quota", out.Detail)
}

func TestCooldown(t *testing.T) {
	h := newHarness(t, Options{})
	recordstest.Ticket(t, h.store, "t1", "web", domain.StateBacklog)
	h.expectRuns(2, nil)
	ctx := context.Background()

	_, err := h.router.Dispatch(ctx, "t1", Trigger{PersonaID: "p-dev", Kind: cooldown.Mention})
	require.NoError(t, err)

	out, err := h.router.Dispatch(ctx, "t1", Trigger{PersonaID: "p-dev", Kind: cooldown.Mention})
	require.NoError(t, err)
	assert.Equal(t, SkipCooldown, out.Skipped)
	require.Len(t, out.Targets, 1)
	assert.Equal(t, SkipCooldown, out.Targets[0].Skipped)

	out, err = h.router.Dispatch(ctx, "t1", Trigger{PersonaID: "p-dev", Kind: cooldown.Urgent})
	require.NoError(t, err)
	assert.Empty(t, out.Skipped)
	assert.Len(t, out.Launched(), 1)
}

func TestMentionResolution(t *testing.T) {
	h := newHarness(t, Options{})
	recordstest.Project(t, h.store, "api", "")
	recordstest.Persona(t, h.store, "p-dev-api", "Dana", domain.RoleDeveloper, "api")
	recordstest.Ticket(t, h.store, "t1", "web", domain.StateBacklog)
	h.expectRuns(2, nil)
	ctx := context.Background()

	// In-project match wins over a same-named persona elsewhere.
	out, err := h.router.Dispatch(ctx, "t1", Trigger{Mention: "@dana", Kind: cooldown.Mention, Message: "@Dana can you look?"})
	require.NoError(t, err)
	require.Len(t, out.Launched(), 1)
	assert.Equal(t, "p-dev", out.Targets[0].Persona.ID)
	assert.Empty(t, out.Targets[0].DocumentType)
	assert.Contains(t, h.jobs[0].Task, "> @Dana can you look?")
	assert.Contains(t, h.jobs[0].Task, "Reply with a short comment")

	// Global fallback.
	out, err = h.router.Dispatch(ctx, "t1", Trigger{Mention: "Hal", Kind: cooldown.Mention})
	require.NoError(t, err)
	require.Len(t, out.Launched(), 1)
	assert.Equal(t, "p-hack", out.Targets[0].Persona.ID)

	out, err = h.router.Dispatch(ctx, "t1", Trigger{Mention: "nobody"})
	require.NoError(t, err)
	assert.Equal(t, SkipNoPersona, out.Skipped)
}

func TestPersonaIDTakesPrecedence(t *testing.T) {
	h := newHarness(t, Options{})
	recordstest.Ticket(t, h.store, "t1", "web", domain.StateBacklog)
	h.expectRuns(1, nil)

	out, err := h.router.Dispatch(context.Background(), "t1", Trigger{PersonaID: "p-hack", Mention: "Dana", Role: domain.RoleDeveloper})
	require.NoError(t, err)
	assert.Equal(t, "p-hack", out.Targets[0].Persona.ID)
}

func TestRequestedRole(t *testing.T) {
	h := newHarness(t, Options{})
	recordstest.Ticket(t, h.store, "t1", "web", domain.StateBacklog)
	h.expectRuns(1, nil)

	out, err := h.router.Dispatch(context.Background(), "t1", Trigger{Role: domain.RoleHacker})
	require.NoError(t, err)
	assert.Equal(t, "p-hack", out.Targets[0].Persona.ID)
	assert.Empty(t, out.Targets[0].DocumentType)
}

func TestBroadcastPlanning(t *testing.T) {
	h := newHarness(t, Options{Acknowledge: true})
	recordstest.Ticket(t, h.store, "t1", "web", domain.StateBacklog, approvedResearch)
	h.expectRuns(3, nil)

	out, err := h.router.Dispatch(context.Background(), "t1", Trigger{Broadcast: true})
	require.NoError(t, err)
	assert.Equal(t, domain.PhasePlanning, out.Phase)
	assert.Equal(t, []string{"p-crit", "p-dev", "p-hack"}, h.personas())

	types := map[string]domain.DocType{}
	for _, tgt := range out.Targets {
		types[tgt.Persona.ID] = tgt.DocumentType
	}
	assert.Equal(t, domain.DocPlan, types["p-dev"])
	assert.Empty(t, types["p-crit"])
	assert.Empty(t, types["p-hack"])

	comments, _ := h.store.RecentComments(context.Background(), "t1", 5)
	require.Len(t, comments, 1)
	assert.True(t, strings.HasPrefix(comments[0].Body, "Dispatched to "))
	for _, tgt := range h.jobs {
		assert.Contains(t, tgt.Task, "## Instructions: planning")
	}
}

func TestBroadcastSkipsCooldownPersonas(t *testing.T) {
	h := newHarness(t, Options{})
	recordstest.Ticket(t, h.store, "t1", "web", domain.StateBacklog)
	h.router.cooldowns.MarkDispatched("t1", "p-crit")
	h.expectRuns(1, nil)

	out, err := h.router.Dispatch(context.Background(), "t1", Trigger{Broadcast: true})
	require.NoError(t, err)
	require.Len(t, out.Targets, 2)
	assert.Len(t, out.Launched(), 1)
	assert.Equal(t, []string{"p-res"}, h.personas())
}

func TestSuppressAck(t *testing.T) {
	h := newHarness(t, Options{Acknowledge: true})
	recordstest.Ticket(t, h.store, "t1", "web", domain.StateBacklog)
	h.expectRuns(1, nil)

	_, err := h.router.Dispatch(context.Background(), "t1", Trigger{SuppressAck: true})
	require.NoError(t, err)
	comments, _ := h.store.RecentComments(context.Background(), "t1", 5)
	assert.Empty(t, comments)
}

func TestExecutorFailureOnTarget(t *testing.T) {
	h := newHarness(t, Options{})
	recordstest.Ticket(t, h.store, "t1", "web", domain.StateBacklog)
	h.expectRuns(1, domain.ErrProcessTimeout)

	out, err := h.router.Dispatch(context.Background(), "t1", Trigger{})
	require.NoError(t, err)
	assert.True(t, errors.Is(out.Err(), domain.ErrProcessTimeout))
}

func TestRouteReturnsBeforeJobsFinish(t *testing.T) {
	h := newHarness(t, Options{})
	recordstest.Ticket(t, h.store, "t1", "web", domain.StateBacklog)
	release := make(chan struct{})
	h.exec.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, dispatch.Job) (dispatch.Result, error) {
			<-release
			return dispatch.Result{Outcome: "completed"}, nil
		})

	p, err := h.router.Route(context.Background(), "t1", Trigger{})
	require.NoError(t, err)
	assert.Equal(t, "p-res", p.Planned().Targets[0].Persona.ID)
	assert.Empty(t, p.Planned().Targets[0].Outcome)
	close(release)
	assert.Equal(t, "completed", p.Wait().Targets[0].Outcome)
}

func TestUnknownTicket(t *testing.T) {
	h := newHarness(t, Options{})
	_, err := h.router.Dispatch(context.Background(), "missing", Trigger{})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
