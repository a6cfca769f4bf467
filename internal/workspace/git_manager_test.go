package workspace

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mattjoyce/switchyard/internal/domain"
	"github.com/mattjoyce/switchyard/internal/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func run(t *testing.T, dir string, args ...string) string {
	t.Helper()
	out, err := ExecRunner{}.Run(context.Background(), "git", append([]string{"-C", dir}, args...)...)
	require.NoError(t, err)
	return strings.TrimSpace(string(out))
}

func initRepo(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "main")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	run(t, dir, "init", "-q")
	run(t, dir, "config", "user.name", "test")
	run(t, dir, "config", "user.email", "test@example.com")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte(".env\n"), 0o644))
	run(t, dir, "add", "-A")
	run(t, dir, "commit", "-q", "-m", "init")
	return dir
}

func newManager(t *testing.T) *GitManager {
	return NewGitManager(filepath.Join(t.TempDir(), "worktrees"), "ticket/", []string{".env", ".env.local"}, nil)
}

func TestEnsureWorkspaceMissingMainRepo(t *testing.T) {
	m := newManager(t)
	p := domain.Project{ID: "web", MainRepo: filepath.Join(t.TempDir(), "absent")}

	ws := m.EnsureWorkspace(context.Background(), p, "WEB-1")
	assert.Equal(t, p.MainRepo, ws.Path)
	assert.False(t, ws.Isolated)
}

func TestEnsureWorkspaceNotGit(t *testing.T) {
	requireGit(t)
	m := newManager(t)
	p := domain.Project{ID: "web", MainRepo: t.TempDir()}

	ws := m.EnsureWorkspace(context.Background(), p, "WEB-1")
	assert.Equal(t, p.MainRepo, ws.Path)
	assert.False(t, ws.Isolated)
}

func TestEnsureWorkspaceCreatesWorktreeOnce(t *testing.T) {
	requireGit(t)
	mainRepo := initRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(mainRepo, ".env"), []byte("TOKEN=x\n"), 0o600))

	m := newManager(t)
	p := domain.Project{ID: "web", MainRepo: mainRepo}

	first := m.EnsureWorkspace(context.Background(), p, "WEB-1")
	require.True(t, first.Isolated)
	assert.Equal(t, "ticket/WEB-1", first.Branch)
	assert.Equal(t, filepath.Join(m.root, "web", "WEB-1"), first.Path)

	env, err := os.ReadFile(filepath.Join(first.Path, ".env"))
	require.NoError(t, err)
	assert.Equal(t, "TOKEN=x\n", string(env))
	_, err = os.Stat(filepath.Join(first.Path, "README.md"))
	require.NoError(t, err)

	second := m.EnsureWorkspace(context.Background(), p, "WEB-1")
	assert.Equal(t, first, second)

	branches := run(t, mainRepo, "branch", "--list", "ticket/*")
	assert.Equal(t, 1, len(strings.Split(branches, "\n")))
	worktrees := run(t, mainRepo, "worktree", "list", "--porcelain")
	assert.Equal(t, 2, strings.Count(worktrees, "worktree "))
}

func TestEnsureWorkspaceReusesExistingBranch(t *testing.T) {
	requireGit(t)
	mainRepo := initRepo(t)
	run(t, mainRepo, "branch", "ticket/WEB-2")

	m := newManager(t)
	ws := m.EnsureWorkspace(context.Background(), domain.Project{ID: "web", MainRepo: mainRepo}, "WEB-2")
	require.True(t, ws.Isolated)
	assert.Equal(t, "ticket/WEB-2", run(t, ws.Path, "rev-parse", "--abbrev-ref", "HEAD"))
}

type failingRunner struct {
	failOn string
	calls  []string
}

func (r *failingRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	call := strings.Join(args, " ")
	r.calls = append(r.calls, call)
	if strings.Contains(call, r.failOn) {
		return nil, errors.New("boom")
	}
	return nil, nil
}

func TestEnsureWorkspaceFallsBackOnFailure(t *testing.T) {
	mainRepo := t.TempDir()
	runner := &failingRunner{failOn: "worktree add"}
	m := NewGitManager(filepath.Join(t.TempDir(), "wt"), "", nil, runner)

	ws := m.EnsureWorkspace(context.Background(), domain.Project{ID: "web", MainRepo: mainRepo}, "WEB-3")
	assert.Equal(t, mainRepo, ws.Path)
	assert.False(t, ws.Isolated)
	assert.NotEmpty(t, runner.calls)
}

func TestShipMergesBranch(t *testing.T) {
	requireGit(t)
	mainRepo := initRepo(t)
	m := newManager(t)
	p := domain.Project{ID: "web", MainRepo: mainRepo}

	ws := m.EnsureWorkspace(context.Background(), p, "WEB-4")
	require.True(t, ws.Isolated)
	require.NoError(t, os.WriteFile(filepath.Join(ws.Path, "feature.go"), []byte("package feature\n"), 0o644))

	res, err := m.Ship(context.Background(), p, "WEB-4")
	require.NoError(t, err)
	assert.True(t, res.Merged)
	assert.NotEmpty(t, res.Commit)

	_, err = os.Stat(filepath.Join(mainRepo, "feature.go"))
	require.NoError(t, err)
	_, err = os.Stat(ws.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestShipRecoversCorruptedWorkspace(t *testing.T) {
	requireGit(t)
	mainRepo := initRepo(t)
	m := newManager(t)
	p := domain.Project{ID: "web", MainRepo: mainRepo}

	ws := m.EnsureWorkspace(context.Background(), p, "WEB-5")
	require.True(t, ws.Isolated)

	// Simulate a scaffolding tool re-initialising the checkout.
	require.NoError(t, os.Remove(filepath.Join(ws.Path, ".git")))
	run(t, ws.Path, "init", "-q")
	require.NoError(t, os.MkdirAll(filepath.Join(ws.Path, "app"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(ws.Path, "app", "main.go"), []byte("package main\n"), 0o644))

	res, err := m.Ship(context.Background(), p, "WEB-5")
	require.NoError(t, err)
	assert.True(t, res.Recovered)
	assert.NotEmpty(t, res.Commit)

	b, err := os.ReadFile(filepath.Join(mainRepo, "app", "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(b))
	assert.Contains(t, run(t, mainRepo, "log", "-1", "--format=%s"), "recover files from corrupted workspace")
	_, err = os.Stat(ws.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestShipWithoutWorkspace(t *testing.T) {
	m := newManager(t)
	_, err := m.Ship(context.Background(), domain.Project{ID: "web", MainRepo: t.TempDir()}, "WEB-9")
	assert.Error(t, err)
}
