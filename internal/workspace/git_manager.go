package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/mattjoyce/switchyard/internal/domain"
	"github.com/mattjoyce/switchyard/internal/log"
)

var unsafeKey = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// commitIdentity keeps commits working on hosts without a git identity.
var commitIdentity = []string{"-c", "user.name=switchyard", "-c", "user.email=switchyard@localhost"}

// GitManager provisions one git worktree per ticket under root/<project>/<key>.
type GitManager struct {
	root         string
	branchPrefix string
	envFiles     []string
	runner       CommandRunner
	logger       *slog.Logger

	locks sync.Map // worktree path -> *sync.Mutex
}

var _ Manager = (*GitManager)(nil)

func NewGitManager(root, branchPrefix string, envFiles []string, runner CommandRunner) *GitManager {
	if runner == nil {
		runner = ExecRunner{}
	}
	if branchPrefix == "" {
		branchPrefix = "ticket/"
	}
	return &GitManager{
		root:         filepath.Clean(root),
		branchPrefix: branchPrefix,
		envFiles:     envFiles,
		runner:       runner,
		logger:       log.WithComponent("workspace"),
	}
}

func (m *GitManager) paths(project domain.Project, ticketKey string) (dir, branch string) {
	key := strings.Trim(unsafeKey.ReplaceAllString(ticketKey, "_"), "._")
	return filepath.Join(m.root, project.ID, key), m.branchPrefix + key
}

func (m *GitManager) lock(path string) func() {
	mu, _ := m.locks.LoadOrStore(path, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	return mu.(*sync.Mutex).Unlock
}

func (m *GitManager) git(ctx context.Context, dir string, args ...string) (string, error) {
	out, err := m.runner.Run(ctx, "git", append([]string{"-C", dir}, args...)...)
	return strings.TrimSpace(string(out)), err
}

// EnsureWorkspace returns the ticket's worktree, creating it on first use.
func (m *GitManager) EnsureWorkspace(ctx context.Context, project domain.Project, ticketKey string) Workspace {
	logger := m.logger.With("project", project.ID, "ticket_key", ticketKey)
	fallback := Workspace{Path: project.MainRepo}

	info, err := os.Stat(project.MainRepo)
	if err != nil || !info.IsDir() {
		logger.Warn("main repository unavailable, using it as is",
			"error", domain.NewError(domain.KindWorkspaceUnavailable, "workspace.ensure", fmt.Errorf("stat %q: %v", project.MainRepo, err)))
		return fallback
	}
	if _, err := m.git(ctx, project.MainRepo, "rev-parse", "--git-dir"); err != nil {
		logger.Debug("main repository is not under git, no isolation")
		return fallback
	}

	dir, branch := m.paths(project, ticketKey)
	unlock := m.lock(dir)
	defer unlock()

	if _, err := os.Stat(dir); err == nil {
		return Workspace{Path: dir, Branch: branch, Isolated: true}
	}

	if err := m.provision(ctx, project.MainRepo, dir, branch); err != nil {
		logger.Warn("workspace provisioning failed, falling back to main repository", "error", err)
		return fallback
	}
	logger.Info("workspace created", "path", dir, "branch", branch)
	return Workspace{Path: dir, Branch: branch, Isolated: true}
}

func (m *GitManager) provision(ctx context.Context, mainRepo, dir, branch string) error {
	if _, err := m.git(ctx, mainRepo, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch); err != nil {
		if _, err := m.git(ctx, mainRepo, "branch", branch, "HEAD"); err != nil {
			return fmt.Errorf("create branch %s: %w", branch, err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return fmt.Errorf("create worktree parent: %w", err)
	}
	if _, err := m.git(ctx, mainRepo, "worktree", "add", dir, branch); err != nil {
		return fmt.Errorf("worktree add: %w", err)
	}
	for _, name := range m.envFiles {
		if err := copyIfAbsent(filepath.Join(mainRepo, name), filepath.Join(dir, name)); err != nil {
			m.logger.Warn("env file not copied", "file", name, "error", err)
		}
	}
	return nil
}

// Ship folds the ticket's worktree back into the main repository and removes
// it. A worktree whose .git is a directory has been re-initialised as a
// standalone repository; its files are copied over instead of merged.
func (m *GitManager) Ship(ctx context.Context, project domain.Project, ticketKey string) (ShipResult, error) {
	dir, branch := m.paths(project, ticketKey)
	unlock := m.lock(dir)
	defer unlock()

	info, err := os.Stat(filepath.Join(dir, ".git"))
	if err != nil {
		return ShipResult{}, fmt.Errorf("ticket %s has no workspace at %s: %w", ticketKey, dir, err)
	}
	if info.IsDir() {
		return m.recoverCorrupted(ctx, project.MainRepo, dir, ticketKey)
	}

	if _, err := m.commitAll(ctx, dir, "ticket "+ticketKey+": pending changes"); err != nil {
		return ShipResult{}, err
	}
	if _, err := m.git(ctx, project.MainRepo, append(commitIdentity,
		"merge", "--no-ff", "--no-edit", "-m", "Merge "+branch, branch)...); err != nil {
		return ShipResult{}, fmt.Errorf("merge %s: %w", branch, err)
	}
	if _, err := m.git(ctx, project.MainRepo, "worktree", "remove", "--force", dir); err != nil {
		return ShipResult{}, fmt.Errorf("worktree remove: %w", err)
	}
	if _, err := m.git(ctx, project.MainRepo, "branch", "-d", branch); err != nil {
		m.logger.Warn("ticket branch not deleted", "branch", branch, "error", err)
	}
	head, _ := m.git(ctx, project.MainRepo, "rev-parse", "HEAD")
	return ShipResult{Merged: true, Commit: head}, nil
}

func (m *GitManager) recoverCorrupted(ctx context.Context, mainRepo, dir, ticketKey string) (ShipResult, error) {
	logger := m.logger.With("ticket_key", ticketKey, "path", dir)
	logger.Warn("workspace is a standalone repository, recovering by copy")

	if _, err := m.commitAll(ctx, dir, "ticket "+ticketKey+": pending changes before recovery"); err != nil {
		logger.Warn("could not commit inside corrupted workspace", "error", err)
	}
	if err := copyTree(dir, mainRepo); err != nil {
		return ShipResult{}, fmt.Errorf("copy corrupted workspace: %w", err)
	}
	committed, err := m.commitAll(ctx, mainRepo, "ticket "+ticketKey+": recover files from corrupted workspace")
	if err != nil {
		return ShipResult{}, err
	}
	if err := os.RemoveAll(dir); err != nil {
		return ShipResult{}, fmt.Errorf("remove corrupted workspace: %w", err)
	}
	_, _ = m.git(ctx, mainRepo, "worktree", "prune")

	res := ShipResult{Recovered: true}
	if committed {
		res.Commit, _ = m.git(ctx, mainRepo, "rev-parse", "HEAD")
	}
	return res, nil
}

// commitAll stages and commits everything in dir. It reports false when
// there was nothing to commit.
func (m *GitManager) commitAll(ctx context.Context, dir, msg string) (bool, error) {
	status, err := m.git(ctx, dir, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("git status in %s: %w", dir, err)
	}
	if status == "" {
		return false, nil
	}
	if _, err := m.git(ctx, dir, "add", "-A"); err != nil {
		return false, fmt.Errorf("git add in %s: %w", dir, err)
	}
	if _, err := m.git(ctx, dir, append(commitIdentity, "commit", "-m", msg)...); err != nil {
		return false, fmt.Errorf("git commit in %s: %w", dir, err)
	}
	return true, nil
}

func copyIfAbsent(src, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return nil
	}
	info, err := os.Stat(src)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	return copyFile(src, dst, info.Mode().Perm())
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// copyTree copies every regular file under src into dst, skipping .git.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(path, filepath.Join(dst, rel), info.Mode().Perm())
	})
}
