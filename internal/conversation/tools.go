package conversation

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/mattjoyce/switchyard/internal/llm"
	"github.com/mattjoyce/switchyard/internal/workspace"
)

// Tool names understood by the executor.
const (
	ToolReadFile      = "read_file"
	ToolSearchCode    = "search_code"
	ToolListDirectory = "list_directory"
	ToolGitLog        = "git_log"
	ToolGitBlame      = "git_blame"
)

const (
	maxSearchMatches = 200
	maxSearchFileLen = 1 << 20
	defaultGitLogMax = 20
)

var errOutsideWorkspace = errors.New("path escapes the workspace")

var toolDefs = []llm.Tool{
	{
		Name:        ToolReadFile,
		Description: "Read a file from the workspace.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"Path relative to the workspace root"}},"required":["path"]}`),
	},
	{
		Name:        ToolSearchCode,
		Description: "Search workspace files for a regular expression. Returns path:line: text matches.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"pattern":{"type":"string"},"path":{"type":"string","description":"Optional subdirectory"}},"required":["pattern"]}`),
	},
	{
		Name:        ToolListDirectory,
		Description: "List a workspace directory. Directories end with a slash.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}}}`),
	},
	{
		Name:        ToolGitLog,
		Description: "Show recent commits, optionally limited to one path.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"},"limit":{"type":"integer"}}}`),
	},
	{
		Name:        ToolGitBlame,
		Description: "Show line-by-line authorship for a file.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`),
	},
}

// ToolDefs returns the schemas for the named tools, or all of them when
// names is empty. Unknown names are ignored.
func ToolDefs(names []string) []llm.Tool {
	if len(names) == 0 {
		return append([]llm.Tool(nil), toolDefs...)
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []llm.Tool
	for _, t := range toolDefs {
		if want[t.Name] {
			out = append(out, t)
		}
	}
	return out
}

// ToolOutput is one tool execution, already capped.
type ToolOutput struct {
	Content   string
	Truncated bool
	IsError   bool
}

// Executor runs read-only tools confined to one workspace root.
type Executor struct {
	root     string
	maxBytes int
	allowed  map[string]bool
	runner   workspace.CommandRunner
}

func NewExecutor(root string, maxBytes int, allowed []string, runner workspace.CommandRunner) *Executor {
	if runner == nil {
		runner = workspace.ExecRunner{}
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	e := &Executor{root: filepath.Clean(root), maxBytes: maxBytes, runner: runner}
	if len(allowed) > 0 {
		e.allowed = make(map[string]bool, len(allowed))
		for _, n := range allowed {
			e.allowed[n] = true
		}
	}
	return e
}

// Execute runs one tool call. Failures are reported to the model as error
// results rather than returned.
func (e *Executor) Execute(ctx context.Context, use llm.ToolUse) ToolOutput {
	if e.allowed != nil && !e.allowed[use.Name] {
		return ToolOutput{Content: fmt.Sprintf("tool %q is not available", use.Name), IsError: true}
	}

	var in struct {
		Path    string `json:"path"`
		Pattern string `json:"pattern"`
		Limit   int    `json:"limit"`
	}
	if len(use.Input) > 0 {
		if err := json.Unmarshal(use.Input, &in); err != nil {
			return ToolOutput{Content: "invalid tool input: " + err.Error(), IsError: true}
		}
	}

	var (
		out string
		err error
	)
	switch use.Name {
	case ToolReadFile:
		out, err = e.readFile(in.Path)
	case ToolSearchCode:
		out, err = e.searchCode(in.Pattern, in.Path)
	case ToolListDirectory:
		out, err = e.listDirectory(in.Path)
	case ToolGitLog:
		out, err = e.gitLog(ctx, in.Path, in.Limit)
	case ToolGitBlame:
		out, err = e.gitBlame(ctx, in.Path)
	default:
		err = fmt.Errorf("unknown tool %q", use.Name)
	}
	if err != nil {
		return ToolOutput{Content: err.Error(), IsError: true}
	}
	return e.cap(out)
}

func (e *Executor) cap(s string) ToolOutput {
	if e.maxBytes <= 0 || len(s) <= e.maxBytes {
		return ToolOutput{Content: s}
	}
	cut := e.maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return ToolOutput{Content: s[:cut] + "\n[output truncated]", Truncated: true}
}

// resolve maps a model-supplied path onto the workspace, refusing anything
// that lands outside the root after symlinks are followed.
func (e *Executor) resolve(p string) (string, error) {
	joined := filepath.Join(e.root, filepath.Clean("/"+p))
	target := joined
	if resolved, err := filepath.EvalSymlinks(joined); err == nil {
		target = resolved
	}
	rel, err := filepath.Rel(e.root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", p, errOutsideWorkspace)
	}
	return target, nil
}

func (e *Executor) readFile(p string) (string, error) {
	if p == "" {
		return "", errors.New("path is required")
	}
	path, err := e.resolve(p)
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", p, err)
	}
	return string(b), nil
}

func (e *Executor) listDirectory(p string) (string, error) {
	path, err := e.resolve(p)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return "", fmt.Errorf("list %s: %w", p, err)
	}
	names := make([]string, 0, len(entries))
	for _, ent := range entries {
		name := ent.Name()
		if ent.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "\n"), nil
}

func (e *Executor) searchCode(pattern, sub string) (string, error) {
	if pattern == "" {
		return "", errors.New("pattern is required")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("invalid pattern: %w", err)
	}
	base, err := e.resolve(sub)
	if err != nil {
		return "", err
	}

	var matches []string
	walkErr := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if info, err := d.Info(); err != nil || info.Size() > maxSearchFileLen {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer f.Close()
		rel, _ := filepath.Rel(e.root, path)
		sc := bufio.NewScanner(f)
		line := 0
		for sc.Scan() {
			line++
			if re.Match(sc.Bytes()) {
				matches = append(matches, rel+":"+strconv.Itoa(line)+": "+strings.TrimSpace(sc.Text()))
				if len(matches) >= maxSearchMatches {
					return fs.SkipAll
				}
			}
		}
		return nil
	})
	if walkErr != nil {
		return "", walkErr
	}
	if len(matches) == 0 {
		return "no matches", nil
	}
	return strings.Join(matches, "\n"), nil
}

func (e *Executor) gitLog(ctx context.Context, p string, limit int) (string, error) {
	if limit <= 0 || limit > 200 {
		limit = defaultGitLogMax
	}
	args := []string{"-C", e.root, "log", "--no-color", "--format=%h %ad %an %s", "--date=short", "-n", strconv.Itoa(limit)}
	if p != "" {
		path, err := e.resolve(p)
		if err != nil {
			return "", err
		}
		args = append(args, "--", path)
	}
	out, err := e.runner.Run(ctx, "git", args...)
	if err != nil {
		return "", fmt.Errorf("git log: %w", err)
	}
	return string(out), nil
}

func (e *Executor) gitBlame(ctx context.Context, p string) (string, error) {
	if p == "" {
		return "", errors.New("path is required")
	}
	path, err := e.resolve(p)
	if err != nil {
		return "", err
	}
	out, err := e.runner.Run(ctx, "git", "-C", e.root, "blame", "--date=short", "--", path)
	if err != nil {
		return "", fmt.Errorf("git blame: %w", err)
	}
	return string(out), nil
}
