package catalog

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/switchyard/internal/domain"
)

// Catalog holds discovered personas indexed by ID.
type Catalog struct {
	entries map[string]Entry
}

func newCatalog() *Catalog {
	return &Catalog{entries: make(map[string]Entry)}
}

func (c *Catalog) Get(id string) (Entry, bool) {
	e, ok := c.entries[id]
	return e, ok
}

// All returns every entry ordered by persona ID.
func (c *Catalog) All() []Entry {
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Persona.ID < out[j].Persona.ID })
	return out
}

func (c *Catalog) Len() int { return len(c.entries) }

func (c *Catalog) add(e Entry) error {
	if existing, ok := c.entries[e.Persona.ID]; ok {
		return fmt.Errorf("persona %q already declared in %s", e.Persona.ID, existing.Path)
	}
	c.entries[e.Persona.ID] = e
	return nil
}

// Discover scans roots for persona.yaml manifests. Roots are processed in
// order and a duplicate ID keeps the first manifest found. Invalid
// manifests are logged and skipped.
func Discover(roots []string, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	absRoots, err := resolveRoots(roots)
	if err != nil {
		return nil, err
	}

	cat := newCatalog()
	for _, root := range absRoots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() || d.Name() != manifestFilename {
				return nil
			}

			entry, err := loadManifest(path)
			if err != nil {
				logger.Warn("persona manifest skipped", "path", path, "error", err)
				return nil
			}
			if err := cat.add(entry); err != nil {
				logger.Warn("duplicate persona ignored (keeping first discovered)", "persona", entry.Persona.ID,
					"ignored_path", entry.Path, "error", err)
				return nil
			}
			logger.Debug("persona discovered", "persona", entry.Persona.ID, "role", entry.Persona.Role, "path", path)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan persona root %s: %w", root, err)
		}
	}
	return cat, nil
}

func resolveRoots(roots []string) ([]string, error) {
	out := make([]string, 0, len(roots))
	seen := make(map[string]bool, len(roots))
	for _, root := range roots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolve persona root %q: %w", root, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("persona root does not exist: %s", abs)
			}
			return nil, fmt.Errorf("stat persona root %s: %w", abs, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("persona root is not a directory: %s", abs)
		}
		if seen[abs] {
			continue
		}
		seen[abs] = true
		out = append(out, abs)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one persona root is required")
	}
	return out, nil
}

func loadManifest(path string) (Entry, error) {
	if err := checkTrust(path); err != nil {
		return Entry{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Entry{}, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Entry{}, fmt.Errorf("parse manifest YAML: %w", err)
	}
	if err := validateManifest(&m); err != nil {
		return Entry{}, fmt.Errorf("invalid manifest: %w", err)
	}
	return Entry{Persona: m.persona(), Path: path}, nil
}

// checkTrust rejects world-writable manifests and manifest directories.
func checkTrust(path string) error {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return fmt.Errorf("resolve manifest: %w", err)
	}
	for _, p := range []string{resolved, filepath.Dir(resolved)} {
		info, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("stat %s: %w", p, err)
		}
		if info.Mode().Perm()&0o002 != 0 {
			return fmt.Errorf("%s is world-writable", p)
		}
	}
	return nil
}

// Store is where discovered personas are written.
type Store interface {
	PutPersona(ctx context.Context, p domain.Persona) error
}

// Sync upserts every catalog persona into the store. Personas that exist
// only in the store are left alone.
func Sync(ctx context.Context, store Store, cat *Catalog) (int, error) {
	n := 0
	for _, e := range cat.All() {
		if err := store.PutPersona(ctx, e.Persona); err != nil {
			return n, fmt.Errorf("sync persona %q from %s: %w", e.Persona.ID, e.Path, err)
		}
		n++
	}
	return n, nil
}
