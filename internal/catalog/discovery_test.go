package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/switchyard/internal/domain"
	"github.com/mattjoyce/switchyard/internal/records/recordstest"
)

func writeManifest(t *testing.T, root, dir, body string) string {
	t.Helper()
	d := filepath.Join(root, dir)
	require.NoError(t, os.MkdirAll(d, 0o755))
	path := filepath.Join(d, manifestFilename)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const rita = `id: p-rita
name: Rita
role: researcher
project: web
personality: |
  Careful and skeptical.
skills: go, sqlite
`

func TestDiscover(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, root string)
		wantIDs []string
		check   func(t *testing.T, cat *Catalog)
	}{
		{
			name:    "valid manifest",
			setup:   func(t *testing.T, root string) { writeManifest(t, root, "rita", rita) },
			wantIDs: []string{"p-rita"},
			check: func(t *testing.T, cat *Catalog) {
				e, ok := cat.Get("p-rita")
				require.True(t, ok)
				assert.Equal(t, domain.RoleResearcher, e.Persona.Role)
				assert.Equal(t, "web", e.Persona.ProjectID)
				assert.Equal(t, "Careful and skeptical.", e.Persona.Personality)
				assert.Equal(t, "go, sqlite", e.Persona.Skills)
			},
		},
		{
			name: "nested and global",
			setup: func(t *testing.T, root string) {
				writeManifest(t, root, "team/a/rita", rita)
				writeManifest(t, root, "team/b/hal", "id: p-hal\nname: Hal\nrole: hacker\n")
			},
			wantIDs: []string{"p-hal", "p-rita"},
			check: func(t *testing.T, cat *Catalog) {
				e, _ := cat.Get("p-hal")
				assert.True(t, e.Persona.Global())
			},
		},
		{
			name: "manager is an alias for lead",
			setup: func(t *testing.T, root string) {
				writeManifest(t, root, "lee", "id: p-lee\nname: Lee\nrole: Manager\n")
			},
			wantIDs: []string{"p-lee"},
			check: func(t *testing.T, cat *Catalog) {
				e, _ := cat.Get("p-lee")
				assert.Equal(t, domain.RoleLead, e.Persona.Role)
			},
		},
		{
			name: "invalid manifests skipped",
			setup: func(t *testing.T, root string) {
				writeManifest(t, root, "ok", rita)
				writeManifest(t, root, "no-id", "name: X\nrole: critic\n")
				writeManifest(t, root, "bad-role", "id: p-x\nname: X\nrole: astronaut\n")
				writeManifest(t, root, "spaced", "id: p-y\nname: Two Words\nrole: critic\n")
				writeManifest(t, root, "upper", "id: P-Z\nname: Z\nrole: critic\n")
				writeManifest(t, root, "yaml", "id: [\n")
			},
			wantIDs: []string{"p-rita"},
		},
		{
			name: "duplicate keeps first",
			setup: func(t *testing.T, root string) {
				writeManifest(t, root, "a", rita)
				writeManifest(t, root, "b", "id: p-rita\nname: Other\nrole: critic\n")
			},
			wantIDs: []string{"p-rita"},
			check: func(t *testing.T, cat *Catalog) {
				e, _ := cat.Get("p-rita")
				assert.Equal(t, "Rita", e.Persona.Name)
			},
		},
		{
			name: "world-writable directory rejected",
			setup: func(t *testing.T, root string) {
				path := writeManifest(t, root, "open", rita)
				require.NoError(t, os.Chmod(filepath.Dir(path), 0o777))
			},
			wantIDs: nil,
		},
		{
			name: "other yaml files ignored",
			setup: func(t *testing.T, root string) {
				require.NoError(t, os.WriteFile(filepath.Join(root, "notes.yaml"), []byte(rita), 0o644))
			},
			wantIDs: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			tt.setup(t, root)

			cat, err := Discover([]string{root}, nil)
			require.NoError(t, err)

			var ids []string
			for _, e := range cat.All() {
				ids = append(ids, e.Persona.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
			if tt.check != nil {
				tt.check(t, cat)
			}
		})
	}
}

func TestDiscoverRoots(t *testing.T) {
	_, err := Discover(nil, nil)
	assert.Error(t, err)

	_, err = Discover([]string{filepath.Join(t.TempDir(), "missing")}, nil)
	assert.ErrorContains(t, err, "does not exist")

	file := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = Discover([]string{file}, nil)
	assert.ErrorContains(t, err, "not a directory")

	first, second := t.TempDir(), t.TempDir()
	writeManifest(t, first, "rita", rita)
	writeManifest(t, second, "rita", "id: p-rita\nname: Second\nrole: critic\n")
	cat, err := Discover([]string{first, " ", first, second}, nil)
	require.NoError(t, err)
	e, _ := cat.Get("p-rita")
	assert.Equal(t, "Rita", e.Persona.Name)
}

func TestSync(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "rita", rita)
	writeManifest(t, root, "hal", "id: p-hal\nname: Hal\nrole: hacker\n")
	cat, err := Discover([]string{root}, nil)
	require.NoError(t, err)

	store := recordstest.NewStore(t)
	n, err := Sync(context.Background(), store, cat)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	p, err := store.PersonaByName(context.Background(), "web", "rita")
	require.NoError(t, err)
	assert.Equal(t, "p-rita", p.ID)
	hal, err := store.Persona(context.Background(), "p-hal")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleHacker, hal.Role)
}

func TestWatcherResyncsOnChange(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "rita", rita)
	store := recordstest.NewStore(t)

	synced := make(chan *Catalog, 4)
	w := NewWatcher([]string{root}, store, nil)
	w.debounce = 20 * time.Millisecond
	w.onSync = func(c *Catalog, err error) {
		if err == nil {
			synced <- c
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher a moment to register the tree.
	time.Sleep(100 * time.Millisecond)
	writeManifest(t, root, "team/hal", "id: p-hal\nname: Hal\nrole: hacker\n")

	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-synced:
			if _, ok := c.Get("p-hal"); ok {
				p, err := store.Persona(context.Background(), "p-hal")
				require.NoError(t, err)
				assert.Equal(t, "Hal", p.Name)
				return
			}
		case <-deadline:
			t.Fatal("catalog never re-synced with the new persona")
		}
	}
}
