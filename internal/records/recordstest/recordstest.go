// Package recordstest builds throwaway SQLite record stores for tests in
// other packages.
package recordstest

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mattjoyce/switchyard/internal/domain"
	"github.com/mattjoyce/switchyard/internal/records"
	"github.com/mattjoyce/switchyard/internal/storage"
)

// NewStore opens a fresh store in t.TempDir and closes it on cleanup.
func NewStore(t testing.TB) *records.SQLStore {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return records.NewSQLStore(db)
}

// Project stores a project with the given main repository.
func Project(t testing.TB, s *records.SQLStore, id, mainRepo string) domain.Project {
	t.Helper()
	p := domain.Project{ID: id, Name: strings.ToUpper(id), RootDir: mainRepo, MainRepo: mainRepo}
	if err := s.PutProject(context.Background(), p); err != nil {
		t.Fatalf("put project: %v", err)
	}
	return p
}

// Persona stores a persona. An empty projectID makes it global.
func Persona(t testing.TB, s *records.SQLStore, id, name string, role domain.Role, projectID string) domain.Persona {
	t.Helper()
	p := domain.Persona{ID: id, Name: name, Role: role, ProjectID: projectID}
	if err := s.PutPersona(context.Background(), p); err != nil {
		t.Fatalf("put persona: %v", err)
	}
	return p
}

// Ticket stores a ticket and reads it back. mutate may adjust it first.
func Ticket(t testing.TB, s *records.SQLStore, id, projectID string, state domain.TicketState, mutate ...func(*domain.Ticket)) domain.Ticket {
	t.Helper()
	tk := domain.Ticket{
		ID:        id,
		Key:       strings.ToUpper(id),
		ProjectID: projectID,
		Title:     "Ticket " + id,
		State:     state,
	}
	for _, m := range mutate {
		m(&tk)
	}
	if err := s.PutTicket(context.Background(), tk); err != nil {
		t.Fatalf("put ticket: %v", err)
	}
	got, err := s.Ticket(context.Background(), id)
	if err != nil {
		t.Fatalf("read ticket: %v", err)
	}
	return got
}
