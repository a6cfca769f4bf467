package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mattjoyce/switchyard/internal/domain"
)

// MinRetainedRatio is the smallest fraction of the previous version's length
// a new version may have, as a percentage.
const MinRetainedRatio = 30

// ErrResearchComplete is returned when a fourth research version is written.
var ErrResearchComplete = errors.New("research cycle already complete")

// CheckRegression rejects next when it is shorter than MinRetainedRatio
// percent of prev. An empty prev never rejects.
func CheckRegression(prev, next string) error {
	prevLen := utf8.RuneCountInString(prev)
	if prevLen == 0 {
		return nil
	}
	nextLen := utf8.RuneCountInString(next)
	if nextLen*100 < prevLen*MinRetainedRatio {
		return domain.NewError(domain.KindRegressionRejected, "records.document",
			fmt.Errorf("new version has %d chars, previous had %d (minimum %d%%)", nextLen, prevLen, MinRetainedRatio))
	}
	return nil
}

// ReviewHeading prefixes the reviewer's section in research version 2.
func ReviewHeading(reviewer string) string {
	return "## Review by " + reviewer
}

const documentColumns = "id, ticket_id, type, version, content, author_id, created_at"

func scanDocument(row interface{ Scan(...any) error }) (domain.Document, error) {
	var (
		d       domain.Document
		typ, at string
	)
	if err := row.Scan(&d.ID, &d.TicketID, &typ, &d.Version, &d.Content, &d.AuthorID, &at); err != nil {
		return domain.Document{}, err
	}
	d.Type = domain.DocType(typ)
	var err error
	if d.CreatedAt, err = parseTime(at); err != nil {
		return domain.Document{}, err
	}
	return d, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func latestDocument(ctx context.Context, q querier, ticketID string, typ domain.DocType) (domain.Document, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE ticket_id = ? AND type = ? ORDER BY version DESC LIMIT 1;",
		ticketID, string(typ))
	d, err := scanDocument(row)
	if err != nil {
		return domain.Document{}, notFound("document", ticketID+"/"+string(typ), err)
	}
	return d, nil
}

func (s *SQLStore) LatestDocument(ctx context.Context, ticketID string, typ domain.DocType) (domain.Document, error) {
	return latestDocument(ctx, s.db, ticketID, typ)
}

// Documents lists every stored version, oldest first.
func (s *SQLStore) Documents(ctx context.Context, ticketID string, typ domain.DocType) ([]domain.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE ticket_id = ? AND type = ? ORDER BY version ASC;",
		ticketID, string(typ))
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []domain.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// AppendResearch stores the next research version. Version 2 is the
// reviewer's pass and is appended to version 1 under a review heading.
// Storing version 3 marks research complete on the ticket.
func (s *SQLStore) AppendResearch(ctx context.Context, ticketID, authorID, authorName, content string) (domain.Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Document{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	prev, err := latestDocument(ctx, tx, ticketID, domain.DocResearch)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.Document{}, err
	}
	if prev.Version >= domain.ResearchCycleVersions {
		return domain.Document{}, fmt.Errorf("ticket %q: %w", ticketID, ErrResearchComplete)
	}

	next := domain.Document{
		ID:        uuid.NewString(),
		TicketID:  ticketID,
		Type:      domain.DocResearch,
		Version:   prev.Version + 1,
		Content:   strings.TrimSpace(content),
		AuthorID:  authorID,
		CreatedAt: s.now().UTC(),
	}
	if next.Version == 2 {
		next.Content = strings.TrimRight(prev.Content, "\n") + "\n\n" + ReviewHeading(authorName) + "\n\n" + next.Content
	}
	if err := CheckRegression(prev.Content, next.Content); err != nil {
		return domain.Document{}, err
	}

	if err := insertDocument(ctx, tx, next); err != nil {
		return domain.Document{}, err
	}
	if next.Version == domain.ResearchCycleVersions {
		if _, err := tx.ExecContext(ctx,
			"UPDATE tickets SET research_completed_at = ? WHERE id = ?;",
			formatTime(next.CreatedAt), ticketID); err != nil {
			return domain.Document{}, fmt.Errorf("mark research complete: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Document{}, fmt.Errorf("commit tx: %w", err)
	}
	return next, nil
}

// UpsertDocument writes a single-slot document (plan or design), bumping the
// version of the existing slot when there is one.
func (s *SQLStore) UpsertDocument(ctx context.Context, ticketID string, typ domain.DocType, authorID, content string) (domain.Document, error) {
	if typ == domain.DocResearch {
		return domain.Document{}, fmt.Errorf("research documents are versioned with AppendResearch")
	}
	if !typ.Valid() {
		return domain.Document{}, fmt.Errorf("invalid document type %q", typ)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Document{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	prev, err := latestDocument(ctx, tx, ticketID, typ)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.Document{}, err
	}

	content = strings.TrimSpace(content)
	if err := CheckRegression(prev.Content, content); err != nil {
		return domain.Document{}, err
	}

	doc := domain.Document{
		ID:        prev.ID,
		TicketID:  ticketID,
		Type:      typ,
		Version:   prev.Version + 1,
		Content:   content,
		AuthorID:  authorID,
		CreatedAt: s.now().UTC(),
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
		if err := insertDocument(ctx, tx, doc); err != nil {
			return domain.Document{}, err
		}
	} else {
		if _, err := tx.ExecContext(ctx,
			"UPDATE documents SET version = ?, content = ?, author_id = ?, created_at = ? WHERE id = ?;",
			doc.Version, doc.Content, doc.AuthorID, formatTime(doc.CreatedAt), doc.ID); err != nil {
			return domain.Document{}, fmt.Errorf("update document: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Document{}, fmt.Errorf("commit tx: %w", err)
	}
	return doc, nil
}

func insertDocument(ctx context.Context, tx *sql.Tx, d domain.Document) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO documents("+documentColumns+") VALUES(?, ?, ?, ?, ?, ?, ?);",
		d.ID, d.TicketID, string(d.Type), d.Version, d.Content, d.AuthorID, formatTime(d.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}
