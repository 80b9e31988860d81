package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/artpar/faunagate/core/fql"
	"github.com/artpar/faunagate/ports"
)

// ErrNotFound is returned when a record is not found.
var ErrNotFound = fmt.Errorf("record %w", ports.ErrNotFound)

// DocumentStore implements ports.DocumentStore using SQLite. Bodies are
// kept in the backend wire encoding so refs and times survive a round trip.
type DocumentStore struct {
	db *DB
}

// NewDocumentStore creates a new SQLite document store.
func NewDocumentStore(db *DB) *DocumentStore {
	return &DocumentStore{db: db}
}

// Get retrieves a record.
func (s *DocumentStore) Get(ctx context.Context, collection, id string) (ports.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT collection, id, body, credentials
		FROM documents WHERE collection = ? AND id = ?
	`, collection, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ports.Record{}, ErrNotFound
	}
	return rec, err
}

// Put inserts or replaces a record.
func (s *DocumentStore) Put(ctx context.Context, rec ports.Record) error {
	body, err := fql.MarshalValue(rec.Doc)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", rec.Collection, rec.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, body, credentials, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(collection, id) DO UPDATE SET
			body = excluded.body,
			credentials = excluded.credentials,
			updated_at = excluded.updated_at
	`, rec.Collection, rec.ID, string(body), rec.Credentials)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", rec.Collection, rec.ID, err)
	}
	return nil
}

// Delete removes a record.
func (s *DocumentStore) Delete(ctx context.Context, collection, id string) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM documents WHERE collection = ? AND id = ?", collection, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Scan returns every record of a collection ordered by id.
func (s *DocumentStore) Scan(ctx context.Context, collection string) ([]ports.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT collection, id, body, credentials
		FROM documents WHERE collection = ? ORDER BY id
	`, collection)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", collection, err)
	}
	defer rows.Close()

	var out []ports.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Collections returns the names of collections holding records.
func (s *DocumentStore) Collections(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT collection FROM documents ORDER BY collection")
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// Reset removes every record.
func (s *DocumentStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM documents"); err != nil {
		return fmt.Errorf("reset documents: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (ports.Record, error) {
	var (
		rec  ports.Record
		body string
	)
	if err := row.Scan(&rec.Collection, &rec.ID, &body, &rec.Credentials); err != nil {
		return ports.Record{}, err
	}

	v, err := fql.Decode([]byte(body))
	if err != nil {
		return ports.Record{}, fmt.Errorf("decode %s/%s: %w", rec.Collection, rec.ID, err)
	}
	doc, ok := v.(map[string]any)
	if !ok {
		return ports.Record{}, fmt.Errorf("decode %s/%s: body is %T", rec.Collection, rec.ID, v)
	}
	rec.Doc = doc
	return rec, nil
}

// Ensure interface compliance.
var _ ports.DocumentStore = (*DocumentStore)(nil)
