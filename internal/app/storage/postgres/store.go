// Package postgres implements the document store on a single JSONB table.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/codeway/config-service/internal/app/storage"
)

// Store implements storage.DocumentStore backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.DocumentStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the documents table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS app_documents (
			collection TEXT NOT NULL,
			doc_id     TEXT NOT NULL,
			data       JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (collection, doc_id)
		)
	`)
	return err
}

func (s *Store) Get(ctx context.Context, collection, docID string) (json.RawMessage, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT data
		FROM app_documents
		WHERE collection = $1 AND doc_id = $2
	`, collection, docID)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (s *Store) Set(ctx context.Context, collection, docID string, data json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_documents (collection, doc_id, data, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (collection, doc_id)
		DO UPDATE SET data = EXCLUDED.data, updated_at = now()
	`, collection, docID, []byte(data))
	return err
}
