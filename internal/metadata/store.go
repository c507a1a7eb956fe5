// Package metadata persists document display metadata in PostgreSQL so the
// searcher can serve titles, authors, and publication dates without reloading
// the forward index.
package metadata

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/papyrus-search/papyrus/pkg/logger"
	"github.com/papyrus-search/papyrus/pkg/postgres"
	"github.com/papyrus-search/papyrus/pkg/resilience"
)

// Meta is one document's display metadata.
type Meta struct {
	ExtID   string
	Title   string
	Authors []string
	PubDate string
}

// Store reads and writes document metadata.
//
// It requires a `documents` table:
//
//	CREATE TABLE documents (
//	    ext_id     TEXT PRIMARY KEY,
//	    title      TEXT NOT NULL DEFAULT '',
//	    authors    TEXT[] NOT NULL DEFAULT '{}',
//	    pub_date   TEXT NOT NULL DEFAULT '',
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type Store struct {
	db     *postgres.Client
	retry  resilience.RetryConfig
	logger *slog.Logger
}

// NewStore creates a metadata store over a connected client.
func NewStore(db *postgres.Client) *Store {
	return &Store{
		db: db,
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     1 * time.Second,
		},
		logger: logger.WithComponent("metadata"),
	}
}

// Lookup returns the metadata for one external ID, or nil when the document
// is unknown. Transient failures are retried with backoff.
func (s *Store) Lookup(ctx context.Context, extID string) (*Meta, error) {
	var m *Meta
	err := resilience.Retry(ctx, "metadata-lookup", s.retry, func() error {
		var title, pubDate string
		var authors pq.StringArray
		err := s.db.DB.QueryRowContext(ctx,
			`SELECT title, authors, pub_date FROM documents WHERE ext_id = $1`,
			extID,
		).Scan(&title, &authors, &pubDate)
		if err == sql.ErrNoRows {
			m = nil
			return nil
		}
		if err != nil {
			return fmt.Errorf("querying document %s: %w", extID, err)
		}
		m = &Meta{ExtID: extID, Title: title, Authors: authors, PubDate: pubDate}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Upsert writes one document's metadata, replacing any prior row.
func (s *Store) Upsert(ctx context.Context, m *Meta) error {
	_, err := s.db.DB.ExecContext(ctx,
		`INSERT INTO documents (ext_id, title, authors, pub_date, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (ext_id) DO UPDATE
		 SET title = EXCLUDED.title,
		     authors = EXCLUDED.authors,
		     pub_date = EXCLUDED.pub_date,
		     updated_at = NOW()`,
		m.ExtID, m.Title, pq.Array(m.Authors), m.PubDate,
	)
	if err != nil {
		return fmt.Errorf("upserting document %s: %w", m.ExtID, err)
	}
	return nil
}

// UpsertBatch writes a batch of documents in one transaction.
func (s *Store) UpsertBatch(ctx context.Context, metas []*Meta) error {
	if len(metas) == 0 {
		return nil
	}
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO documents (ext_id, title, authors, pub_date, updated_at)
			 VALUES ($1, $2, $3, $4, NOW())
			 ON CONFLICT (ext_id) DO UPDATE
			 SET title = EXCLUDED.title,
			     authors = EXCLUDED.authors,
			     pub_date = EXCLUDED.pub_date,
			     updated_at = NOW()`)
		if err != nil {
			return fmt.Errorf("preparing upsert: %w", err)
		}
		defer stmt.Close()
		for _, m := range metas {
			if _, err := stmt.ExecContext(ctx, m.ExtID, m.Title, pq.Array(m.Authors), m.PubDate); err != nil {
				return fmt.Errorf("upserting document %s: %w", m.ExtID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("metadata batch written", "docs", len(metas))
	return nil
}

// Count returns the number of stored documents.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return n, nil
}
