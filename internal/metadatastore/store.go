// Package metadatastore is the engine's own process-status table
// (spec.md §4.8): a single JSON-encoded row recording, per chain, the
// last block the engine has caught up to and whether realtime sync has
// taken over yet. It shares the raw store's connection pool but owns
// its own table, the same split rawstore uses internally between its
// dialect-aware helpers and individual concern files.
package metadatastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chainindex/syncengine/internal/rawstore"
	"github.com/chainindex/syncengine/pkg/models"
)

const statusKey = "status"

// Store is the `_ponder_meta` table: one singleton row keyed "status".
type Store struct {
	db      *sql.DB
	backend rawstore.Backend
}

// Open attaches a metadata store to raw's connection pool and ensures
// its table exists.
func Open(ctx context.Context, raw *rawstore.Store) (*Store, error) {
	backend, _ := raw.Dialect()
	s := &Store{db: raw.DB(), backend: backend}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	colType := "TEXT"
	if s.backend == rawstore.BackendPostgres {
		colType = "JSONB"
	}
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS _ponder_meta (
		key TEXT PRIMARY KEY,
		value %s NOT NULL
	)`, colType)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("metadatastore: migrate: %w", err)
	}
	return nil
}

// rebind converts `?` placeholders to `$1, $2, ...` for PostgreSQL; a
// no-op for SQLite. Mirrors rawstore's own dialect.rebind, kept
// separate since that helper is private to rawstore.
func (s *Store) rebind(query string) string {
	if s.backend != rawstore.BackendPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// GetStatus returns the current per-chain status, or an empty Status
// if nothing has been recorded yet.
func (s *Store) GetStatus(ctx context.Context) (models.Status, error) {
	var raw string
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT value FROM _ponder_meta WHERE key = ?`), statusKey)
	switch err := row.Scan(&raw); {
	case err == sql.ErrNoRows:
		return models.Status{}, nil
	case err != nil:
		return nil, fmt.Errorf("metadatastore: get status: %w", err)
	}

	var status models.Status
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		return nil, fmt.Errorf("metadatastore: decode status: %w", err)
	}
	return status, nil
}

// SetStatus replaces the whole status map in one upsert.
func (s *Store) SetStatus(ctx context.Context, status models.Status) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("metadatastore: encode status: %w", err)
	}
	query := s.rebind(`INSERT INTO _ponder_meta (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`)
	if _, err := s.db.ExecContext(ctx, query, statusKey, string(data)); err != nil {
		return fmt.Errorf("metadatastore: set status: %w", err)
	}
	return nil
}

// SetChainStatus updates a single chain's entry within the stored map,
// read-modify-write under the caller's own serialization (the
// supervisor calls this only from its single historical/realtime
// dispatch goroutine per chain).
func (s *Store) SetChainStatus(ctx context.Context, chainID uint64, chainStatus models.ChainStatus) error {
	status, err := s.GetStatus(ctx)
	if err != nil {
		return err
	}
	if status == nil {
		status = models.Status{}
	}
	status[chainID] = chainStatus
	return s.SetStatus(ctx, status)
}
