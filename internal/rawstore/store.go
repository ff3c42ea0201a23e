package rawstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Store is the raw sync store (spec.md §4.2): raw chain entities, the
// filter-fragment interval index, RPC memoization, and process metadata,
// all behind a single backend-agnostic API.
type Store struct {
	db      *sql.DB
	d       dialect
	logger  zerolog.Logger
}

// Config configures a Store.
type Config struct {
	Backend Backend
	DSN     string
}

// Open opens the backend named by cfg.Backend and runs migrations.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*Store, error) {
	driver := "sqlite3"
	if cfg.Backend == BackendPostgres {
		driver = "pgx"
	}
	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("rawstore: open %s: %w", cfg.Backend, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("rawstore: ping %s: %w", cfg.Backend, err)
	}
	if cfg.Backend != BackendPostgres {
		db.SetMaxOpenConns(1) // SQLite allows one writer at a time; avoid SQLITE_BUSY churn.
	}

	s := &Store{
		db:     db,
		d:      newDialect(cfg.Backend),
		logger: logger.With().Str("component", "rawstore").Str("backend", string(cfg.Backend)).Logger(),
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for callers (e.g. metadatastore) that
// share this store's connection pool but own their own table.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect exposes the store's big-integer/placeholder strategy to
// sibling packages that need to encode values consistently (e.g.
// metadatastore's JSON column type).
func (s *Store) Dialect() (Backend, BigEncoder) { return s.d.backend, s.d.big }

func (s *Store) migrate(ctx context.Context) error {
	bigType := s.d.big.ColumnType()
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS blocks (
			hash TEXT NOT NULL,
			chain_id INTEGER NOT NULL,
			number INTEGER NOT NULL,
			parent_hash TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			nonce INTEGER NOT NULL,
			gas_limit INTEGER NOT NULL,
			gas_used INTEGER NOT NULL,
			base_fee ` + bigType + `,
			miner TEXT NOT NULL,
			state_root TEXT NOT NULL,
			tx_root TEXT NOT NULL,
			PRIMARY KEY (chain_id, hash)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_blocks_number ON blocks (chain_id, number)`,

		`CREATE TABLE IF NOT EXISTS transactions (
			hash TEXT NOT NULL,
			chain_id INTEGER NOT NULL,
			block_hash TEXT NOT NULL,
			block_number INTEGER NOT NULL,
			transaction_index INTEGER NOT NULL,
			from_address TEXT NOT NULL,
			to_address TEXT,
			value ` + bigType + `,
			gas_limit INTEGER NOT NULL,
			gas_price ` + bigType + `,
			input BLOB,
			nonce INTEGER NOT NULL,
			PRIMARY KEY (chain_id, hash)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_block ON transactions (chain_id, block_number)`,

		`CREATE TABLE IF NOT EXISTS transaction_receipts (
			transaction_hash TEXT NOT NULL,
			chain_id INTEGER NOT NULL,
			block_hash TEXT NOT NULL,
			block_number INTEGER NOT NULL,
			status INTEGER NOT NULL,
			gas_used INTEGER NOT NULL,
			cumulative_gas INTEGER NOT NULL,
			contract_address TEXT,
			logs_bloom BLOB,
			PRIMARY KEY (chain_id, transaction_hash)
		)`,

		`CREATE TABLE IF NOT EXISTS logs (
			id TEXT NOT NULL,
			chain_id INTEGER NOT NULL,
			block_hash TEXT NOT NULL,
			block_number INTEGER NOT NULL,
			transaction_hash TEXT NOT NULL,
			transaction_index INTEGER NOT NULL,
			log_index INTEGER NOT NULL,
			address TEXT NOT NULL,
			topic0 TEXT,
			topic1 TEXT,
			topic2 TEXT,
			topic3 TEXT,
			data BLOB,
			checkpoint TEXT NOT NULL,
			PRIMARY KEY (chain_id, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_address_block ON logs (chain_id, address, block_number)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_checkpoint ON logs (chain_id, checkpoint)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_block ON logs (chain_id, block_number)`,

		`CREATE TABLE IF NOT EXISTS call_traces (
			id TEXT NOT NULL,
			chain_id INTEGER NOT NULL,
			block_number INTEGER NOT NULL,
			transaction_hash TEXT NOT NULL,
			transaction_position INTEGER NOT NULL,
			trace_address TEXT NOT NULL,
			from_address TEXT NOT NULL,
			to_address TEXT NOT NULL,
			input BLOB,
			output BLOB,
			value ` + bigType + `,
			gas INTEGER NOT NULL,
			gas_used INTEGER NOT NULL,
			subtraces INTEGER NOT NULL,
			call_type TEXT NOT NULL,
			error TEXT,
			checkpoint TEXT NOT NULL,
			PRIMARY KEY (chain_id, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_call_traces_to_block ON call_traces (chain_id, to_address, block_number)`,
		`CREATE INDEX IF NOT EXISTS idx_call_traces_checkpoint ON call_traces (chain_id, checkpoint)`,

		`CREATE TABLE IF NOT EXISTS rpc_request_results (
			request TEXT NOT NULL,
			chain_id INTEGER NOT NULL,
			block_number INTEGER NOT NULL,
			result TEXT NOT NULL,
			PRIMARY KEY (chain_id, block_number, request)
		)`,

		// One row per distinct filter-fragment identity across every
		// chain the engine has ever been configured with; the interval
		// index below keys off fragment_id alone.
		`CREATE TABLE IF NOT EXISTS filter_fragments (
			fragment_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			chain_id INTEGER NOT NULL,
			address TEXT,
			factory_address TEXT,
			factory_event_selector TEXT,
			factory_child_location TEXT,
			topic0 TEXT,
			topic1 TEXT,
			topic2 TEXT,
			topic3 TEXT,
			include_receipts INTEGER,
			block_interval INTEGER,
			block_offset INTEGER,
			from_address TEXT,
			function_selector TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_filter_fragments_chain ON filter_fragments (chain_id, kind)`,

		`CREATE TABLE IF NOT EXISTS filter_fragment_intervals (
			fragment_id TEXT NOT NULL,
			start_block INTEGER NOT NULL,
			end_block INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fragment_intervals_fragment ON filter_fragment_intervals (fragment_id)`,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("rawstore: begin migration: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, s.d.rebind(stmt)); err != nil {
			return fmt.Errorf("rawstore: migrate: %w", err)
		}
	}
	return tx.Commit()
}
