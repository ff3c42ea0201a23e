// Package rawstore is the persistent, content-addressed store of blocks,
// transactions, receipts, logs, call traces and RPC request results
// (spec.md §4.2); it also owns the interval index that tracks which
// (filter fragment, block range) pairs have been synced.
//
// Two backends are supported, selected once at construction: a
// SQLite-class backend (mattn/go-sqlite3) for single-node/dev use, and a
// PostgreSQL-class backend (jackc/pgx) for production. 256-bit chain
// values (wei amounts, gas prices) don't fit a native 64-bit column on
// either backend, and are encoded differently per backend (spec.md §6,
// §9 design note) — the difference is isolated entirely behind the
// BigEncoder strategy below, selected once at construction and never
// threaded through call sites.
package rawstore

import (
	"database/sql"
	"fmt"
	"math/big"
	"strings"
)

// Backend names the two supported database kinds.
type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// BigEncoder isolates the per-backend representation of arbitrary-
// precision chain integers (wei values, gas prices) that exceed 64 bits.
type BigEncoder interface {
	// ColumnType is the DDL type used for big-integer columns.
	ColumnType() string
	// Encode renders v for binding into a query parameter. A nil v
	// encodes as the zero value.
	Encode(v *big.Int) any
	// Decode parses a value scanned back out of a big-integer column.
	Decode(v any) (*big.Int, error)
}

// bigWidth is wide enough for any uint256 value (max is 78 digits).
const bigWidth = 78

// sqliteBigEncoder stores 256-bit integers as fixed-width, zero-padded
// decimal strings so lexicographic ordering equals numeric ordering
// even under SQLite's dynamic typing, and so the value round-trips
// exactly instead of losing precision to a float.
type sqliteBigEncoder struct{}

func (sqliteBigEncoder) ColumnType() string { return "TEXT" }

func (sqliteBigEncoder) Encode(v *big.Int) any {
	if v == nil {
		v = new(big.Int)
	}
	s := v.String()
	if len(s) < bigWidth {
		s = strings.Repeat("0", bigWidth-len(s)) + s
	}
	return s
}

func (sqliteBigEncoder) Decode(v any) (*big.Int, error) {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case []byte:
		s = string(t)
	case nil:
		return new(big.Int), nil
	default:
		return nil, fmt.Errorf("rawstore: cannot decode big integer of type %T", v)
	}
	out, ok := new(big.Int).SetString(strings.TrimLeft(s, "0")+zeroGuard(s), 10)
	if !ok {
		return nil, fmt.Errorf("rawstore: invalid encoded big integer %q", s)
	}
	return out, nil
}

// zeroGuard returns "0" when TrimLeft would otherwise leave an empty
// string (the value was all zeroes).
func zeroGuard(original string) string {
	for _, r := range original {
		if r != '0' {
			return ""
		}
	}
	return "0"
}

// postgresBigEncoder passes integers through as decimal strings bound
// into a native NUMERIC column, which stores them exactly.
type postgresBigEncoder struct{}

func (postgresBigEncoder) ColumnType() string { return "NUMERIC" }

func (postgresBigEncoder) Encode(v *big.Int) any {
	if v == nil {
		v = new(big.Int)
	}
	return v.String()
}

func (postgresBigEncoder) Decode(v any) (*big.Int, error) {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case []byte:
		s = string(t)
	case nil:
		return new(big.Int), nil
	default:
		return nil, fmt.Errorf("rawstore: cannot decode big integer of type %T", v)
	}
	out, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("rawstore: invalid encoded big integer %q", s)
	}
	return out, nil
}

// dialect bundles the backend-specific bits the query builders need:
// placeholder syntax, DDL types, and the BigEncoder, all selected once
// at construction from Backend.
type dialect struct {
	backend Backend
	big     BigEncoder
}

func newDialect(backend Backend) dialect {
	switch backend {
	case BackendPostgres:
		return dialect{backend: backend, big: postgresBigEncoder{}}
	default:
		return dialect{backend: BackendSQLite, big: sqliteBigEncoder{}}
	}
}

// rebind rewrites `?` placeholders into `$1, $2, ...` for PostgreSQL; a
// no-op for SQLite, which accepts `?` natively.
func (d dialect) rebind(query string) string {
	if d.backend != BackendPostgres {
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

func (d dialect) jsonColumnType() string {
	if d.backend == BackendPostgres {
		return "JSONB"
	}
	return "TEXT"
}

// exec rebinds and executes query against db in one call.
func (d dialect) exec(db *sql.DB, query string, args ...any) (sql.Result, error) {
	return db.Exec(d.rebind(query), args...)
}

func (d dialect) execTx(tx *sql.Tx, query string, args ...any) (sql.Result, error) {
	return tx.Exec(d.rebind(query), args...)
}

func (d dialect) query(db *sql.DB, query string, args ...any) (*sql.Rows, error) {
	return db.Query(d.rebind(query), args...)
}

func (d dialect) queryTx(tx *sql.Tx, query string, args ...any) (*sql.Rows, error) {
	return tx.Query(d.rebind(query), args...)
}

// upsertClause returns the `ON CONFLICT` tail for an upsert on conflict
// columns, setting every column in updateCols to its EXCLUDED value.
// Both SQLite (3.24+, via mattn/go-sqlite3) and PostgreSQL support this
// syntax, so no dialect branching is needed here.
func upsertClause(conflictCols, updateCols []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ON CONFLICT (%s) DO UPDATE SET ", strings.Join(conflictCols, ", "))
	for i, c := range updateCols {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s = excluded.%s", c, c)
	}
	return b.String()
}
