package rawstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/chainindex/syncengine/internal/interval"
)

// PruneByBlock discards every raw row with block > fromBlock on chainID,
// leaving the interval index untouched. Used for a targeted rollback
// where the caller already knows the affected range is about to be
// re-synced under a fromBlock that interval coverage still correctly
// describes (spec.md §4.2).
func (s *Store) PruneByBlock(ctx context.Context, chainID, fromBlock uint64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"blocks", "transactions", "transaction_receipts", "logs", "call_traces", "rpc_request_results"} {
		col := pruneColumn(table)
		if _, err := s.d.execTx(tx, fmt.Sprintf(`DELETE FROM %s WHERE chain_id = ? AND %s > ?`, table, col), chainID, fromBlock); err != nil {
			return fmt.Errorf("rawstore: prune %s by block: %w", table, err)
		}
	}

	return tx.Commit()
}

func pruneColumn(table string) string {
	if table == "blocks" {
		return "number"
	}
	return "block_number"
}

// PruneByChain truncates every fragment's interval coverage on chainID so
// no range extends at or beyond fromBlock (dropping fragments entirely
// above it, clipping those that straddle it), and discards every raw row
// at or above fromBlock. Used on reorg/redeploy beyond finality, where
// the rewritten suffix's previously recorded interval coverage must also
// be invalidated so historical sync re-fetches it (spec.md §4.2, §4.5,
// §8 invariant on reorg safety).
func (s *Store) PruneByChain(ctx context.Context, chainID, fromBlock uint64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	fragmentIDs, err := s.fragmentIDsForChainTx(ctx, tx, chainID)
	if err != nil {
		return err
	}
	for _, id := range fragmentIDs {
		if err := s.truncateFragmentIntervalTx(ctx, tx, id, fromBlock); err != nil {
			return err
		}
	}

	for _, table := range []string{"blocks", "transactions", "transaction_receipts", "logs", "call_traces", "rpc_request_results"} {
		col := pruneColumn(table)
		if _, err := s.d.execTx(tx, fmt.Sprintf(`DELETE FROM %s WHERE chain_id = ? AND %s >= ?`, table, col), chainID, fromBlock); err != nil {
			return fmt.Errorf("rawstore: prune %s by chain: %w", table, err)
		}
	}

	return tx.Commit()
}

func (s *Store) fragmentIDsForChainTx(ctx context.Context, tx *sql.Tx, chainID uint64) ([]string, error) {
	rows, err := s.d.queryTx(tx, `SELECT fragment_id FROM filter_fragments WHERE chain_id = ?`, chainID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// truncateFragmentIntervalTx clips a fragment's interval set so no range
// extends at or beyond fromBlock, discarding the part that covered
// now-invalidated blocks.
func (s *Store) truncateFragmentIntervalTx(ctx context.Context, tx *sql.Tx, fragmentID string, fromBlock uint64) error {
	rows, err := s.d.queryTx(tx, `SELECT start_block, end_block FROM filter_fragment_intervals WHERE fragment_id = ?`, fragmentID)
	if err != nil {
		return err
	}
	var existing []interval.Range
	for rows.Next() {
		var r interval.Range
		if err := rows.Scan(&r.Start, &r.End); err != nil {
			rows.Close()
			return err
		}
		existing = append(existing, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	if len(existing) == 0 {
		return nil
	}
	truncated := interval.Difference(interval.Normalize(existing), interval.Set{{Start: fromBlock, End: ^uint64(0)}})

	if _, err := s.d.execTx(tx, `DELETE FROM filter_fragment_intervals WHERE fragment_id = ?`, fragmentID); err != nil {
		return err
	}
	for _, r := range truncated {
		if _, err := s.d.execTx(tx, `INSERT INTO filter_fragment_intervals (fragment_id, start_block, end_block) VALUES (?, ?, ?)`,
			fragmentID, r.Start, r.End); err != nil {
			return err
		}
	}
	return nil
}
