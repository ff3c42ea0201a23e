package rawstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/chainindex/syncengine/internal/interval"
	"github.com/chainindex/syncengine/pkg/models"
)

// syncStoreMaxIntervals bounds how many disjoint ranges a single
// fragment's interval index may hold before InsertInterval gives up and
// reports fragmentation instead of silently leaving coverage gaps
// unmerged (spec.md §8 invariant on interval convergence).
const syncStoreMaxIntervals = 10_000

// insertIntervalAttempts bounds the delete-recompute-reinsert retry loop
// used to absorb a concurrent writer touching the same fragment between
// this call's read and write.
const insertIntervalAttempts = 5

// InsertInterval records that [r.Start, r.End] has been synced for
// fragmentID, merging it into the fragment's existing normal-form
// interval set. The merge is read-modify-write inside a transaction,
// retried a bounded number of times to absorb a concurrent writer on the
// same fragment; it never returns having recorded partial coverage.
func (s *Store) InsertInterval(ctx context.Context, fragmentID string, r interval.Range) error {
	var lastErr error
	for attempt := 0; attempt < insertIntervalAttempts; attempt++ {
		ok, err := s.tryInsertInterval(ctx, fragmentID, r)
		if err == nil && ok {
			return nil
		}
		if err != nil {
			lastErr = err
			if _, fatal := err.(*models.ErrIntervalFragmented); fatal {
				return err
			}
			continue
		}
		// !ok means a concurrent writer changed the rows between our
		// read and write; retry against the now-current state.
	}
	if lastErr != nil {
		return fmt.Errorf("rawstore: insert interval for fragment %s: %w", fragmentID, lastErr)
	}
	return fmt.Errorf("rawstore: insert interval for fragment %s: did not converge after %d attempts", fragmentID, insertIntervalAttempts)
}

func (s *Store) tryInsertInterval(ctx context.Context, fragmentID string, r interval.Range) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	existing, version, err := s.loadFragmentIntervals(ctx, tx, fragmentID)
	if err != nil {
		return false, err
	}

	merged := interval.Union(existing, interval.Set{r})
	if len(merged) > syncStoreMaxIntervals {
		return false, &models.ErrIntervalFragmented{FragmentID: fragmentID, MaxRows: syncStoreMaxIntervals}
	}

	res, err := s.d.execTx(tx, `DELETE FROM filter_fragment_intervals WHERE fragment_id = ?`, fragmentID)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	if affected != int64(version) {
		// Row count changed out from under us: another writer committed
		// in between. Abort without committing and let the caller retry.
		return false, nil
	}

	for _, rg := range merged {
		if _, err := s.d.execTx(tx, `INSERT INTO filter_fragment_intervals (fragment_id, start_block, end_block) VALUES (?, ?, ?)`,
			fragmentID, rg.Start, rg.End); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) loadFragmentIntervals(ctx context.Context, tx *sql.Tx, fragmentID string) (interval.Set, int, error) {
	rows, err := s.d.queryTx(tx, `SELECT start_block, end_block FROM filter_fragment_intervals WHERE fragment_id = ? ORDER BY start_block`, fragmentID)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []interval.Range
	for rows.Next() {
		var r interval.Range
		if err := rows.Scan(&r.Start, &r.End); err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return interval.Normalize(out), len(out), nil
}

// GetIntervals returns the synced-block-ranges across all of a filter's
// fragments: the ranges where every fragment has coverage (their
// intersection), since only a block covered by every fragment is fully
// synced for the filter as a whole.
func (s *Store) GetIntervals(ctx context.Context, fragmentIDs []string) (interval.Set, error) {
	if len(fragmentIDs) == 0 {
		return interval.Set{}, nil
	}
	sets := make([]interval.Set, 0, len(fragmentIDs))
	for _, id := range fragmentIDs {
		set, _, err := s.loadFragmentIntervalsNoTx(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("rawstore: get intervals for fragment %s: %w", id, err)
		}
		sets = append(sets, set)
	}
	return interval.IntersectionMany(sets...), nil
}

func (s *Store) loadFragmentIntervalsNoTx(ctx context.Context, fragmentID string) (interval.Set, int, error) {
	rows, err := s.d.query(s.db, `SELECT start_block, end_block FROM filter_fragment_intervals WHERE fragment_id = ? ORDER BY start_block`, fragmentID)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []interval.Range
	for rows.Next() {
		var r interval.Range
		if err := rows.Scan(&r.Start, &r.End); err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return interval.Normalize(out), len(out), nil
}
