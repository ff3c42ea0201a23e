package historicalsync

import (
	"context"

	"github.com/chainindex/syncengine/internal/interval"
	"github.com/chainindex/syncengine/pkg/models"
)

// syncBlockRange fetches every block matching f's (interval, offset)
// stride within r.
func (s *Syncer) syncBlockRange(ctx context.Context, src models.Source, f *models.BlockFilter, r interval.Range, cache *blockCache) error {
	for _, number := range blockFilterMatches(f, r) {
		if _, err := cache.ensure(ctx, number); err != nil {
			return err
		}
	}
	return nil
}

// blockFilterMatches enumerates the block numbers in r that satisfy
// (n - offset) mod interval == 0 (spec.md §4.4).
func blockFilterMatches(f *models.BlockFilter, r interval.Range) []uint64 {
	if f.Interval <= 1 {
		out := make([]uint64, 0, r.End-r.Start+1)
		for n := r.Start; n <= r.End; n++ {
			out = append(out, n)
		}
		return out
	}

	var offset uint64
	if r.Start >= f.Offset {
		offset = (r.Start - f.Offset) % f.Interval
	} else {
		offset = (f.Offset - r.Start) % f.Interval
		if offset != 0 {
			offset = f.Interval - offset
		}
	}
	first := r.Start
	if offset != 0 {
		first += f.Interval - offset
	}

	var out []uint64
	for n := first; n <= r.End; n += f.Interval {
		out = append(out, n)
	}
	return out
}
