// Package checkpointcursor is the single public iterator historical
// catch-up drains before handing off to realtime sync (spec.md §4.6): it
// wraps rawstore.GetEvents with cursor bookkeeping so callers never see a
// checkpoint twice and know exactly when the finalized range is exhausted.
package checkpointcursor

import (
	"context"
	"fmt"

	"github.com/chainindex/syncengine/internal/rawstore"
	"github.com/chainindex/syncengine/pkg/models"
)

// Batch is one page of events spanning (lastCursor, nextCursor].
type Batch struct {
	Events     []models.Event
	Checkpoint string
}

// Cursor yields events strictly ordered by (checkpoint, filterIndex) over
// (from, to], advancing its own cursor as it goes.
type Cursor struct {
	store     *rawstore.Store
	sources   []models.Source
	limit     int
	to        models.Checkpoint
	cursor    models.Checkpoint
	exhausted bool
}

// New creates a cursor over sources spanning (from, to], paging at most
// limit events per Next call.
func New(store *rawstore.Store, sources []models.Source, from, to models.Checkpoint, limit int) *Cursor {
	return &Cursor{store: store, sources: sources, limit: limit, to: to, cursor: from}
}

// Done reports whether the cursor has reached its upper bound.
func (c *Cursor) Done() bool { return c.exhausted }

// Checkpoint returns the cursor's current position, usable as the
// starting checkpoint for realtime sync once Done returns true.
func (c *Cursor) Checkpoint() models.Checkpoint { return c.cursor }

// Next returns the next batch. A batch smaller than limit means the
// finalized range is exhausted: nextCursor becomes the upper bound "to"
// and subsequent calls return an empty batch (spec.md §4.6).
func (c *Cursor) Next(ctx context.Context) (Batch, error) {
	if c.exhausted {
		return Batch{Checkpoint: models.Encode(c.to)}, nil
	}

	events, err := c.store.GetEvents(ctx, c.sources, c.cursor, c.to, c.limit)
	if err != nil {
		return Batch{}, fmt.Errorf("checkpointcursor: get events: %w", err)
	}

	full := c.limit > 0 && len(events) == c.limit
	var nextEncoded string
	if full {
		nextEncoded = events[len(events)-1].Checkpoint
	} else {
		nextEncoded = models.Encode(c.to)
		c.exhausted = true
	}

	next, err := models.Decode(nextEncoded)
	if err != nil {
		return Batch{}, fmt.Errorf("checkpointcursor: decode cursor: %w", err)
	}
	c.cursor = next

	return Batch{Events: events, Checkpoint: nextEncoded}, nil
}
