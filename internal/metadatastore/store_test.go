package metadatastore

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/chainindex/syncengine/internal/rawstore"
	"github.com/chainindex/syncengine/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	raw, err := rawstore.Open(context.Background(), rawstore.Config{Backend: rawstore.BackendSQLite, DSN: "file::memory:?cache=shared"}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })

	s, err := Open(context.Background(), raw)
	require.NoError(t, err)
	return s
}

func TestGetStatusEmptyBeforeAnyWrite(t *testing.T) {
	s := newTestStore(t)
	status, err := s.GetStatus(context.Background())
	require.NoError(t, err)
	require.Empty(t, status)
}

func TestSetChainStatusMergesIntoExistingMap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetChainStatus(ctx, 1, models.ChainStatus{Block: models.BlockMarker{Number: 10, Timestamp: 100}, Ready: false}))
	require.NoError(t, s.SetChainStatus(ctx, 2, models.ChainStatus{Block: models.BlockMarker{Number: 20, Timestamp: 200}, Ready: true}))

	status, err := s.GetStatus(ctx)
	require.NoError(t, err)
	require.Len(t, status, 2)
	require.Equal(t, uint64(10), status[1].Block.Number)
	require.False(t, status[1].Ready)
	require.Equal(t, uint64(20), status[2].Block.Number)
	require.True(t, status[2].Ready)
}

func TestSetStatusOverwritesWholeMap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetChainStatus(ctx, 1, models.ChainStatus{Block: models.BlockMarker{Number: 10}, Ready: false}))
	require.NoError(t, s.SetStatus(ctx, models.Status{1: {Block: models.BlockMarker{Number: 99}, Ready: true}}))

	status, err := s.GetStatus(ctx)
	require.NoError(t, err)
	require.Len(t, status, 1)
	require.Equal(t, uint64(99), status[1].Block.Number)
	require.True(t, status[1].Ready)
}
