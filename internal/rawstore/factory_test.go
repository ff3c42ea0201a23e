package rawstore

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/chainindex/syncengine/internal/interval"
	"github.com/chainindex/syncengine/pkg/models"
)

func TestGetChildAddressesDecodesFromTopic1(t *testing.T) {
	s, err := Open(context.Background(), Config{Backend: BackendSQLite, DSN: "file::memory:?cache=shared"}, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	chainID := uint64(1)
	block := models.Block{Hash: common.HexToHash("0xb1"), ChainID: chainID, Number: 1, Timestamp: 1, BaseFee: big.NewInt(0)}
	require.NoError(t, s.InsertBlock(ctx, block))

	factoryAddr := common.HexToAddress("0xfac")
	eventSelector := common.HexToHash("0xabcd")
	child := common.HexToAddress("0xdeadbeef")
	topic1 := common.BytesToHash(child.Bytes())

	log := models.Log{
		ID: "1", ChainID: chainID, BlockHash: block.Hash, BlockNumber: 1,
		Address: factoryAddr, Topic0: &eventSelector, Topic1: &topic1,
		Checkpoint: models.Encode(models.Checkpoint{ChainID: chainID, BlockNumber: 1}),
	}
	require.NoError(t, s.InsertLogs(ctx, []models.Log{log}))

	factory := models.Factory{
		ChainID: chainID, Address: factoryAddr, EventSelector: eventSelector,
		ChildAddressLocation: models.ChildAddressLocation{Topic: 1},
	}
	got, err := s.GetChildAddresses(ctx, factory, interval.Range{Start: 0, End: 10})
	require.NoError(t, err)
	require.Equal(t, []common.Address{child}, got)
}

func TestGetChildAddressesAboveAddressFilterLimit(t *testing.T) {
	s, err := Open(context.Background(), Config{Backend: BackendSQLite, DSN: "file::memory:?cache=shared"}, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	chainID := uint64(1)
	block := models.Block{Hash: common.HexToHash("0xb1"), ChainID: chainID, Number: 1, Timestamp: 1, BaseFee: big.NewInt(0)}
	require.NoError(t, s.InsertBlock(ctx, block))

	factoryAddr := common.HexToAddress("0xfac")
	eventSelector := common.HexToHash("0xabcd")

	const total = 1200 // above historicalsync.AddressFilterLimit (1000)
	logs := make([]models.Log, 0, total)
	wantChildren := make(map[common.Address]struct{}, total)
	for i := 0; i < total; i++ {
		child := common.BigToAddress(big.NewInt(int64(i + 1)))
		topic1 := common.BytesToHash(child.Bytes())
		wantChildren[child] = struct{}{}
		logs = append(logs, models.Log{
			ID: fmt.Sprintf("%d", i), ChainID: chainID, BlockHash: block.Hash, BlockNumber: 1,
			Address: factoryAddr, Topic0: &eventSelector, Topic1: &topic1, LogIndex: uint(i),
			Checkpoint: models.Encode(models.Checkpoint{ChainID: chainID, BlockNumber: 1, EventIndex: uint64(i)}),
		})
	}
	require.NoError(t, s.InsertLogs(ctx, logs))

	factory := models.Factory{
		ChainID: chainID, Address: factoryAddr, EventSelector: eventSelector,
		ChildAddressLocation: models.ChildAddressLocation{Topic: 1},
	}
	got, err := s.GetChildAddresses(ctx, factory, interval.Range{Start: 0, End: 10})
	require.NoError(t, err)
	require.Len(t, got, total, "the store must still resolve every child address regardless of the caller-side cap")
	for _, a := range got {
		_, ok := wantChildren[a]
		require.True(t, ok)
	}
}
