package historicalsync

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/chainindex/syncengine/internal/chain"
	"github.com/chainindex/syncengine/internal/interval"
	"github.com/chainindex/syncengine/pkg/models"
)

func (s *Syncer) syncCallTraceRange(ctx context.Context, src models.Source, f *models.CallTraceFilter, r interval.Range, cache *blockCache) error {
	var toAddresses []common.Address
	if f.ToAddress.IsFactory() {
		resolved, err := s.store.GetChildAddresses(ctx, *f.ToAddress.Factory, interval.Range{Start: 0, End: r.End})
		if err != nil {
			return err
		}
		toAddresses = addressFilterOrWildcard(resolved)
	} else if !f.ToAddress.IsWildcard() {
		toAddresses = f.ToAddress.Addresses()
	}

	chunks := interval.Chunks(interval.Set{r}, CallTraceChunkSize)
	results := make([][]chain.CallTraceResult, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			traces, err := s.queue.TraceFilter(gctx, chunk.Start, chunk.End, toAddresses, f.FromAddress)
			if err != nil {
				return err
			}
			results[i] = traces
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var calls []chain.CallTraceResult
	for _, traces := range results {
		for _, t := range traces {
			if t.Type == "call" {
				calls = append(calls, t)
			}
		}
	}
	if len(calls) == 0 {
		return nil
	}

	survivors, err := s.dropRevertedCalls(ctx, f.ChainID, calls)
	if err != nil {
		return err
	}
	if len(survivors) == 0 {
		return nil
	}

	rows := make([]models.CallTrace, 0, len(survivors))
	txSeq := make(map[common.Hash]uint64)
	for _, c := range survivors {
		block, err := cache.ensure(ctx, c.BlockNumber)
		if err != nil {
			return err
		}
		seq := txSeq[c.TransactionHash]
		txSeq[c.TransactionHash] = seq + 1
		rows = append(rows, convertCallTrace(f.ChainID, c, seq, block.Timestamp))
	}
	return s.store.InsertCallTraces(ctx, rows)
}

// dropRevertedCalls fetches the receipt for every unique transaction
// among calls and filters out traces whose transaction reverted
// (status == 0), per spec.md §4.4.
func (s *Syncer) dropRevertedCalls(ctx context.Context, chainID uint64, calls []chain.CallTraceResult) ([]chain.CallTraceResult, error) {
	statuses := make(map[common.Hash]bool)
	for _, c := range calls {
		if _, ok := statuses[c.TransactionHash]; ok {
			continue
		}
		receipt, err := s.queue.GetTransactionReceipt(ctx, c.TransactionHash)
		if err != nil {
			return nil, fmt.Errorf("historicalsync: fetch receipt for %s: %w", c.TransactionHash, err)
		}
		statuses[c.TransactionHash] = receipt.Status != 0
		if err := s.store.InsertTransactionReceipts(ctx, []models.TransactionReceipt{convertReceipt(chainID, receipt)}); err != nil {
			return nil, err
		}
	}

	out := make([]chain.CallTraceResult, 0, len(calls))
	for _, c := range calls {
		if statuses[c.TransactionHash] {
			out = append(out, c)
		}
	}
	return out, nil
}

func convertCallTrace(chainID uint64, c chain.CallTraceResult, seq, blockTimestamp uint64) models.CallTrace {
	value, _ := new(big.Int).SetString(strings.TrimPrefix(c.Action.Value, "0x"), 16)
	if value == nil {
		value = big.NewInt(0)
	}
	gas, _ := strconv.ParseUint(strings.TrimPrefix(c.Action.Gas, "0x"), 16, 64)
	gasUsed, _ := strconv.ParseUint(strings.TrimPrefix(c.Result.GasUsed, "0x"), 16, 64)

	row := models.CallTrace{
		ID:                  models.CallTraceID(c.TransactionHash, c.TraceAddress),
		ChainID:             chainID,
		BlockNumber:         c.BlockNumber,
		TransactionHash:     c.TransactionHash,
		TransactionPosition: c.TransactionPosition,
		TraceAddress:        c.TraceAddress,
		From:                c.Action.From,
		To:                  c.Action.To,
		Input:               common.FromHex(c.Action.Input),
		Output:              common.FromHex(c.Result.Output),
		Value:               value,
		Gas:                 gas,
		GasUsed:             gasUsed,
		Subtraces:           c.Subtraces,
		CallType:            c.Action.CallType,
		Error:               c.Error,
	}
	row.Checkpoint = models.Encode(models.Checkpoint{
		BlockTimestamp: blockTimestamp, ChainID: chainID, BlockNumber: c.BlockNumber, TransactionIndex: uint64(c.TransactionPosition),
		EventType: models.EventTypeCallTrace, EventIndex: seq,
	})
	return row
}
