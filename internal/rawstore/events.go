package rawstore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainindex/syncengine/internal/interval"
	"github.com/chainindex/syncengine/pkg/models"
)

// GetEvents returns every event across sources whose checkpoint lies in
// (from, to], ordered by (checkpoint, filterIndex) (spec.md §4.6, §8
// invariant 4). limit caps the number of events returned; callers that
// get back exactly limit events should call again with from set to the
// checkpoint of the last event received.
func (s *Store) GetEvents(ctx context.Context, sources []models.Source, from, to models.Checkpoint, limit int) ([]models.Event, error) {
	var all []models.Event
	for _, src := range sources {
		events, err := s.getEventsForSource(ctx, src, from, to)
		if err != nil {
			return nil, fmt.Errorf("rawstore: get events for source %q: %w", src.Name, err)
		}
		all = append(all, events...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Checkpoint != all[j].Checkpoint {
			return all[i].Checkpoint < all[j].Checkpoint
		}
		return all[i].FilterIndex < all[j].FilterIndex
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *Store) getEventsForSource(ctx context.Context, src models.Source, from, to models.Checkpoint) ([]models.Event, error) {
	switch f := src.Filter.(type) {
	case *models.LogFilter:
		return s.getLogEvents(ctx, src, f, from, to)
	case *models.BlockFilter:
		return s.getBlockEvents(ctx, src, f, from, to)
	case *models.CallTraceFilter:
		return s.getCallTraceEvents(ctx, src, f, from, to)
	default:
		return nil, fmt.Errorf("unknown filter kind %T", f)
	}
}

// resolvedAddresses returns the literal address list a filter's
// AddressSpec matches as of upToBlock, with wildcard=true meaning "any
// address" (no SQL address clause should be added).
func (s *Store) resolvedAddresses(ctx context.Context, spec models.AddressSpec, chainID, upToBlock uint64) (addrs []common.Address, wildcard bool, err error) {
	switch {
	case spec.Factory != nil:
		addrs, err = s.GetChildAddresses(ctx, *spec.Factory, interval.Range{Start: 0, End: upToBlock})
		return addrs, false, err
	case spec.Single != nil:
		return []common.Address{*spec.Single}, false, nil
	case len(spec.List) > 0:
		return spec.List, false, nil
	default:
		return nil, true, nil
	}
}

func (s *Store) getLogEvents(ctx context.Context, src models.Source, f *models.LogFilter, from, to models.Checkpoint) ([]models.Event, error) {
	addrs, wildcard, err := s.resolvedAddresses(ctx, f.Address, f.ChainID, to.BlockNumber)
	if err != nil {
		return nil, err
	}
	if !wildcard && len(addrs) == 0 {
		return nil, nil
	}

	var b strings.Builder
	args := []any{f.ChainID, models.Encode(from), models.Encode(to)}
	b.WriteString(`SELECT id, chain_id, block_hash, block_number, transaction_hash, transaction_index, log_index, address, topic0, topic1, topic2, topic3, data, checkpoint
		FROM logs WHERE chain_id = ? AND checkpoint > ? AND checkpoint <= ?`)
	if !wildcard {
		b.WriteString(" AND address IN (")
		appendPlaceholders(&b, len(addrs))
		b.WriteString(")")
		for _, a := range addrs {
			args = append(args, a.Hex())
		}
	}
	for i, slot := range f.Topics {
		if slot.IsWildcard() {
			continue
		}
		fmt.Fprintf(&b, " AND topic%d IN (", i)
		appendPlaceholders(&b, len(slot.Values))
		b.WriteString(")")
		for _, v := range slot.Values {
			args = append(args, v.Hex())
		}
	}
	b.WriteString(" ORDER BY checkpoint")

	rows, err := s.d.query(s.db, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		var l models.Log
		var blockHash, txHash string
		var topic0, topic1, topic2, topic3 *string
		if err := rows.Scan(&l.ID, &l.ChainID, &blockHash, &l.BlockNumber, &txHash, &l.TransactionIndex, &l.LogIndex,
			&l.Address, &topic0, &topic1, &topic2, &topic3, &l.Data, &l.Checkpoint); err != nil {
			return nil, err
		}
		l.BlockHash = common.HexToHash(blockHash)
		l.TransactionHash = common.HexToHash(txHash)
		l.Topic0 = hexPtrToHashPtr(topic0)
		l.Topic1 = hexPtrToHashPtr(topic1)
		l.Topic2 = hexPtrToHashPtr(topic2)
		l.Topic3 = hexPtrToHashPtr(topic3)

		block, err := s.getBlock(ctx, l.ChainID, l.BlockHash)
		if err != nil {
			return nil, err
		}
		txn, err := s.getTransaction(ctx, l.ChainID, l.TransactionHash)
		if err != nil {
			return nil, err
		}
		var receipt *models.TransactionReceipt
		if f.IncludeReceipts {
			receipt, err = s.getTransactionReceipt(ctx, l.ChainID, l.TransactionHash)
			if err != nil {
				return nil, err
			}
		}
		out = append(out, models.Event{
			FilterIndex: src.FilterIndex,
			Checkpoint:  l.Checkpoint,
			Kind:        models.EventKindLog,
			Log:         &models.LogEvent{Log: l, Block: block, Transaction: txn, Receipt: receipt},
		})
	}
	return out, rows.Err()
}

func (s *Store) getBlockEvents(ctx context.Context, src models.Source, f *models.BlockFilter, from, to models.Checkpoint) ([]models.Event, error) {
	query := `SELECT hash, chain_id, number, parent_hash, timestamp, nonce, gas_limit, gas_used, base_fee, miner, state_root, tx_root
		FROM blocks WHERE chain_id = ? AND number BETWEEN ? AND ?`
	args := []any{f.ChainID, from.BlockNumber, to.BlockNumber}
	if f.Interval > 1 {
		query += ` AND (number - ?) % ? = 0`
		args = append(args, f.Offset, f.Interval)
	}

	rows, err := s.d.query(s.db, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		b, err := scanBlock(rows, s.d)
		if err != nil {
			return nil, err
		}
		cp := models.Checkpoint{BlockTimestamp: b.Timestamp, ChainID: b.ChainID, BlockNumber: b.Number, EventType: models.EventTypeBlock}
		enc := models.Encode(cp)
		if enc <= models.Encode(from) || enc > models.Encode(to) {
			continue
		}
		out = append(out, models.Event{
			FilterIndex: src.FilterIndex,
			Checkpoint:  enc,
			Kind:        models.EventKindBlock,
			Block:       &models.BlockEvent{Block: b},
		})
	}
	return out, rows.Err()
}

func (s *Store) getCallTraceEvents(ctx context.Context, src models.Source, f *models.CallTraceFilter, from, to models.Checkpoint) ([]models.Event, error) {
	addrs, wildcard, err := s.resolvedAddresses(ctx, f.ToAddress, f.ChainID, to.BlockNumber)
	if err != nil {
		return nil, err
	}
	if !wildcard && len(addrs) == 0 {
		return nil, nil
	}

	var b strings.Builder
	args := []any{f.ChainID, models.Encode(from), models.Encode(to)}
	b.WriteString(`SELECT id, chain_id, block_number, transaction_hash, transaction_position, trace_address, from_address, to_address,
		input, output, value, gas, gas_used, subtraces, call_type, error, checkpoint
		FROM call_traces WHERE chain_id = ? AND checkpoint > ? AND checkpoint <= ?`)
	if !wildcard {
		b.WriteString(" AND to_address IN (")
		appendPlaceholders(&b, len(addrs))
		b.WriteString(")")
		for _, a := range addrs {
			args = append(args, a.Hex())
		}
	}
	if len(f.FromAddress) > 0 {
		b.WriteString(" AND from_address IN (")
		appendPlaceholders(&b, len(f.FromAddress))
		b.WriteString(")")
		for _, a := range f.FromAddress {
			args = append(args, a.Hex())
		}
	}

	rows, err := s.d.query(s.db, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		c, err := scanCallTrace(rows, s.d)
		if err != nil {
			return nil, err
		}
		if len(f.FunctionSelectors) > 0 && !selectorMatches(c.Input, f.FunctionSelectors) {
			continue
		}
		block, err := s.getBlockByNumber(ctx, c.ChainID, c.BlockNumber)
		if err != nil {
			return nil, err
		}
		txn, err := s.getTransaction(ctx, c.ChainID, c.TransactionHash)
		if err != nil {
			return nil, err
		}
		out = append(out, models.Event{
			FilterIndex: src.FilterIndex,
			Checkpoint:  c.Checkpoint,
			Kind:        models.EventKindCallTrace,
			Call:        &models.CallTraceEvent{Call: c, Block: block, Transaction: txn},
		})
	}
	return out, rows.Err()
}

func selectorMatches(input []byte, selectors []string) bool {
	if len(input) < 4 {
		return false
	}
	got := fmt.Sprintf("0x%x", input[:4])
	for _, want := range selectors {
		if strings.EqualFold(got, want) {
			return true
		}
	}
	return false
}

func appendPlaceholders(b *strings.Builder, n int) {
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("?")
	}
}

func hexPtrToHashPtr(s *string) *common.Hash {
	if s == nil {
		return nil
	}
	h := common.HexToHash(*s)
	return &h
}
