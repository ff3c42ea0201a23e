package rawstore

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainindex/syncengine/pkg/models"
)

// InsertBlock upserts a block row, keyed by (chain, hash). Idempotent:
// re-syncing the same block is a no-op past the first insert.
func (s *Store) InsertBlock(ctx context.Context, b models.Block) error {
	query := `INSERT INTO blocks (
		hash, chain_id, number, parent_hash, timestamp, nonce, gas_limit, gas_used, base_fee, miner, state_root, tx_root
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	` + upsertClause([]string{"chain_id", "hash"}, []string{
		"number", "parent_hash", "timestamp", "nonce", "gas_limit", "gas_used", "base_fee", "miner", "state_root", "tx_root",
	})
	_, err := s.d.exec(s.db, query,
		b.Hash.Hex(), b.ChainID, b.Number, b.ParentHash.Hex(), b.Timestamp, b.Nonce, b.GasLimit, b.GasUsed,
		s.d.big.Encode(b.BaseFee), b.Miner.Hex(), b.StateRoot.Hex(), b.TxRoot.Hex(),
	)
	if err != nil {
		return fmt.Errorf("rawstore: insert block %s: %w", b.Hash, err)
	}
	return nil
}

// InsertTransactions upserts a batch of transactions within one
// transaction, keyed by (chain, hash).
func (s *Store) InsertTransactions(ctx context.Context, txs []models.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `INSERT INTO transactions (
		hash, chain_id, block_hash, block_number, transaction_index, from_address, to_address, value, gas_limit, gas_price, input, nonce
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	` + upsertClause([]string{"chain_id", "hash"}, []string{
		"block_hash", "block_number", "transaction_index", "from_address", "to_address", "value", "gas_limit", "gas_price", "input", "nonce",
	})
	for _, t := range txs {
		var to any
		if t.To != nil {
			to = t.To.Hex()
		}
		if _, err := s.d.execTx(tx, query,
			t.Hash.Hex(), t.ChainID, t.BlockHash.Hex(), t.BlockNumber, t.TransactionIndex, t.From.Hex(), to,
			s.d.big.Encode(t.Value), t.GasLimit, s.d.big.Encode(t.GasPrice), t.Input, t.Nonce,
		); err != nil {
			return fmt.Errorf("rawstore: insert transaction %s: %w", t.Hash, err)
		}
	}
	return tx.Commit()
}

// InsertTransactionReceipts upserts a batch of receipts, keyed by
// (chain, transaction hash).
func (s *Store) InsertTransactionReceipts(ctx context.Context, receipts []models.TransactionReceipt) error {
	if len(receipts) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `INSERT INTO transaction_receipts (
		transaction_hash, chain_id, block_hash, block_number, status, gas_used, cumulative_gas, contract_address, logs_bloom
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	` + upsertClause([]string{"chain_id", "transaction_hash"}, []string{
		"block_hash", "block_number", "status", "gas_used", "cumulative_gas", "contract_address", "logs_bloom",
	})
	for _, r := range receipts {
		var contractAddr any
		if r.ContractAddress != nil {
			contractAddr = r.ContractAddress.Hex()
		}
		if _, err := s.d.execTx(tx, query,
			r.TransactionHash.Hex(), r.ChainID, r.BlockHash.Hex(), r.BlockNumber, r.Status, r.GasUsed, r.CumulativeGas, contractAddr, r.LogsBloom,
		); err != nil {
			return fmt.Errorf("rawstore: insert receipt %s: %w", r.TransactionHash, err)
		}
	}
	return tx.Commit()
}

// InsertLogs upserts a batch of logs, keyed by (chain, id).
func (s *Store) InsertLogs(ctx context.Context, logs []models.Log) error {
	if len(logs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `INSERT INTO logs (
		id, chain_id, block_hash, block_number, transaction_hash, transaction_index, log_index, address, topic0, topic1, topic2, topic3, data, checkpoint
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	` + upsertClause([]string{"chain_id", "id"}, []string{
		"block_hash", "block_number", "transaction_hash", "transaction_index", "log_index", "address",
		"topic0", "topic1", "topic2", "topic3", "data", "checkpoint",
	})
	for _, l := range logs {
		if _, err := s.d.execTx(tx, query,
			l.ID, l.ChainID, l.BlockHash.Hex(), l.BlockNumber, l.TransactionHash.Hex(), l.TransactionIndex, l.LogIndex, l.Address.Hex(),
			hashPtrHex(l.Topic0), hashPtrHex(l.Topic1), hashPtrHex(l.Topic2), hashPtrHex(l.Topic3), l.Data, l.Checkpoint,
		); err != nil {
			return fmt.Errorf("rawstore: insert log %s: %w", l.ID, err)
		}
	}
	return tx.Commit()
}

// InsertCallTraces replaces every call trace belonging to the
// transactions present in traces: traces are re-synced wholesale per
// transaction rather than upserted row-by-row, since a call trace has no
// stable natural key independent of its sibling traces in the same
// transaction.
func (s *Store) InsertCallTraces(ctx context.Context, traces []models.CallTrace) error {
	if len(traces) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	txHashes := map[common.Hash]uint64{}
	for _, t := range traces {
		txHashes[t.TransactionHash] = t.ChainID
	}
	for hash, chainID := range txHashes {
		if _, err := s.d.execTx(tx, `DELETE FROM call_traces WHERE chain_id = ? AND transaction_hash = ?`, chainID, hash.Hex()); err != nil {
			return fmt.Errorf("rawstore: clear call traces for %s: %w", hash, err)
		}
	}

	insert := `INSERT INTO call_traces (
		id, chain_id, block_number, transaction_hash, transaction_position, trace_address, from_address, to_address,
		input, output, value, gas, gas_used, subtraces, call_type, error, checkpoint
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for _, c := range traces {
		if _, err := s.d.execTx(tx, insert,
			c.ID, c.ChainID, c.BlockNumber, c.TransactionHash.Hex(), c.TransactionPosition, encodeTraceAddress(c.TraceAddress),
			c.From.Hex(), c.To.Hex(), c.Input, c.Output, s.d.big.Encode(c.Value), c.Gas, c.GasUsed, c.Subtraces, c.CallType, c.Error, c.Checkpoint,
		); err != nil {
			return fmt.Errorf("rawstore: insert call trace %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// HasBlock reports whether a block is already stored.
func (s *Store) HasBlock(ctx context.Context, chainID uint64, hash common.Hash) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM blocks WHERE chain_id = ? AND hash = ?`, chainID, hash.Hex())
}

// HasTransaction reports whether a transaction is already stored.
func (s *Store) HasTransaction(ctx context.Context, chainID uint64, hash common.Hash) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM transactions WHERE chain_id = ? AND hash = ?`, chainID, hash.Hex())
}

// HasTransactionReceipt reports whether a receipt is already stored.
func (s *Store) HasTransactionReceipt(ctx context.Context, chainID uint64, hash common.Hash) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM transaction_receipts WHERE chain_id = ? AND transaction_hash = ?`, chainID, hash.Hex())
}

func (s *Store) exists(ctx context.Context, query string, args ...any) (bool, error) {
	rows, err := s.d.query(s.db, query, args...)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	return rows.Next(), rows.Err()
}

func hashPtrHex(h *common.Hash) any {
	if h == nil {
		return nil
	}
	return h.Hex()
}

func encodeTraceAddress(addr []int) string {
	s := ""
	for i, n := range addr {
		if i > 0 {
			s += ","
		}
		s += fmt.Sprintf("%d", n)
	}
	return s
}
