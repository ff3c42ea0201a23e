package rawstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainindex/syncengine/pkg/models"
)

func (s *Store) getBlock(ctx context.Context, chainID uint64, hash common.Hash) (models.Block, error) {
	rows, err := s.d.query(s.db, `SELECT hash, chain_id, number, parent_hash, timestamp, nonce, gas_limit, gas_used, base_fee, miner, state_root, tx_root
		FROM blocks WHERE chain_id = ? AND hash = ?`, chainID, hash.Hex())
	if err != nil {
		return models.Block{}, err
	}
	defer rows.Close()
	if !rows.Next() {
		return models.Block{}, fmt.Errorf("rawstore: block %s not found", hash)
	}
	return scanBlock(rows, s.d)
}

func (s *Store) getBlockByNumber(ctx context.Context, chainID, number uint64) (models.Block, error) {
	rows, err := s.d.query(s.db, `SELECT hash, chain_id, number, parent_hash, timestamp, nonce, gas_limit, gas_used, base_fee, miner, state_root, tx_root
		FROM blocks WHERE chain_id = ? AND number = ?`, chainID, number)
	if err != nil {
		return models.Block{}, err
	}
	defer rows.Close()
	if !rows.Next() {
		return models.Block{}, fmt.Errorf("rawstore: block number %d not found", number)
	}
	return scanBlock(rows, s.d)
}

func scanBlock(rows *sql.Rows, d dialect) (models.Block, error) {
	var b models.Block
	var hash, parentHash, miner, stateRoot, txRoot string
	var baseFee any
	if err := rows.Scan(&hash, &b.ChainID, &b.Number, &parentHash, &b.Timestamp, &b.Nonce, &b.GasLimit, &b.GasUsed,
		&baseFee, &miner, &stateRoot, &txRoot); err != nil {
		return models.Block{}, err
	}
	b.Hash = common.HexToHash(hash)
	b.ParentHash = common.HexToHash(parentHash)
	b.Miner = common.HexToAddress(miner)
	b.StateRoot = common.HexToHash(stateRoot)
	b.TxRoot = common.HexToHash(txRoot)
	fee, err := d.big.Decode(baseFee)
	if err != nil {
		return models.Block{}, err
	}
	b.BaseFee = fee
	return b, nil
}

func (s *Store) getTransaction(ctx context.Context, chainID uint64, hash common.Hash) (models.Transaction, error) {
	rows, err := s.d.query(s.db, `SELECT hash, chain_id, block_hash, block_number, transaction_index, from_address, to_address, value, gas_limit, gas_price, input, nonce
		FROM transactions WHERE chain_id = ? AND hash = ?`, chainID, hash.Hex())
	if err != nil {
		return models.Transaction{}, err
	}
	defer rows.Close()
	if !rows.Next() {
		return models.Transaction{}, fmt.Errorf("rawstore: transaction %s not found", hash)
	}

	var t models.Transaction
	var h, blockHash, from string
	var to *string
	var value, gasPrice any
	if err := rows.Scan(&h, &t.ChainID, &blockHash, &t.BlockNumber, &t.TransactionIndex, &from, &to, &value, &t.GasLimit, &gasPrice, &t.Input, &t.Nonce); err != nil {
		return models.Transaction{}, err
	}
	t.Hash = common.HexToHash(h)
	t.BlockHash = common.HexToHash(blockHash)
	t.From = common.HexToAddress(from)
	if to != nil {
		addr := common.HexToAddress(*to)
		t.To = &addr
	}
	v, err := s.d.big.Decode(value)
	if err != nil {
		return models.Transaction{}, err
	}
	t.Value = v
	gp, err := s.d.big.Decode(gasPrice)
	if err != nil {
		return models.Transaction{}, err
	}
	t.GasPrice = gp
	return t, nil
}

func (s *Store) getTransactionReceipt(ctx context.Context, chainID uint64, hash common.Hash) (*models.TransactionReceipt, error) {
	rows, err := s.d.query(s.db, `SELECT transaction_hash, chain_id, block_hash, block_number, status, gas_used, cumulative_gas, contract_address, logs_bloom
		FROM transaction_receipts WHERE chain_id = ? AND transaction_hash = ?`, chainID, hash.Hex())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, nil
	}

	var r models.TransactionReceipt
	var h, blockHash string
	var contractAddr *string
	if err := rows.Scan(&h, &r.ChainID, &blockHash, &r.BlockNumber, &r.Status, &r.GasUsed, &r.CumulativeGas, &contractAddr, &r.LogsBloom); err != nil {
		return nil, err
	}
	r.TransactionHash = common.HexToHash(h)
	r.BlockHash = common.HexToHash(blockHash)
	if contractAddr != nil {
		addr := common.HexToAddress(*contractAddr)
		r.ContractAddress = &addr
	}
	return &r, nil
}

func scanCallTrace(rows *sql.Rows, d dialect) (models.CallTrace, error) {
	var c models.CallTrace
	var txHash, traceAddr, from, to string
	var value any
	if err := rows.Scan(&c.ID, &c.ChainID, &c.BlockNumber, &txHash, &c.TransactionPosition, &traceAddr, &from, &to,
		&c.Input, &c.Output, &value, &c.Gas, &c.GasUsed, &c.Subtraces, &c.CallType, &c.Error, &c.Checkpoint); err != nil {
		return models.CallTrace{}, err
	}
	c.TransactionHash = common.HexToHash(txHash)
	c.From = common.HexToAddress(from)
	c.To = common.HexToAddress(to)
	c.TraceAddress = decodeTraceAddress(traceAddr)
	v, err := d.big.Decode(value)
	if err != nil {
		return models.CallTrace{}, err
	}
	c.Value = v
	return c, nil
}

func decodeTraceAddress(s string) []int {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}
