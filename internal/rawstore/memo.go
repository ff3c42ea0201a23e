package rawstore

import (
	"context"
	"fmt"
)

// GetRpcRequestResult implements rpcqueue.Memo, looking up a previously
// memoized JSON-RPC response.
func (s *Store) GetRpcRequestResult(ctx context.Context, chainID, blockNumber uint64, request string) (string, bool, error) {
	rows, err := s.d.query(s.db, `SELECT result FROM rpc_request_results WHERE chain_id = ? AND block_number = ? AND request = ?`,
		chainID, blockNumber, request)
	if err != nil {
		return "", false, fmt.Errorf("rawstore: get rpc request result: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return "", false, rows.Err()
	}
	var result string
	if err := rows.Scan(&result); err != nil {
		return "", false, err
	}
	return result, true, nil
}

// InsertRpcRequestResult implements rpcqueue.Memo, persisting a JSON-RPC
// response so it can be reused across runs and pruned on reorg.
func (s *Store) InsertRpcRequestResult(ctx context.Context, chainID, blockNumber uint64, request, result string) error {
	query := `INSERT INTO rpc_request_results (request, chain_id, block_number, result) VALUES (?, ?, ?, ?)
	` + upsertClause([]string{"chain_id", "block_number", "request"}, []string{"result"})
	if _, err := s.d.exec(s.db, query, request, chainID, blockNumber, result); err != nil {
		return fmt.Errorf("rawstore: insert rpc request result: %w", err)
	}
	return nil
}
