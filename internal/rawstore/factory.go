package rawstore

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainindex/syncengine/internal/interval"
	"github.com/chainindex/syncengine/pkg/models"
)

// GetChildAddresses resolves the current address set produced by a
// factory: every log matching (chainId, factory.Address,
// factory.EventSelector as topic0) within synced, in the block range
// already known to be synced for the trigger log's own filter fragment.
func (s *Store) GetChildAddresses(ctx context.Context, factory models.Factory, synced interval.Range) ([]common.Address, error) {
	rows, err := s.d.query(s.db, `SELECT topic1, topic2, topic3, data FROM logs
		WHERE chain_id = ? AND address = ? AND topic0 = ? AND block_number BETWEEN ? AND ?`,
		factory.ChainID, factory.Address.Hex(), factory.EventSelector.Hex(), synced.Start, synced.End)
	if err != nil {
		return nil, fmt.Errorf("rawstore: get child addresses: %w", err)
	}
	defer rows.Close()

	seen := make(map[common.Address]struct{})
	var out []common.Address
	for rows.Next() {
		var topic1, topic2, topic3 *string
		var data []byte
		if err := rows.Scan(&topic1, &topic2, &topic3, &data); err != nil {
			return nil, err
		}
		addr, ok := decodeChildAddressFromRow(factory.ChildAddressLocation, topic1, topic2, topic3, data)
		if !ok {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out, rows.Err()
}

// FilterChildAddresses resolves a factory's child addresses the same way
// GetChildAddresses does, but returns them as a membership set for fast
// matching against candidate addresses. It reads only child addresses
// whose source logs are already stored.
func (s *Store) FilterChildAddresses(ctx context.Context, factory models.Factory, synced interval.Range) (map[common.Address]struct{}, error) {
	addrs, err := s.GetChildAddresses(ctx, factory, synced)
	if err != nil {
		return nil, err
	}
	set := make(map[common.Address]struct{}, len(addrs))
	for _, a := range addrs {
		set[a] = struct{}{}
	}
	return set, nil
}

func decodeChildAddressFromRow(loc models.ChildAddressLocation, topic1, topic2, topic3 *string, data []byte) (common.Address, bool) {
	if loc.IsOffset {
		start := loc.DataOffset
		end := start + common.AddressLength
		if start < 0 || end > len(data) {
			return common.Address{}, false
		}
		return common.BytesToAddress(data[start:end]), true
	}
	var topic *string
	switch loc.Topic {
	case 1:
		topic = topic1
	case 2:
		topic = topic2
	case 3:
		topic = topic3
	}
	if topic == nil {
		return common.Address{}, false
	}
	return common.BytesToAddress(common.HexToHash(*topic).Bytes()), true
}
