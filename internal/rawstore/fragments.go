package rawstore

import (
	"context"
	"fmt"

	"github.com/chainindex/syncengine/internal/filter"
)

// RegisterFragment upserts frag's descriptive columns so later queries
// (getEvents, getChildAddresses) can recover its matching predicate from
// fragment_id alone. Idempotent: registering the same fragment twice is
// a no-op past the first call.
func (s *Store) RegisterFragment(ctx context.Context, frag filter.Fragment) error {
	var (
		address, factoryAddress, factoryEventSelector, factoryChildLoc string
		topic0, topic1, topic2, topic3                                 string
		fromAddress, functionSelector                                  string
		includeReceipts                                                int
	)
	if frag.Address != nil {
		address = frag.Address.Hex()
	}
	if frag.Factory != nil {
		factoryAddress = frag.Factory.Address.Hex()
		factoryEventSelector = frag.Factory.EventSelector.Hex()
		factoryChildLoc = frag.Factory.ChildAddressLocation.String()
	}
	if frag.Topic0 != nil {
		topic0 = frag.Topic0.Hex()
	}
	if frag.Topic1 != nil {
		topic1 = frag.Topic1.Hex()
	}
	if frag.Topic2 != nil {
		topic2 = frag.Topic2.Hex()
	}
	if frag.Topic3 != nil {
		topic3 = frag.Topic3.Hex()
	}
	if frag.FromAddress != nil {
		fromAddress = frag.FromAddress.Hex()
	}
	if frag.FunctionSelector != nil {
		functionSelector = *frag.FunctionSelector
	}
	if frag.IncludeReceipts {
		includeReceipts = 1
	}

	query := `INSERT INTO filter_fragments (
		fragment_id, kind, chain_id, address, factory_address, factory_event_selector,
		factory_child_location, topic0, topic1, topic2, topic3, include_receipts,
		block_interval, block_offset, from_address, function_selector
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	` + upsertClause([]string{"fragment_id"}, []string{
		"kind", "chain_id", "address", "factory_address", "factory_event_selector",
		"factory_child_location", "topic0", "topic1", "topic2", "topic3", "include_receipts",
		"block_interval", "block_offset", "from_address", "function_selector",
	})

	if _, err := s.d.exec(s.db, query,
		frag.ID, string(frag.Kind), frag.ChainID, nullable(address), nullable(factoryAddress), nullable(factoryEventSelector),
		nullable(factoryChildLoc), nullable(topic0), nullable(topic1), nullable(topic2), nullable(topic3), includeReceipts,
		frag.Interval, frag.Offset, nullable(fromAddress), nullable(functionSelector),
	); err != nil {
		return fmt.Errorf("rawstore: register fragment %s: %w", frag.ID, err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
