// Package models defines the shared data model of the sync engine: the
// filter tagged union, intervals, checkpoints, raw chain entities, and the
// decoded event sum type that flows out of the checkpoint cursor.
package models

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// FilterKind discriminates the Filter tagged union.
type FilterKind string

const (
	FilterKindLog       FilterKind = "log"
	FilterKindBlock     FilterKind = "block"
	FilterKindCallTrace FilterKind = "callTrace"
)

// Filter is the common interface satisfied by LogFilter, BlockFilter and
// CallTraceFilter. Modeled as a sum type via interface rather than a
// tagged struct with proxy fields, per the dynamic-event-payload design
// note: callers type-switch on Kind() to recover the concrete variant.
type Filter interface {
	Kind() FilterKind
	GetChainID() uint64
	GetFromBlock() uint64
	GetToBlock() *uint64
}

// AddressSpec models `Address | [Address] | Factory | null`.
type AddressSpec struct {
	Single  *common.Address
	List    []common.Address
	Factory *Factory
}

// IsFactory reports whether the address set is defined by a Factory.
func (a AddressSpec) IsFactory() bool { return a.Factory != nil }

// IsWildcard reports whether no address restriction was given at all.
func (a AddressSpec) IsWildcard() bool {
	return a.Single == nil && len(a.List) == 0 && a.Factory == nil
}

// Addresses returns the concrete address list when not a wildcard/factory.
func (a AddressSpec) Addresses() []common.Address {
	if a.Single != nil {
		return []common.Address{*a.Single}
	}
	return a.List
}

// ChildAddressLocation describes where in a source log a factory's child
// address is encoded: one of the indexed topics 1-3, or a byte offset into
// the log's data payload ("offset<N>").
type ChildAddressLocation struct {
	Topic      int // 1, 2 or 3; zero means DataOffset is used instead
	DataOffset int
	IsOffset   bool
}

// ParseChildAddressLocation parses "topic1".."topic3" or "offset<N>".
func ParseChildAddressLocation(s string) (ChildAddressLocation, error) {
	switch s {
	case "topic1":
		return ChildAddressLocation{Topic: 1}, nil
	case "topic2":
		return ChildAddressLocation{Topic: 2}, nil
	case "topic3":
		return ChildAddressLocation{Topic: 3}, nil
	}
	if strings.HasPrefix(s, "offset") {
		n, err := strconv.Atoi(strings.TrimPrefix(s, "offset"))
		if err != nil {
			return ChildAddressLocation{}, fmt.Errorf("invalid childAddressLocation %q: %w", s, err)
		}
		return ChildAddressLocation{IsOffset: true, DataOffset: n}, nil
	}
	return ChildAddressLocation{}, fmt.Errorf("invalid childAddressLocation %q", s)
}

func (c ChildAddressLocation) String() string {
	if c.IsOffset {
		return fmt.Sprintf("offset%d", c.DataOffset)
	}
	return fmt.Sprintf("topic%d", c.Topic)
}

// Factory defines an address set as the set of addresses emitted by a prior
// log matching (Address, EventSelector), decoded at ChildAddressLocation.
type Factory struct {
	ChainID              uint64
	Address              common.Address
	EventSelector        common.Hash
	ChildAddressLocation ChildAddressLocation
}

// TopicSlot is `null | Hex | [Hex]`. A single-element array and a bare
// scalar are equivalent at every layer (spec open question): both are
// represented as a one-element Values slice, so there is nothing further
// to normalize once a TopicSlot is constructed via NewTopicSlot.
type TopicSlot struct {
	Values []common.Hash // empty/nil means wildcard (null)
}

// NewTopicSlot builds a TopicSlot from any number of hash values,
// collapsing the scalar-vs-single-element-array distinction the config
// layer may present.
func NewTopicSlot(values ...common.Hash) TopicSlot {
	if len(values) == 0 {
		return TopicSlot{}
	}
	return TopicSlot{Values: values}
}

// IsWildcard reports whether the slot matches any value.
func (t TopicSlot) IsWildcard() bool { return len(t.Values) == 0 }

// LogFilter selects logs by chain, address/factory, block range and topics.
type LogFilter struct {
	ChainID         uint64
	FromBlock       uint64
	ToBlock         *uint64
	Address         AddressSpec
	Topics          [4]TopicSlot
	IncludeReceipts bool
}

func (f *LogFilter) Kind() FilterKind      { return FilterKindLog }
func (f *LogFilter) GetChainID() uint64    { return f.ChainID }
func (f *LogFilter) GetFromBlock() uint64  { return f.FromBlock }
func (f *LogFilter) GetToBlock() *uint64   { return f.ToBlock }

// BlockFilter selects blocks where (n - Offset) mod Interval == 0.
type BlockFilter struct {
	ChainID   uint64
	FromBlock uint64
	ToBlock   *uint64
	Interval  uint64
	Offset    uint64
}

func (f *BlockFilter) Kind() FilterKind     { return FilterKindBlock }
func (f *BlockFilter) GetChainID() uint64   { return f.ChainID }
func (f *BlockFilter) GetFromBlock() uint64 { return f.FromBlock }
func (f *BlockFilter) GetToBlock() *uint64  { return f.ToBlock }

// Matches reports whether block number n is selected by the filter.
func (f *BlockFilter) Matches(n uint64) bool {
	if f.Interval == 0 {
		return true
	}
	// (n - offset) mod interval == 0, computed without underflow.
	var diff uint64
	if n >= f.Offset {
		diff = n - f.Offset
	} else {
		diff = f.Offset - n
	}
	return diff%f.Interval == 0
}

// CallTraceFilter selects call traces by from/to address and selector.
type CallTraceFilter struct {
	ChainID           uint64
	FromBlock         uint64
	ToBlock           *uint64
	FromAddress       []common.Address
	ToAddress         AddressSpec
	FunctionSelectors []string
}

func (f *CallTraceFilter) Kind() FilterKind     { return FilterKindCallTrace }
func (f *CallTraceFilter) GetChainID() uint64   { return f.ChainID }
func (f *CallTraceFilter) GetFromBlock() uint64 { return f.FromBlock }
func (f *CallTraceFilter) GetToBlock() *uint64  { return f.ToBlock }

// Source pairs a configured filter with its position in the user's
// declared filter list; FilterIndex is the tie-breaker used by the
// checkpoint cursor to keep event ordering deterministic across runs.
type Source struct {
	FilterIndex int
	Name        string
	Network     string
	Filter      Filter
}
