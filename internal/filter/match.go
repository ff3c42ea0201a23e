package filter

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/chainindex/syncengine/pkg/models"
)

// IsAddressFactory discriminates whether an AddressSpec's addresses are
// defined by a Factory rather than given literally.
func IsAddressFactory(spec models.AddressSpec) bool {
	return spec.IsFactory()
}

// MatchesLog reports whether a decoded log satisfies a fragment's
// predicate. Factory fragments are matched against a resolved address
// set supplied by the caller (the raw store resolves factory addresses
// via a correlated subquery; callers testing in memory pass the
// resolved set here instead).
func MatchesLog(frag Fragment, log types.Log, resolvedFactoryAddrs map[common.Address]struct{}) bool {
	if frag.Kind != FragmentKindLog && frag.Kind != FragmentKindFactoryLog {
		return false
	}
	if frag.Address != nil && log.Address != *frag.Address {
		return false
	}
	if frag.Factory != nil {
		if resolvedFactoryAddrs != nil {
			if _, ok := resolvedFactoryAddrs[log.Address]; !ok {
				return false
			}
		}
	}
	if !topicMatches(frag.Topic0, log, 0) || !topicMatches(frag.Topic1, log, 1) ||
		!topicMatches(frag.Topic2, log, 2) || !topicMatches(frag.Topic3, log, 3) {
		return false
	}
	return true
}

func topicMatches(want *common.Hash, log types.Log, idx int) bool {
	if want == nil {
		return true
	}
	if idx >= len(log.Topics) {
		return false
	}
	return log.Topics[idx] == *want
}

// MatchesBlock reports whether block number n satisfies a block fragment.
func MatchesBlock(frag Fragment, n uint64) bool {
	if frag.Kind != FragmentKindBlock {
		return false
	}
	bf := &models.BlockFilter{Interval: frag.Interval, Offset: frag.Offset}
	return bf.Matches(n)
}

// MatchesCallTrace reports whether a call trace (identified by to/from
// address and 4-byte selector) satisfies a trace fragment.
func MatchesCallTrace(frag Fragment, from, to common.Address, selector string, resolvedFactoryAddrs map[common.Address]struct{}) bool {
	if frag.Kind != FragmentKindTrace && frag.Kind != FragmentKindFactoryTrace {
		return false
	}
	if frag.Address != nil && to != *frag.Address {
		return false
	}
	if frag.Factory != nil && resolvedFactoryAddrs != nil {
		if _, ok := resolvedFactoryAddrs[to]; !ok {
			return false
		}
	}
	if frag.FromAddress != nil && from != *frag.FromAddress {
		return false
	}
	if frag.FunctionSelector != nil && *frag.FunctionSelector != selector {
		return false
	}
	return true
}

// DecodeChildAddress extracts the child address encoded in a source log
// according to loc, returning the zero address if the location is out of
// range.
func DecodeChildAddress(log types.Log, loc models.ChildAddressLocation) (common.Address, bool) {
	if loc.IsOffset {
		start := loc.DataOffset
		end := start + common.AddressLength
		if start < 0 || end > len(log.Data) {
			return common.Address{}, false
		}
		return common.BytesToAddress(log.Data[start:end]), true
	}
	idx := loc.Topic
	if idx < 1 || idx >= len(log.Topics) {
		return common.Address{}, false
	}
	return common.BytesToAddress(log.Topics[idx].Bytes()), true
}
