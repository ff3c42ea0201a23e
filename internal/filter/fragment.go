// Package filter canonicalizes user-declared filters into storage-level
// fragments, supplies the matching predicates the raw store uses to build
// SQL, and discriminates factory-defined address sets.
package filter

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainindex/syncengine/pkg/models"
)

// FragmentKind names one of the five filter-fragment storage kinds
// (spec.md §3's LogFilter | FactoryLogFilter | BlockFilter | TraceFilter |
// FactoryTraceFilter tables).
type FragmentKind string

const (
	FragmentKindLog        FragmentKind = "log"
	FragmentKindFactoryLog FragmentKind = "factoryLog"
	FragmentKindBlock      FragmentKind = "block"
	FragmentKindTrace      FragmentKind = "trace"
	FragmentKindFactoryTrace FragmentKind = "factoryTrace"
)

// Fragment is a canonical, storage-level subdivision of a filter: one per
// topic-slot value for arrays, one per address for enumerated lists. The
// union of a filter's fragments equals the original filter.
type Fragment struct {
	ID      string
	Kind    FragmentKind
	ChainID uint64

	// Address-identifying fields. Exactly one of Address/Factory is set
	// for address-bearing fragment kinds.
	Address *common.Address
	Factory *models.Factory

	// Log-only.
	Topic0, Topic1, Topic2, Topic3 *common.Hash
	IncludeReceipts                bool

	// Block-only.
	Interval, Offset uint64

	// Trace-only.
	FromAddress      *common.Address
	FunctionSelector *string
}

// Canonicalize breaks f into the fragments whose union equals f.
func Canonicalize(f models.Filter) ([]Fragment, error) {
	switch v := f.(type) {
	case *models.LogFilter:
		return canonicalizeLog(v)
	case *models.BlockFilter:
		return []Fragment{canonicalizeBlock(v)}, nil
	case *models.CallTraceFilter:
		return canonicalizeCallTrace(v)
	default:
		return nil, fmt.Errorf("filter: unknown filter kind %T", f)
	}
}

func canonicalizeLog(f *models.LogFilter) ([]Fragment, error) {
	addrFragments, err := addressFragments(f.ChainID, f.Address)
	if err != nil {
		return nil, err
	}

	topicCombos := topicCombinations(f.Topics)

	out := make([]Fragment, 0, len(addrFragments)*len(topicCombos))
	for _, af := range addrFragments {
		for _, tc := range topicCombos {
			frag := Fragment{
				Kind:            FragmentKindLog,
				ChainID:         f.ChainID,
				Address:         af.address,
				Factory:         af.factory,
				Topic0:          tc[0],
				Topic1:          tc[1],
				Topic2:          tc[2],
				Topic3:          tc[3],
				IncludeReceipts: f.IncludeReceipts,
			}
			if af.factory != nil {
				frag.Kind = FragmentKindFactoryLog
			}
			frag.ID = fragmentID(frag)
			out = append(out, frag)
		}
	}
	return out, nil
}

func canonicalizeBlock(f *models.BlockFilter) Fragment {
	frag := Fragment{
		Kind:     FragmentKindBlock,
		ChainID:  f.ChainID,
		Interval: f.Interval,
		Offset:   f.Offset,
	}
	frag.ID = fragmentID(frag)
	return frag
}

func canonicalizeCallTrace(f *models.CallTraceFilter) ([]Fragment, error) {
	toFragments, err := addressFragments(f.ChainID, f.ToAddress)
	if err != nil {
		return nil, err
	}

	froms := f.FromAddress
	if len(froms) == 0 {
		froms = []common.Address{{}} // single wildcard "from"
	}
	selectors := f.FunctionSelectors
	if len(selectors) == 0 {
		selectors = []string{""} // single wildcard selector
	}

	out := make([]Fragment, 0, len(toFragments)*len(froms)*len(selectors))
	for _, tf := range toFragments {
		for i := range froms {
			var fromPtr *common.Address
			if froms[i] != (common.Address{}) {
				fromPtr = &froms[i]
			}
			for j := range selectors {
				var selPtr *string
				if selectors[j] != "" {
					selPtr = &selectors[j]
				}
				frag := Fragment{
					Kind:             FragmentKindTrace,
					ChainID:          f.ChainID,
					Address:          tf.address,
					Factory:          tf.factory,
					FromAddress:      fromPtr,
					FunctionSelector: selPtr,
				}
				if tf.factory != nil {
					frag.Kind = FragmentKindFactoryTrace
				}
				frag.ID = fragmentID(frag)
				out = append(out, frag)
			}
		}
	}
	return out, nil
}

type addrFragment struct {
	address *common.Address
	factory *models.Factory
}

func addressFragments(chainID uint64, spec models.AddressSpec) ([]addrFragment, error) {
	switch {
	case spec.Factory != nil:
		return []addrFragment{{factory: spec.Factory}}, nil
	case spec.Single != nil:
		a := *spec.Single
		return []addrFragment{{address: &a}}, nil
	case len(spec.List) > 0:
		out := make([]addrFragment, len(spec.List))
		for i := range spec.List {
			a := spec.List[i]
			out[i] = addrFragment{address: &a}
		}
		return out, nil
	default:
		return []addrFragment{{}}, nil // wildcard: one fragment, no address
	}
}

// topicCombinations expands the four topic slots into their cartesian
// product of single-value combinations, one fragment per combination.
// A wildcard slot contributes a single nil entry.
func topicCombinations(topics [4]models.TopicSlot) [][4]*common.Hash {
	perSlot := make([][]*common.Hash, 4)
	for i, slot := range topics {
		if slot.IsWildcard() {
			perSlot[i] = []*common.Hash{nil}
			continue
		}
		vals := make([]*common.Hash, len(slot.Values))
		for j := range slot.Values {
			v := slot.Values[j]
			vals[j] = &v
		}
		perSlot[i] = vals
	}

	combos := [][4]*common.Hash{{}}
	for i := 0; i < 4; i++ {
		var next [][4]*common.Hash
		for _, c := range combos {
			for _, v := range perSlot[i] {
				nc := c
				nc[i] = v
				next = append(next, nc)
			}
		}
		combos = next
	}
	return combos
}

// fragmentID derives a deterministic id by canonicalizing the fragment's
// distinguishing columns. Equal fragments (by value) always hash to the
// same id, which is what lets insertInterval/getIntervals key rows by
// fragment identity rather than by filter identity.
func fragmentID(f Fragment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%d|", f.Kind, f.ChainID)
	switch {
	case f.Factory != nil:
		fmt.Fprintf(&b, "factory:%s:%s:%s|",
			f.Factory.Address.Hex(), f.Factory.EventSelector.Hex(), f.Factory.ChildAddressLocation.String())
	case f.Address != nil:
		fmt.Fprintf(&b, "addr:%s|", f.Address.Hex())
	default:
		b.WriteString("addr:*|")
	}
	writeHashPtr(&b, "t0", f.Topic0)
	writeHashPtr(&b, "t1", f.Topic1)
	writeHashPtr(&b, "t2", f.Topic2)
	writeHashPtr(&b, "t3", f.Topic3)
	fmt.Fprintf(&b, "interval:%d|offset:%d|", f.Interval, f.Offset)
	if f.FromAddress != nil {
		fmt.Fprintf(&b, "from:%s|", f.FromAddress.Hex())
	}
	if f.FunctionSelector != nil {
		fmt.Fprintf(&b, "selector:%s|", *f.FunctionSelector)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16])
}

func writeHashPtr(b *strings.Builder, label string, h *common.Hash) {
	if h == nil {
		fmt.Fprintf(b, "%s:*|", label)
		return
	}
	fmt.Fprintf(b, "%s:%s|", label, h.Hex())
}

// SortFragments returns fragments in a stable deterministic order, used
// wherever fragment iteration order must be reproducible across runs.
func SortFragments(frags []Fragment) []Fragment {
	out := make([]Fragment, len(frags))
	copy(out, frags)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
