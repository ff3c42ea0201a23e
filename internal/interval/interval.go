// Package interval implements the canonical normal-form interval sets used
// by the raw sync store's interval index: sorted, disjoint, non-adjacent
// [start,end] block ranges per filter fragment.
package interval

import "sort"

// Range is an inclusive block range [Start, End].
type Range struct {
	Start uint64
	End   uint64
}

// Set is a canonical normal-form collection of ranges: sorted ascending,
// pairwise disjoint, and non-adjacent (ranges that touch, where one ends
// at n and the next starts at n+1, are merged into one).
type Set []Range

// Normalize sorts ranges by Start and merges any that overlap or touch
// (r2.Start <= r1.End+1). The result is the canonical normal form.
func Normalize(ranges []Range) Set {
	if len(ranges) == 0 {
		return Set{}
	}
	sorted := make([]Range, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	out := make(Set, 0, len(sorted))
	cur := sorted[0]
	for _, r := range sorted[1:] {
		if r.Start > cur.End+1 {
			out = append(out, cur)
			cur = r
			continue
		}
		if r.End > cur.End {
			cur.End = r.End
		}
	}
	out = append(out, cur)
	return out
}

// Union returns the normal-form union of two sets.
func Union(a, b Set) Set {
	merged := make([]Range, 0, len(a)+len(b))
	merged = append(merged, a...)
	merged = append(merged, b...)
	return Normalize(merged)
}

// Difference returns a \ b: the parts of a not covered by any range in b.
func Difference(a, b Set) Set {
	if len(b) == 0 {
		return Normalize(a)
	}
	bn := Normalize(b)
	out := make(Set, 0, len(a))
	for _, r := range a {
		remaining := []Range{r}
		for _, sub := range bn {
			var next []Range
			for _, rem := range remaining {
				next = append(next, subtract(rem, sub)...)
			}
			remaining = next
			if len(remaining) == 0 {
				break
			}
		}
		out = append(out, remaining...)
	}
	return Normalize(out)
}

// subtract removes sub from r, returning 0, 1 or 2 surviving pieces.
func subtract(r, sub Range) []Range {
	if sub.End < r.Start || sub.Start > r.End {
		return []Range{r}
	}
	var out []Range
	if sub.Start > r.Start {
		out = append(out, Range{Start: r.Start, End: sub.Start - 1})
	}
	if sub.End < r.End {
		out = append(out, Range{Start: sub.End + 1, End: r.End})
	}
	return out
}

// IntersectionMany returns the intersection across all given sets. An empty
// input returns an empty set (no fragments means nothing is covered).
func IntersectionMany(sets ...Set) Set {
	if len(sets) == 0 {
		return Set{}
	}
	result := Normalize(sets[0])
	for _, s := range sets[1:] {
		result = intersectTwo(result, Normalize(s))
		if len(result) == 0 {
			return Set{}
		}
	}
	return result
}

func intersectTwo(a, b Set) Set {
	var out []Range
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		start := max64(a[i].Start, b[j].Start)
		end := min64(a[i].End, b[j].End)
		if start <= end {
			out = append(out, Range{Start: start, End: end})
		}
		if a[i].End < b[j].End {
			i++
		} else {
			j++
		}
	}
	return Normalize(out)
}

// Sum returns the total number of blocks covered by the set.
func Sum(s Set) uint64 {
	var total uint64
	for _, r := range s {
		total += r.End - r.Start + 1
	}
	return total
}

// Chunks splits the set into sub-ranges no larger than maxSize, preserving
// order. A range larger than maxSize is split into consecutive chunks.
func Chunks(s Set, maxSize uint64) []Range {
	if maxSize == 0 {
		return nil
	}
	var out []Range
	for _, r := range s {
		start := r.Start
		for start <= r.End {
			end := start + maxSize - 1
			if end > r.End {
				end = r.End
			}
			out = append(out, Range{Start: start, End: end})
			if end == r.End {
				break
			}
			start = end + 1
		}
	}
	return out
}

// Contains reports whether the full range [start,end] is covered by s.
func Contains(s Set, r Range) bool {
	diff := Difference(Set{r}, s)
	return len(diff) == 0
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
