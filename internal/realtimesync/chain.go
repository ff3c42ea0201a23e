package realtimesync

import "github.com/ethereum/go-ethereum/common"

// node is one header in the in-memory unfinalized chain: the realtime
// syncer's only authority on "what do we currently believe the recent
// chain looks like" (spec.md §4.5).
type node struct {
	Number     uint64
	Hash       common.Hash
	ParentHash common.Hash
	Timestamp  uint64
}

// unfinalizedChain holds every block from the last finalized ancestor up
// to the current head, ascending by number. It is not safe for concurrent
// use; callers serialize access (the poll loop is single-threaded per
// network).
type unfinalizedChain struct {
	nodes []node
}

func (c *unfinalizedChain) tip() *node {
	if len(c.nodes) == 0 {
		return nil
	}
	return &c.nodes[len(c.nodes)-1]
}

func (c *unfinalizedChain) append(n node) {
	c.nodes = append(c.nodes, n)
}

func (c *unfinalizedChain) find(number uint64) (node, bool) {
	for _, n := range c.nodes {
		if n.Number == number {
			return n, true
		}
	}
	return node{}, false
}

// truncateAfter drops every node with Number > number, used once a
// common ancestor has been found during reorg handling.
func (c *unfinalizedChain) truncateAfter(number uint64) {
	for i, n := range c.nodes {
		if n.Number > number {
			c.nodes = c.nodes[:i]
			return
		}
	}
}

// trimBefore drops every node with Number < number; number itself is kept
// as the new base anchor once it has been finalized.
func (c *unfinalizedChain) trimBefore(number uint64) {
	for i, n := range c.nodes {
		if n.Number >= number {
			c.nodes = c.nodes[i:]
			return
		}
	}
	c.nodes = nil
}

// nonFinalized returns every retained node after the base anchor, i.e.
// everything that could still be reorged away.
func (c *unfinalizedChain) nonFinalized() []node {
	if len(c.nodes) <= 1 {
		return nil
	}
	return c.nodes[1:]
}
