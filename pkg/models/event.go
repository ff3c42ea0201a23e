package models

// EventKind discriminates the decoded Event sum type delivered by the
// checkpoint cursor. Replaces the lazily-decoding proxy objects the
// source implementation used (spec.md §9 design note) with a single
// decoded-row struct per event kind.
type EventKind string

const (
	EventKindBlock     EventKind = "block"
	EventKindLog       EventKind = "log"
	EventKindCallTrace EventKind = "callTrace"
)

// Event is one entry in the totally-ordered stream produced by
// getEvents/GetEvents. Exactly one of Block, Log or Call is populated,
// matching Kind.
type Event struct {
	FilterIndex int
	Checkpoint  string
	Kind        EventKind

	Block *BlockEvent
	Log   *LogEvent
	Call  *CallTraceEvent
}

// BlockEvent carries a matched block-filter event.
type BlockEvent struct {
	Block Block
}

// LogEvent carries a matched log-filter event together with its owning
// transaction and, when requested, its receipt.
type LogEvent struct {
	Log         Log
	Block       Block
	Transaction Transaction
	Receipt     *TransactionReceipt
}

// CallTraceEvent carries a matched call-trace-filter event together with
// its owning transaction.
type CallTraceEvent struct {
	Call        CallTrace
	Block       Block
	Transaction Transaction
}
