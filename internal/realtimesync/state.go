package realtimesync

// State is a network's position in the per-chain lifecycle (spec.md §4.5):
// initializing -> historical-catchup -> realtime -> killed.
type State string

const (
	StateInitializing      State = "initializing"
	StateHistoricalCatchup State = "historical-catchup"
	StateRealtime          State = "realtime"
	StateKilled            State = "killed"
)
