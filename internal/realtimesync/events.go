package realtimesync

import "github.com/chainindex/syncengine/pkg/models"

// EventKind discriminates the three realtime notifications (spec.md §4.5).
type EventKind string

const (
	EventKindBlock    EventKind = "block"
	EventKindReorg    EventKind = "reorg"
	EventKindFinalize EventKind = "finalize"
)

// Event is delivered to the supervisor's realtime queue. Block events
// carry Events plus the checkpoint of the last of them; Reorg and
// Finalize carry only Checkpoint.
type Event struct {
	Kind       EventKind
	Events     []models.Event
	Checkpoint string
}
