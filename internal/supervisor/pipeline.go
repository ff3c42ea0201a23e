package supervisor

import "github.com/chainindex/syncengine/pkg/models"

// PipelineStatus is the downstream pipeline's outcome for one call
// (spec.md §6): the core branches on it but never interprets Err beyond
// logging and, for "error", triggering a reloadable-error recovery path.
type PipelineStatus string

const (
	PipelineStatusSuccess PipelineStatus = "success"
	PipelineStatusError   PipelineStatus = "error"
	PipelineStatusKilled  PipelineStatus = "killed"
)

// PipelineResult is returned by every IndexingPipeline call.
type PipelineResult struct {
	Status PipelineStatus
	Err    error
}

// IndexingPipeline is the external collaborator contract of spec.md §6:
// the core calls these, it never implements handler evaluation itself.
// This module ships one reference implementation (a NATS publisher,
// internal/nats) and this interface so a real pipeline can be substituted.
type IndexingPipeline interface {
	ProcessSetupEvents(sources []models.Source, networks []string) PipelineResult
	ProcessEvents(events []models.Event) PipelineResult
	UpdateTotalSeconds(checkpoint string)
	UpdateIndexingStore(mode IndexingStoreMode)
	Kill()
}

// IndexingStoreMode names the two interchangeable indexing-store write
// modes a pipeline switches between (spec.md §6).
type IndexingStoreMode string

const (
	// IndexingStoreHistorical buffers writes for one large flush at the
	// end of catch-up.
	IndexingStoreHistorical IndexingStoreMode = "historical"
	// IndexingStoreRealtime wraps each block's writes in a DB
	// transaction keyed by checkpoint so a revert can roll them back.
	IndexingStoreRealtime IndexingStoreMode = "realtime"
)
