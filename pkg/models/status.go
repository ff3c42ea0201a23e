package models

// BlockMarker is the {number, timestamp} pair the metadata store reports
// per chain.
type BlockMarker struct {
	Number    uint64 `json:"number"`
	Timestamp uint64 `json:"timestamp"`
}

// ChainStatus is the publicly observable sync status of one chain.
type ChainStatus struct {
	Block BlockMarker `json:"block"`
	Ready bool        `json:"ready"`
}

// Status is the indexer's full publicly observable status: one entry per
// configured chain ID (spec.md §4.8).
type Status map[uint64]ChainStatus
