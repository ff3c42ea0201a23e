package models

import (
	"fmt"
	"strconv"
	"strings"
)

// EventType orders event kinds deterministically when two events share
// every earlier checkpoint coordinate: block < transaction < log < call.
type EventType uint8

const (
	EventTypeBlock EventType = iota
	EventTypeTransaction
	EventTypeLog
	EventTypeCallTrace
)

// Checkpoint is the system's total order: a tuple encoded as a fixed-width
// zero-padded decimal string so that byte comparison equals tuple
// comparison (spec.md §3, §8 invariant 4).
type Checkpoint struct {
	BlockTimestamp   uint64
	ChainID          uint64
	BlockNumber      uint64
	TransactionIndex uint64
	EventType        EventType
	EventIndex       uint64
}

const (
	widthTimestamp = 10
	widthChainID   = 16
	widthBlock     = 16
	widthTxIndex   = 6
	widthEventType = 1
	widthEventIdx  = 6

	// EncodedLen is the total length of an encoded checkpoint string.
	EncodedLen = widthTimestamp + widthChainID + widthBlock + widthTxIndex + widthEventType + widthEventIdx
)

// Zero is the minimum possible checkpoint, usable as an exclusive lower
// bound ("from") when no prior cursor exists.
var Zero = Checkpoint{}

// MaxCheckpoint is the maximum possible checkpoint, usable as an inclusive
// upper bound ("to") meaning "everything available".
var MaxCheckpoint = Checkpoint{
	BlockTimestamp:   pow10(widthTimestamp) - 1,
	ChainID:          pow10(widthChainID) - 1,
	BlockNumber:      pow10(widthBlock) - 1,
	TransactionIndex: pow10(widthTxIndex) - 1,
	EventType:        EventTypeCallTrace,
	EventIndex:       pow10(widthEventIdx) - 1,
}

func pow10(n int) uint64 {
	v := uint64(1)
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}

// Encode renders c as a fixed-width, lexicographically comparable string.
func Encode(c Checkpoint) string {
	var b strings.Builder
	b.Grow(EncodedLen)
	pad(&b, c.BlockTimestamp, widthTimestamp)
	pad(&b, c.ChainID, widthChainID)
	pad(&b, c.BlockNumber, widthBlock)
	pad(&b, c.TransactionIndex, widthTxIndex)
	pad(&b, uint64(c.EventType), widthEventType)
	pad(&b, c.EventIndex, widthEventIdx)
	return b.String()
}

func pad(b *strings.Builder, v uint64, width int) {
	s := strconv.FormatUint(v, 10)
	for i := len(s); i < width; i++ {
		b.WriteByte('0')
	}
	b.WriteString(s)
}

// Decode parses a checkpoint string previously produced by Encode. Round
// trip (Decode(Encode(c)) == c) holds for every valid c (spec.md §8
// invariant 4).
func Decode(s string) (Checkpoint, error) {
	if len(s) != EncodedLen {
		return Checkpoint{}, fmt.Errorf("checkpoint: invalid encoded length %d, want %d", len(s), EncodedLen)
	}
	var (
		c      Checkpoint
		offset int
		err    error
	)
	c.BlockTimestamp, offset, err = readField(s, offset, widthTimestamp)
	if err != nil {
		return Checkpoint{}, err
	}
	c.ChainID, offset, err = readField(s, offset, widthChainID)
	if err != nil {
		return Checkpoint{}, err
	}
	c.BlockNumber, offset, err = readField(s, offset, widthBlock)
	if err != nil {
		return Checkpoint{}, err
	}
	c.TransactionIndex, offset, err = readField(s, offset, widthTxIndex)
	if err != nil {
		return Checkpoint{}, err
	}
	var eventType uint64
	eventType, offset, err = readField(s, offset, widthEventType)
	if err != nil {
		return Checkpoint{}, err
	}
	c.EventType = EventType(eventType)
	c.EventIndex, offset, err = readField(s, offset, widthEventIdx)
	if err != nil {
		return Checkpoint{}, err
	}
	return c, nil
}

func readField(s string, offset, width int) (uint64, int, error) {
	v, err := strconv.ParseUint(s[offset:offset+width], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("checkpoint: invalid field %q: %w", s[offset:offset+width], err)
	}
	return v, offset + width, nil
}

// Less reports whether a sorts strictly before b under tuple order; this
// is equal to a plain string comparison of their encodings, which is the
// whole point of the fixed-width encoding (spec.md §8 invariant 4).
func Less(a, b Checkpoint) bool {
	return Encode(a) < Encode(b)
}

// Compare returns -1, 0 or 1 as a is less than, equal to, or greater than b.
func Compare(a, b Checkpoint) int {
	ea, eb := Encode(a), Encode(b)
	switch {
	case ea < eb:
		return -1
	case ea > eb:
		return 1
	default:
		return 0
	}
}
