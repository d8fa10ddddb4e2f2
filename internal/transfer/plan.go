package transfer

import (
	"fmt"
	"time"

	"uploadq/internal/queue"
	"uploadq/internal/transport"
)

// Mode is how an item's bytes are sent.
type Mode int

const (
	// SingleShot sends the whole source in one multipart request.
	SingleShot Mode = iota
	// Chunked sends fixed-size parts sequentially.
	Chunked
)

func (m Mode) String() string {
	if m == Chunked {
		return "chunked"
	}
	return "single"
}

// Options carry the settings that affect the mode decision.
type Options struct {
	PartSize int64
	// DisableChunking forces single-shot transfers.
	DisableChunking bool
}

// Plan is the decided shape of one transfer attempt.
type Plan struct {
	Mode       Mode
	FileID     string
	PartSize   int64
	PartCount  int
	StartIndex int
}

// NewFileID derives the server-visible identifier for a chunked transfer.
func NewFileID(now time.Time, name string) string {
	return fmt.Sprintf("%d-%s", now.UnixMilli(), name)
}

// Decide picks single-shot or chunked transfer for item. Chunking needs a
// transport that can slice and report progress, a range-readable source and
// a known non-zero size. An existing FileID is kept; otherwise one is derived
// from now.
func Decide(item queue.Item, caps transport.Capabilities, opts Options, now time.Time) Plan {
	partSize := opts.PartSize
	if partSize <= 0 {
		partSize = queue.DefaultPartSize
	}
	_, sliceable := item.Source.(queue.RangeSource)
	if opts.DisableChunking || !caps.Chunked() || !sliceable || item.Size <= 0 {
		return Plan{Mode: SingleShot, PartSize: partSize}
	}

	count := queue.PartCount(item.Size, partSize)
	start := item.NextPartIndex
	if start < 0 {
		start = 0
	}
	if start > count-1 {
		start = count - 1
	}
	fileID := item.FileID
	if fileID == "" {
		fileID = NewFileID(now, item.Name)
	}
	return Plan{
		Mode:       Chunked,
		FileID:     fileID,
		PartSize:   partSize,
		PartCount:  count,
		StartIndex: start,
	}
}

// StartOffset is the number of bytes already accepted before this attempt.
func (p Plan) StartOffset() int64 {
	if p.Mode != Chunked {
		return 0
	}
	return int64(p.StartIndex) * p.PartSize
}
