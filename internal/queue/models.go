package queue

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle of a queue item.
type Status string

const (
	StatusAdded     Status = "added"
	StatusUploading Status = "uploading"
	StatusRetrying  Status = "retrying"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// UnknownSize marks a size, byte count, or total that cannot be computed.
const UnknownSize int64 = -1

var allStatuses = []Status{
	StatusAdded,
	StatusUploading,
	StatusRetrying,
	StatusSucceeded,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// transitions lists every legal status change. Terminal statuses only leave
// through an explicit retry.
var transitions = map[Status][]Status{
	StatusAdded:     {StatusUploading, StatusCancelled},
	StatusUploading: {StatusSucceeded, StatusFailed, StatusCancelled, StatusRetrying},
	StatusRetrying:  {StatusUploading, StatusCancelled, StatusFailed},
	StatusSucceeded: {StatusRetrying},
	StatusFailed:    {StatusRetrying},
	StatusCancelled: {StatusRetrying},
}

// ErrInvalidTransition reports a status change the state machine does not allow.
var ErrInvalidTransition = errors.New("invalid status transition")

// AllStatuses returns all known queue statuses in lifecycle order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus converts a string into a Status if recognized.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether no further automatic action happens in this status.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// IsEligible reports whether the scheduler may admit an item in this status.
func (s Status) IsEligible() bool {
	return s == StatusAdded || s == StatusRetrying
}

// IsPending reports whether the item still has work ahead of it.
func (s Status) IsPending() bool {
	return s == StatusAdded || s == StatusUploading || s == StatusRetrying
}

// CanTransition reports whether moving from s to next is legal.
func (s Status) CanTransition(next Status) bool {
	for _, candidate := range transitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Item is one file queued for transfer.
type Item struct {
	ID     string
	Source Source
	Name   string
	// Size is fixed once known; UnknownSize for unsized sources.
	Size   int64
	Status Status

	// FileID correlates the parts of a chunked transfer. Assigned once.
	FileID string
	// NextPartIndex never decreases. Zero for single-shot transfers.
	NextPartIndex int

	Loaded int64
	Total  int64

	// Active is true while a transport operation is held for the item.
	Active bool
	// Attempts counts transfer attempts started for the item.
	Attempts int
	// StallRetries counts watchdog restarts since the last manual action.
	StallRetries int

	// FailureKind classifies the last failure or cancellation.
	FailureKind  string
	ErrorMessage string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SetStatus applies a state machine transition.
func (i *Item) SetStatus(next Status) error {
	if i.Status == next {
		return nil
	}
	if !i.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, i.Status, next)
	}
	i.Status = next
	i.UpdatedAt = time.Now().UTC()
	return nil
}

// SetProgress records a progress observation. Known byte counts never move
// backwards within an attempt.
func (i *Item) SetProgress(loaded, total int64) {
	if loaded != UnknownSize && i.Loaded != UnknownSize && loaded < i.Loaded {
		loaded = i.Loaded
	}
	i.Loaded = loaded
	i.Total = total
	i.UpdatedAt = time.Now().UTC()
}

// ResetProgress clears byte counters before a new attempt.
func (i *Item) ResetProgress() {
	i.Loaded = 0
	i.Total = i.Size
}

// SetFailed records a failure classification.
func (i *Item) SetFailed(kind, message string) {
	i.FailureKind = kind
	i.ErrorMessage = strings.TrimSpace(message)
}

// ClearFailure drops a previous failure classification.
func (i *Item) ClearFailure() {
	i.FailureKind = ""
	i.ErrorMessage = ""
}

// Percent returns progress in [0,100], or -1 when either count is unknown.
func (i Item) Percent() float64 {
	if i.Loaded == UnknownSize || i.Total == UnknownSize || i.Total <= 0 {
		if i.Status == StatusSucceeded {
			return 100
		}
		return -1
	}
	pct := float64(i.Loaded) * 100 / float64(i.Total)
	if pct > 100 {
		pct = 100
	}
	return pct
}

// SizeKnown reports whether the item has a computable size.
func (i Item) SizeKnown() bool {
	return i.Size != UnknownSize
}
