package logging

import "sync"

// ProgressSampler suppresses repetitive per-item progress logs. It emits when
// an item's percentage crosses a bucket boundary (default 10%) or when the
// item moves to a new part.
type ProgressSampler struct {
	mu         sync.Mutex
	bucketSize float64
	items      map[string]sampleState
}

type sampleState struct {
	part   int
	bucket int
}

// NewProgressSampler constructs a sampler with the given percentage bucket.
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 10
	}
	return &ProgressSampler{bucketSize: bucketSize, items: make(map[string]sampleState)}
}

// ShouldLog reports whether a progress observation for itemID is worth logging.
// A negative percent means the total is unknown; only part changes emit then.
func (s *ProgressSampler) ShouldLog(itemID string, part int, percent float64) bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	state, seen := s.items[itemID]
	if !seen {
		state = sampleState{part: -1, bucket: -1}
	}
	emit := false
	if part != state.part {
		state.part = part
		emit = true
	}
	if percent >= 0 {
		bucket := int(percent / s.bucketSize)
		if percent >= 100 {
			bucket = int(100 / s.bucketSize)
		}
		if bucket > state.bucket {
			state.bucket = bucket
			emit = true
		}
	}
	s.items[itemID] = state
	return emit
}

// Reset forgets itemID, e.g. when it restarts or leaves the queue.
func (s *ProgressSampler) Reset(itemID string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	delete(s.items, itemID)
	s.mu.Unlock()
}
