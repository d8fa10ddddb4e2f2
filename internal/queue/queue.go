package queue

// Snapshot counts items per status.
type Snapshot struct {
	Added     int
	Uploading int
	Retrying  int
	Succeeded int
	Failed    int
	Cancelled int
}

// Count returns the number of items in status.
func (s Snapshot) Count(status Status) int {
	switch status {
	case StatusAdded:
		return s.Added
	case StatusUploading:
		return s.Uploading
	case StatusRetrying:
		return s.Retrying
	case StatusSucceeded:
		return s.Succeeded
	case StatusFailed:
		return s.Failed
	case StatusCancelled:
		return s.Cancelled
	}
	return 0
}

// Total is the number of items in the queue.
func (s Snapshot) Total() int {
	return s.Added + s.Uploading + s.Retrying + s.Succeeded + s.Failed + s.Cancelled
}

// Pending is the number of items that still have work ahead of them.
func (s Snapshot) Pending() int {
	return s.Added + s.Uploading + s.Retrying
}

func (s *Snapshot) add(status Status) {
	switch status {
	case StatusAdded:
		s.Added++
	case StatusUploading:
		s.Uploading++
	case StatusRetrying:
		s.Retrying++
	case StatusSucceeded:
		s.Succeeded++
	case StatusFailed:
		s.Failed++
	case StatusCancelled:
		s.Cancelled++
	}
}

// Queue is the insertion-ordered item collection. It is not safe for
// concurrent use; the owner serializes access.
type Queue struct {
	items []*Item
	index map[string]*Item
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{index: make(map[string]*Item)}
}

// Append adds item at the tail. Items keep their position across retries.
func (q *Queue) Append(item *Item) {
	q.items = append(q.items, item)
	q.index[item.ID] = item
}

// Get returns the live item for id.
func (q *Queue) Get(id string) (*Item, bool) {
	item, ok := q.index[id]
	return item, ok
}

// Remove detaches the item for id, reporting whether it was present.
func (q *Queue) Remove(id string) bool {
	if _, ok := q.index[id]; !ok {
		return false
	}
	delete(q.index, id)
	for i, item := range q.items {
		if item.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	return true
}

// Len returns the number of items.
func (q *Queue) Len() int {
	return len(q.items)
}

// Items returns value copies in queue order.
func (q *Queue) Items() []Item {
	out := make([]Item, 0, len(q.items))
	for _, item := range q.items {
		out = append(out, *item)
	}
	return out
}

// Live returns the live items in queue order.
func (q *Queue) Live() []*Item {
	out := make([]*Item, len(q.items))
	copy(out, q.items)
	return out
}

// Snapshot counts items per status.
func (q *Queue) Snapshot() Snapshot {
	var snap Snapshot
	for _, item := range q.items {
		snap.add(item.Status)
	}
	return snap
}

// Admissible selects the items a scheduling pass should start: eligible
// items (Added or Retrying, holding no transport operation) in queue order,
// limited to ceiling minus the items already uploading. A ceiling of zero or
// less admits nothing.
func (q *Queue) Admissible(ceiling int) []*Item {
	if ceiling <= 0 {
		return nil
	}
	budget := ceiling - q.Snapshot().Uploading
	if budget <= 0 {
		return nil
	}
	var admitted []*Item
	for _, item := range q.items {
		if len(admitted) == budget {
			break
		}
		if item.Status.IsEligible() && !item.Active {
			admitted = append(admitted, item)
		}
	}
	return admitted
}
