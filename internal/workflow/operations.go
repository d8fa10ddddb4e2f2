package workflow

import (
	"fmt"

	"github.com/google/uuid"

	"uploadq/internal/logging"
	"uploadq/internal/queue"
	"uploadq/internal/transfer"
)

// Enqueue appends one item per source in order, emits added for each and
// runs a scheduling pass. It returns copies of the new items as they were
// added, or nil once the Manager is closed.
func (m *Manager) Enqueue(sources ...queue.Source) []queue.Item {
	now := m.now().UTC()
	prepared := make([]*queue.Item, 0, len(sources))
	for _, src := range sources {
		if src == nil {
			continue
		}
		item := &queue.Item{
			ID:        uuid.NewString(),
			Source:    src,
			Name:      src.Name(),
			Size:      src.Size(),
			Status:    queue.StatusAdded,
			Total:     src.Size(),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if m.resumer != nil && m.chunkable(item) {
			m.resumer.Resume(m.ctx, item)
		}
		prepared = append(prepared, item)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	added := make([]queue.Item, 0, len(prepared))
	for _, item := range prepared {
		m.queue.Append(item)
		m.emit(EventAdded, item)
		added = append(added, *item)
		m.itemLogger(item).Debug("item added", logging.Int64("size", item.Size))
	}
	m.schedule()
	m.mu.Unlock()
	m.flush()
	return added
}

func (m *Manager) chunkable(item *queue.Item) bool {
	return transfer.Decide(*item, m.unit.Capabilities(), m.planOpts, m.now()).Mode == transfer.Chunked
}

// RetryItem re-queues an item. An Uploading item has its transfer aborted
// and restarts without a cancel notification; a Succeeded, Failed or
// Cancelled item is queued again in place. Added and Retrying items are left
// alone.
func (m *Manager) RetryItem(id string) error {
	m.mu.Lock()
	item, ok := m.queue.Get(id)
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("retry %s: %w", id, ErrUnknownItem)
	}

	switch item.Status {
	case queue.StatusUploading:
		if err := item.SetStatus(queue.StatusRetrying); err != nil {
			m.mu.Unlock()
			return fmt.Errorf("retry %s: %w", id, err)
		}
		item.StallRetries = 0
		m.stall.stop(id)
		if att, ok := m.attempts[id]; ok {
			att.cancel()
		}
		m.itemLogger(item).Info("retry requested during upload")
	case queue.StatusSucceeded, queue.StatusFailed, queue.StatusCancelled:
		if err := item.SetStatus(queue.StatusRetrying); err != nil {
			m.mu.Unlock()
			return fmt.Errorf("retry %s: %w", id, err)
		}
		m.clears.stop(id)
		item.StallRetries = 0
		item.ClearFailure()
		item.ResetProgress()
		m.itemLogger(item).Info("retry requested")
	default:
		m.mu.Unlock()
		return nil
	}

	m.schedule()
	m.mu.Unlock()
	m.flush()
	return nil
}

// CancelItem stops an item. Items without a transport handle are cancelled
// immediately; otherwise the transfer is aborted and the cancellation is
// reported once the abort is observed. Terminal items are left alone.
func (m *Manager) CancelItem(id string) error {
	m.mu.Lock()
	item, ok := m.queue.Get(id)
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("cancel %s: %w", id, ErrUnknownItem)
	}
	if item.Status.IsTerminal() {
		m.mu.Unlock()
		return nil
	}

	if att, active := m.attempts[id]; active {
		att.cancelRequested = true
		att.cancel()
		m.stall.stop(id)
		m.itemLogger(item).Info("cancel requested")
	} else {
		m.cancelIdle(item)
		m.itemLogger(item).Info("upload cancelled")
	}
	m.schedule()
	m.mu.Unlock()
	m.flush()
	return nil
}

// RemoveItem detaches a Succeeded, Failed or Cancelled item from the queue.
func (m *Manager) RemoveItem(id string) error {
	m.mu.Lock()
	item, ok := m.queue.Get(id)
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("remove %s: %w", id, ErrUnknownItem)
	}
	if !item.Status.IsTerminal() || item.Active {
		m.mu.Unlock()
		return fmt.Errorf("remove %s (%s): %w", id, item.Status, ErrNotRemovable)
	}
	m.detach(item)
	m.itemLogger(item).Debug("item removed")
	m.schedule()
	m.mu.Unlock()
	m.flush()
	return nil
}
