package workflow

import (
	"fmt"
	"time"

	"uploadq/internal/logging"
	"uploadq/internal/queue"
	"uploadq/internal/transfer"
)

// stallDetector keeps one watchdog timer per active attempt. Every method is
// called with the manager lock held.
type stallDetector struct {
	timeout  time.Duration
	timers   map[string]*stallTimer
	onExpire func(id string, gen uint64)
}

type stallTimer struct {
	gen       uint64
	touchedAt time.Time
	timer     *time.Timer
}

func newStallDetector(timeout time.Duration, onExpire func(id string, gen uint64)) *stallDetector {
	return &stallDetector{
		timeout:  timeout,
		timers:   make(map[string]*stallTimer),
		onExpire: onExpire,
	}
}

// arm starts the watchdog for an attempt, replacing any previous one.
func (d *stallDetector) arm(id string, gen uint64) {
	d.stop(id)
	if d.timeout <= 0 {
		return
	}
	d.timers[id] = &stallTimer{
		gen:       gen,
		touchedAt: time.Now(),
		timer:     time.AfterFunc(d.timeout, func() { d.onExpire(id, gen) }),
	}
}

// touch pushes the deadline out after progress.
func (d *stallDetector) touch(id string, gen uint64) {
	entry, ok := d.timers[id]
	if !ok || entry.gen != gen {
		return
	}
	entry.touchedAt = time.Now()
	entry.timer.Reset(d.timeout)
}

// expired reports whether a firing for (id, gen) is still current. A timer
// that fired while progress was rearming it is stale.
func (d *stallDetector) expired(id string, gen uint64) bool {
	entry, ok := d.timers[id]
	if !ok || entry.gen != gen {
		return false
	}
	return time.Since(entry.touchedAt) >= d.timeout
}

func (d *stallDetector) stop(id string) {
	if entry, ok := d.timers[id]; ok {
		entry.timer.Stop()
		delete(d.timers, id)
	}
}

func (d *stallDetector) stopAll() {
	for id := range d.timers {
		d.stop(id)
	}
}

// stallExpired restarts a stalled attempt, or fails the item once the
// configured restart cap is reached.
func (m *Manager) stallExpired(id string, gen uint64) {
	m.mu.Lock()
	if !m.stall.expired(id, gen) {
		m.mu.Unlock()
		return
	}
	m.stall.stop(id)
	att, ok := m.attempts[id]
	item, found := m.queue.Get(id)
	if !ok || att.gen != gen || !found || item.Status != queue.StatusUploading {
		m.mu.Unlock()
		return
	}

	logger := m.itemLogger(item)
	limit := m.cfg.Upload.MaxStallRetries
	if limit > 0 && item.StallRetries >= limit {
		att.stalled = true
		att.cancel()
		logging.WarnWithContext(logger, "upload stalled too many times", "upload_stall_limit",
			logging.Int("stall_retries", item.StallRetries),
			logging.String(logging.FieldOutcome, string(transfer.StallTimeout)),
			logging.String(logging.FieldImpact, "item will be marked failed"),
			logging.String(logging.FieldErrorHint, "check receiver health or raise upload.max_stall_retries"),
		)
	} else {
		item.StallRetries++
		if err := item.SetStatus(queue.StatusRetrying); err != nil {
			logger.Error("stall restart rejected", logging.Error(err))
		}
		att.cancel()
		logging.WarnWithContext(logger, "upload stalled, restarting", "upload_stalled",
			logging.Int("stall_retries", item.StallRetries),
			logging.Duration("timeout", m.stall.timeout),
			logging.String(logging.FieldImpact, "upload restarts from the last accepted part"),
		)
	}
	m.schedule()
	m.mu.Unlock()
	m.flush()
}

func stallMessage(timeout time.Duration, restarts int) string {
	return fmt.Sprintf("no progress for %s after %d restarts", timeout, restarts)
}
