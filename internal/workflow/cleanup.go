package workflow

import (
	"time"

	"uploadq/internal/logging"
	"uploadq/internal/queue"
)

// autoClear removes succeeded items after a delay. Methods run under the
// manager lock.
type autoClear struct {
	delay   time.Duration
	timers  map[string]*time.Timer
	onClear func(id string, attempts int)
}

func newAutoClear(delay time.Duration, onClear func(id string, attempts int)) *autoClear {
	return &autoClear{delay: delay, timers: make(map[string]*time.Timer), onClear: onClear}
}

// schedule arms removal of a succeeded item. attempts pins the attempt that
// succeeded; a retry in between voids the removal.
func (c *autoClear) schedule(id string, attempts int) {
	c.stop(id)
	c.timers[id] = time.AfterFunc(c.delay, func() { c.onClear(id, attempts) })
}

func (c *autoClear) stop(id string) {
	if timer, ok := c.timers[id]; ok {
		timer.Stop()
		delete(c.timers, id)
	}
}

func (c *autoClear) stopAll() {
	for id := range c.timers {
		c.stop(id)
	}
}

func (m *Manager) autoClearExpired(id string, attempts int) {
	m.mu.Lock()
	delete(m.clears.timers, id)
	item, ok := m.queue.Get(id)
	if !ok || m.closed || item.Status != queue.StatusSucceeded || item.Attempts != attempts {
		m.mu.Unlock()
		return
	}
	m.detach(item)
	m.itemLogger(item).Debug("cleared succeeded item", logging.Duration("delay", m.clears.delay))
	m.schedule()
	m.mu.Unlock()
	m.flush()
}
