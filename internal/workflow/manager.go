package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"uploadq/internal/config"
	"uploadq/internal/logging"
	"uploadq/internal/queue"
	"uploadq/internal/transfer"
	"uploadq/internal/transport"
)

var (
	// ErrUnknownItem is returned for operations on an id the queue does not hold.
	ErrUnknownItem = errors.New("unknown queue item")
	// ErrNotRemovable is returned when removing an item that still has work
	// ahead of it.
	ErrNotRemovable = errors.New("only succeeded, failed or cancelled items can be removed")
)

// Manager is the upload coordinator. It owns the queue, admits items up to
// the concurrency ceiling, runs one transfer attempt per admitted item and
// publishes events to subscribers.
type Manager struct {
	cfg      *config.Config
	unit     *transfer.Unit
	logger   *slog.Logger
	ceiling  int
	planOpts transfer.Options
	resumer  *CheckpointRecorder
	sampler  *logging.ProgressSampler
	now      func() time.Time

	mu       sync.Mutex
	queue    *queue.Queue
	attempts map[string]*attempt
	gen      uint64
	stall    *stallDetector
	clears   *autoClear
	events   []Event
	draining bool
	subs     []*subscription
	closed   bool
	changed  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// attempt is the transport handle held for an Uploading (or restarting) item.
type attempt struct {
	gen             uint64
	plan            transfer.Plan
	cancel          context.CancelFunc
	cancelRequested bool
	stalled         bool
}

// Option configures optional Manager behavior.
type Option func(*managerOptions)

type managerOptions struct {
	logger          *slog.Logger
	store           *queue.Store
	disableChunking bool
	now             func() time.Time
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *managerOptions) {
		o.logger = logger
	}
}

// WithCheckpoints records chunked progress in store and resumes matching
// files from it when they are enqueued.
func WithCheckpoints(store *queue.Store) Option {
	return func(o *managerOptions) {
		o.store = store
	}
}

// WithChunkingDisabled forces single-shot transfers regardless of transport
// capabilities.
func WithChunkingDisabled(disabled bool) Option {
	return func(o *managerOptions) {
		o.disableChunking = disabled
	}
}

// WithClock overrides the clock used to derive file ids.
func WithClock(now func() time.Time) Option {
	return func(o *managerOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// New constructs a coordinator sending through tr.
func New(cfg *config.Config, tr transport.Transport, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("workflow: config is required")
	}
	if tr == nil {
		return nil, errors.New("workflow: transport is required")
	}
	if cfg.Upload.Concurrency <= 0 {
		return nil, fmt.Errorf("workflow: concurrency must be positive, got %d", cfg.Upload.Concurrency)
	}
	if cfg.Upload.PartSize <= 0 {
		return nil, fmt.Errorf("workflow: part size must be positive, got %d", cfg.Upload.PartSize)
	}

	options := &managerOptions{now: time.Now}
	for _, opt := range opts {
		opt(options)
	}
	logger := logging.NewComponentLogger(options.logger, "coordinator")

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:     cfg,
		unit:    transfer.NewUnit(tr, options.logger),
		logger:  logger,
		ceiling: cfg.Upload.Concurrency,
		planOpts: transfer.Options{
			PartSize:        cfg.Upload.PartSize,
			DisableChunking: options.disableChunking || !cfg.ChunkingEnabled(),
		},
		sampler:  logging.NewProgressSampler(10),
		now:      options.now,
		queue:    queue.New(),
		attempts: make(map[string]*attempt),
		changed:  make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	m.stall = newStallDetector(cfg.StallTimeout(), m.stallExpired)
	m.clears = newAutoClear(cfg.AutoClearDelay(), m.autoClearExpired)
	if options.store != nil {
		m.resumer = NewCheckpointRecorder(options.store, cfg.Upload.URL, cfg.Upload.PartSize, options.logger)
		m.Subscribe(m.resumer)
	}
	return m, nil
}

// Items returns copies of all items in queue order.
func (m *Manager) Items() []queue.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Items()
}

// Item returns a copy of the item for id.
func (m *Manager) Item(id string) (queue.Item, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.queue.Get(id)
	if !ok {
		return queue.Item{}, false
	}
	return *item, true
}

// Snapshot counts items per status.
func (m *Manager) Snapshot() queue.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Snapshot()
}

// Wait blocks until no item is Added, Uploading or Retrying and every queued
// event has been delivered.
func (m *Manager) Wait(ctx context.Context) error {
	for {
		m.mu.Lock()
		idle := m.queue.Snapshot().Pending() == 0 && len(m.events) == 0 && !m.draining
		changed := m.changed
		m.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// Close cancels every pending item, stops all timers and waits for running
// attempts to return. The Manager accepts no new items afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for _, item := range m.queue.Live() {
		if att, ok := m.attempts[item.ID]; ok {
			att.cancelRequested = true
			att.cancel()
			continue
		}
		if item.Status.IsPending() {
			m.cancelIdle(item)
		}
	}
	m.stall.stopAll()
	m.clears.stopAll()
	m.cancel()
	m.notifyChanged()
	m.mu.Unlock()

	m.flush()
	m.wg.Wait()
	m.flush()
	m.logger.Debug("coordinator closed")
}

// notifyChanged wakes Wait callers. Callers hold m.mu.
func (m *Manager) notifyChanged() {
	close(m.changed)
	m.changed = make(chan struct{})
}

// detach removes item from the queue and announces it. Callers hold m.mu.
func (m *Manager) detach(item *queue.Item) {
	m.stall.stop(item.ID)
	m.clears.stop(item.ID)
	m.sampler.Reset(item.ID)
	m.queue.Remove(item.ID)
	m.emit(EventRemoved, item)
}

func (m *Manager) itemLogger(item *queue.Item) *slog.Logger {
	logger := m.logger.With(
		logging.String(logging.FieldItemID, item.ID),
		logging.String(logging.FieldFileName, item.Name),
	)
	if item.FileID != "" {
		logger = logger.With(logging.String(logging.FieldFileID, item.FileID))
	}
	return logger
}
