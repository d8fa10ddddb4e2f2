package workflow

import (
	"context"

	"uploadq/internal/logging"
	"uploadq/internal/queue"
	"uploadq/internal/transfer"
)

// schedule runs one admission pass. Callers hold m.mu, so an admitted item
// moves to Uploading and gets its handle inside the same critical section.
func (m *Manager) schedule() queue.Snapshot {
	if !m.closed {
		for _, item := range m.queue.Admissible(m.ceiling) {
			m.start(item)
		}
	}
	snap := m.queue.Snapshot()
	if snap.Uploading > m.ceiling {
		logging.ErrorWithContext(m.logger, "concurrency ceiling exceeded", "ceiling_exceeded",
			logging.Int("uploading", snap.Uploading),
			logging.Int("ceiling", m.ceiling),
		)
	}
	m.notifyChanged()
	return snap
}

func (m *Manager) start(item *queue.Item) {
	plan := transfer.Decide(*item, m.unit.Capabilities(), m.planOpts, m.now())
	if err := item.SetStatus(queue.StatusUploading); err != nil {
		m.itemLogger(item).Error("admission rejected", logging.Error(err))
		return
	}
	if plan.Mode == transfer.Chunked {
		item.FileID = plan.FileID
	}
	item.Active = true
	item.Attempts++
	item.ClearFailure()
	item.ResetProgress()
	item.Loaded = plan.StartOffset()
	if item.SizeKnown() {
		// Progress restarts at the first unsent part boundary, below any
		// byte count the previous attempt reported.
		m.emit(EventProgress, item)
	}

	m.gen++
	gen := m.gen
	ctx, cancel := context.WithCancel(m.ctx)
	m.attempts[item.ID] = &attempt{gen: gen, plan: plan, cancel: cancel}
	m.stall.arm(item.ID, gen)

	m.itemLogger(item).Info("upload started",
		logging.String("mode", plan.Mode.String()),
		logging.Int(logging.FieldAttempt, item.Attempts),
		logging.Int(logging.FieldPartIndex, plan.StartIndex),
		logging.Int(logging.FieldPartCount, plan.PartCount),
	)

	snapshot := *item
	m.wg.Add(1)
	go m.run(ctx, snapshot, plan, gen)
}

func (m *Manager) run(ctx context.Context, item queue.Item, plan transfer.Plan, gen uint64) {
	defer m.wg.Done()
	out := m.unit.Run(ctx, item, plan, reporter{m: m, id: item.ID, gen: gen})
	m.finish(item.ID, gen, out)
}

// reporter routes one attempt's callbacks back into the coordinator.
type reporter struct {
	m   *Manager
	id  string
	gen uint64
}

func (r reporter) Progress(loaded, total int64) {
	r.m.onProgress(r.id, r.gen, loaded, total)
}

func (r reporter) PartAccepted(next int) {
	r.m.onPartAccepted(r.id, r.gen, next)
}

func (m *Manager) current(id string, gen uint64) (*attempt, *queue.Item, bool) {
	att, ok := m.attempts[id]
	if !ok || att.gen != gen {
		return nil, nil, false
	}
	item, ok := m.queue.Get(id)
	if !ok {
		return nil, nil, false
	}
	return att, item, true
}

func (m *Manager) onProgress(id string, gen uint64, loaded, total int64) {
	m.mu.Lock()
	_, item, ok := m.current(id, gen)
	if !ok || item.Status != queue.StatusUploading {
		m.mu.Unlock()
		return
	}
	item.SetProgress(loaded, total)
	m.stall.touch(id, gen)
	m.emit(EventProgress, item)
	if m.sampler.ShouldLog(id, item.NextPartIndex, item.Percent()) {
		m.itemLogger(item).Debug("upload progress",
			logging.Int64("loaded", item.Loaded),
			logging.Int64("total", item.Total),
			logging.Int(logging.FieldPartIndex, item.NextPartIndex),
		)
	}
	m.mu.Unlock()
	m.flush()
}

func (m *Manager) onPartAccepted(id string, gen uint64, next int) {
	m.mu.Lock()
	_, item, ok := m.current(id, gen)
	if !ok {
		m.mu.Unlock()
		return
	}
	if next > item.NextPartIndex {
		item.NextPartIndex = next
	}
	m.emit(EventPart, item)
	m.mu.Unlock()
	m.flush()
}

// finish settles an attempt. A Retrying item that nobody cancelled is on the
// restart path: it only gets a completed event and is admitted again. A
// transfer that finished successfully wins over a stall verdict reached while
// its last response was in flight.
func (m *Manager) finish(id string, gen uint64, out transfer.Outcome) {
	m.mu.Lock()
	att, item, ok := m.current(id, gen)
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.attempts, id)
	att.cancel()
	m.stall.stop(id)
	m.sampler.Reset(id)
	item.Active = false
	if out.Failure == transfer.IncompleteUpload {
		// The receiver no longer holds the earlier parts of this file id.
		item.FileID = ""
		item.NextPartIndex = 0
	}

	logger := m.itemLogger(item)
	switch {
	case item.Status == queue.StatusRetrying && !att.cancelRequested:
		logger.Info("upload restarting", logging.Int("stall_retries", item.StallRetries))
		m.emit(EventCompleted, item)

	case att.cancelRequested:
		m.settle(item, queue.StatusCancelled, transfer.UserCancelled, "cancelled by user")
		logger.Info("upload cancelled")

	case out.Success:
		if err := item.SetStatus(queue.StatusSucceeded); err != nil {
			logger.Error("success transition rejected", logging.Error(err))
			break
		}
		if item.SizeKnown() {
			item.SetProgress(item.Size, item.Size)
		}
		m.emit(EventCompleted, item)
		m.emit(EventSucceeded, item)
		if m.cfg.Upload.AutoClear {
			m.clears.schedule(item.ID, item.Attempts)
		}
		logger.Info("upload succeeded",
			logging.Int(logging.FieldAttempt, item.Attempts),
			logging.Int("parts_sent", out.PartsSent),
		)

	case att.stalled:
		m.settle(item, queue.StatusFailed, transfer.StallTimeout, stallMessage(m.stall.timeout, item.StallRetries))
		logging.WarnWithContext(logger, "upload failed", "upload_failed",
			logging.String(logging.FieldOutcome, string(transfer.StallTimeout)),
			logging.String(logging.FieldImpact, "item needs a manual retry"),
		)

	case out.Aborted:
		m.settle(item, queue.StatusCancelled, transfer.UserCancelled, "transfer aborted")
		logger.Info("upload aborted")

	default:
		message := string(out.Failure)
		if out.Err != nil {
			message = out.Err.Error()
		}
		m.settle(item, queue.StatusFailed, out.Failure, message)
		logging.WarnWithContext(logger, "upload failed", "upload_failed",
			logging.String(logging.FieldOutcome, string(out.Failure)),
			logging.String("reason", message),
			logging.String(logging.FieldImpact, "item needs a manual retry"),
		)
	}

	m.schedule()
	m.mu.Unlock()
	m.flush()
}

// settle moves item to a terminal failure status and queues completed plus
// the matching outcome event. Callers hold m.mu.
func (m *Manager) settle(item *queue.Item, status queue.Status, kind transfer.Failure, message string) {
	if err := item.SetStatus(status); err != nil {
		m.itemLogger(item).Error("terminal transition rejected", logging.Error(err))
		return
	}
	item.SetFailed(string(kind), message)
	m.emit(EventCompleted, item)
	if status == queue.StatusCancelled {
		m.emit(EventCancelled, item)
		return
	}
	m.emit(EventFailed, item)
}

// cancelIdle cancels an item that holds no transport handle. Callers hold m.mu.
func (m *Manager) cancelIdle(item *queue.Item) {
	m.settle(item, queue.StatusCancelled, transfer.UserCancelled, "cancelled by user")
}
