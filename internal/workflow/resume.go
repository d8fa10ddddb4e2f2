package workflow

import (
	"context"
	"log/slog"
	"time"

	"uploadq/internal/logging"
	"uploadq/internal/queue"
	"uploadq/internal/transfer"
)

const checkpointTimeout = 5 * time.Second

// CheckpointRecorder persists chunked progress so a later session can send
// the remaining parts of the same file under the same file id. It subscribes
// to part and succeeded events, and drops the checkpoint of an upload the
// receiver could not complete because earlier parts were gone.
type CheckpointRecorder struct {
	store    *queue.Store
	url      string
	partSize int64
	logger   *slog.Logger
}

// NewCheckpointRecorder returns a recorder writing to store for uploads sent
// to url with the given part size.
func NewCheckpointRecorder(store *queue.Store, url string, partSize int64, logger *slog.Logger) *CheckpointRecorder {
	return &CheckpointRecorder{
		store:    store,
		url:      url,
		partSize: partSize,
		logger:   logging.NewComponentLogger(logger, "checkpoints"),
	}
}

// Resume seeds item with a stored file id and next part index. It reports
// whether a checkpoint was applied.
func (r *CheckpointRecorder) Resume(ctx context.Context, item *queue.Item) bool {
	key, ok := queue.KeyFor(item.Source, r.url)
	if !ok {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, checkpointTimeout)
	defer cancel()

	cp, err := r.store.Lookup(ctx, key, r.partSize)
	if err != nil {
		logging.WarnWithContext(r.logger, "checkpoint lookup failed", "checkpoint_lookup_failed",
			logging.String(logging.FieldFileName, item.Name),
			logging.Error(err),
			logging.String(logging.FieldImpact, "upload starts from the first part"),
		)
		return false
	}
	if cp == nil || cp.PartCount != queue.PartCount(item.Size, r.partSize) {
		return false
	}
	item.FileID = cp.FileID
	item.NextPartIndex = cp.NextPartIndex
	r.logger.Info("resuming upload",
		logging.String(logging.FieldFileName, item.Name),
		logging.String(logging.FieldFileID, cp.FileID),
		logging.Int(logging.FieldPartIndex, cp.NextPartIndex),
		logging.Int(logging.FieldPartCount, cp.PartCount),
	)
	return true
}

// HandleEvent records accepted parts and forgets finished or abandoned files.
func (r *CheckpointRecorder) HandleEvent(evt Event) {
	switch {
	case evt.Type == EventPart, evt.Type == EventSucceeded:
	case evt.Type == EventFailed && evt.Item.FailureKind == string(transfer.IncompleteUpload):
	default:
		return
	}
	key, ok := queue.KeyFor(evt.Item.Source, r.url)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), checkpointTimeout)
	defer cancel()

	var err error
	switch evt.Type {
	case EventPart:
		if evt.Item.FileID == "" {
			return
		}
		err = r.store.Save(ctx, queue.Checkpoint{
			CheckpointKey: key,
			PartSize:      r.partSize,
			FileID:        evt.Item.FileID,
			FileName:      evt.Item.Name,
			NextPartIndex: evt.Item.NextPartIndex,
			PartCount:     queue.PartCount(evt.Item.Size, r.partSize),
		})
	case EventSucceeded, EventFailed:
		err = r.store.Delete(ctx, key)
	}
	if err != nil {
		logging.WarnWithContext(r.logger, "checkpoint update failed", "checkpoint_write_failed",
			logging.String(logging.FieldItemID, evt.Item.ID),
			logging.String(logging.FieldEventType, string(evt.Type)),
			logging.Error(err),
			logging.String(logging.FieldImpact, "a later session may resend parts"),
		)
	}
}
