package transfer

import (
	"context"
	"fmt"
	"log/slog"

	"uploadq/internal/logging"
	"uploadq/internal/queue"
	"uploadq/internal/transport"
)

// Failure classifies why an attempt did not succeed.
type Failure string

const (
	// TransportFailure: the server could not be reached, the exchange broke,
	// or the source could not be read.
	TransportFailure Failure = "transport_failure"
	// ApplicationFailure: the server answered with success=false or an
	// unparsable body.
	ApplicationFailure Failure = "application_failure"
	// UserCancelled: the operator cancelled the item.
	UserCancelled Failure = "user_cancelled"
	// StallTimeout: the stall retry cap was reached.
	StallTimeout Failure = "stall_timeout"
	// IncompleteUpload: the receiver refused the final part because earlier
	// parts of the file id are gone. The file id and its checkpoint are
	// abandoned and the next attempt starts from part 0.
	IncompleteUpload Failure = "incomplete_upload"
)

// Outcome is the result of one attempt.
type Outcome struct {
	Success bool
	// Aborted means the attempt's context was cancelled before it finished.
	// The caller decides whether that is a cancellation or a restart.
	Aborted  bool
	Failure  Failure
	Err      error
	Response transport.Response
	// PartsSent counts parts accepted during this attempt.
	PartsSent int
}

// Reporter receives progress from a running attempt. Calls come from the
// attempt's goroutine in order.
type Reporter interface {
	// Progress reports bytes sent for the whole file. Both values are
	// queue.UnknownSize when not computable.
	Progress(loaded, total int64)
	// PartAccepted reports that the server accepted a non-final part and
	// next is the index to send after it.
	PartAccepted(next int)
}

// Unit executes transfer attempts over a transport.
type Unit struct {
	transport transport.Transport
	logger    *slog.Logger
}

// NewUnit returns a Unit sending through tr.
func NewUnit(tr transport.Transport, logger *slog.Logger) *Unit {
	return &Unit{transport: tr, logger: logging.NewComponentLogger(logger, "transfer")}
}

// Capabilities exposes the transport's capabilities for planning.
func (u *Unit) Capabilities() transport.Capabilities {
	return u.transport.Capabilities()
}

// Run performs one attempt for item according to plan. It blocks until the
// attempt ends; cancel ctx to abort it.
func (u *Unit) Run(ctx context.Context, item queue.Item, plan Plan, rep Reporter) Outcome {
	logger := logging.WithContext(logging.WithItemID(ctx, item.ID), u.logger)
	if plan.Mode == Chunked {
		logger = logger.With(logging.String(logging.FieldFileID, plan.FileID))
		return u.runChunked(ctx, logger, item, plan, rep)
	}
	return u.runSingle(ctx, logger, item, rep)
}

func (u *Unit) runSingle(ctx context.Context, logger *slog.Logger, item queue.Item, rep Reporter) Outcome {
	body, err := item.Source.Open()
	if err != nil {
		return Outcome{Failure: TransportFailure, Err: fmt.Errorf("open source: %w", err)}
	}
	defer body.Close()

	logger.Debug("sending whole file", logging.Int64("size", item.Size))
	res := u.transport.Send(ctx, transport.Request{
		Kind:   transport.Whole,
		Name:   item.Name,
		Body:   body,
		Length: item.Size,
	}, func(loaded, total int64) {
		if loaded < 0 || total < 0 {
			rep.Progress(queue.UnknownSize, queue.UnknownSize)
			return
		}
		rep.Progress(loaded, total)
	})
	return classify(res)
}

// runChunked sends parts from plan.StartIndex in order. A non-final part that
// the server accepts advances the index; any unsuccessful part ends the
// attempt as a failure.
func (u *Unit) runChunked(ctx context.Context, logger *slog.Logger, item queue.Item, plan Plan, rep Reporter) Outcome {
	src := item.Source.(queue.RangeSource)
	sent := 0
	for index := plan.StartIndex; index < plan.PartCount; index++ {
		if ctx.Err() != nil {
			return Outcome{Aborted: true, Err: ctx.Err(), PartsSent: sent}
		}
		part, ok := queue.PartAt(item.Size, plan.PartSize, index)
		if !ok {
			return Outcome{Failure: TransportFailure, Err: fmt.Errorf("part %d out of range", index), PartsSent: sent}
		}

		outcome := u.sendPart(ctx, src, item, plan, part, rep)
		if !outcome.Success {
			outcome.PartsSent = sent
			switch outcome.Failure {
			case ApplicationFailure:
				logger.Debug("part rejected",
					logging.Int(logging.FieldPartIndex, index),
					logging.String("message", outcome.Response.Message),
				)
			case IncompleteUpload:
				logger.Warn("receiver lost earlier parts",
					logging.Int(logging.FieldPartIndex, index),
					logging.Any("missing_parts", outcome.Response.MissingParts),
				)
			}
			return outcome
		}
		sent++
		if part.Last(plan.PartCount) {
			outcome.PartsSent = sent
			return outcome
		}
		logger.Debug("part accepted",
			logging.Int(logging.FieldPartIndex, index),
			logging.Int(logging.FieldPartCount, plan.PartCount),
		)
		rep.PartAccepted(index + 1)
	}
	return Outcome{Failure: TransportFailure, Err: fmt.Errorf("no parts to send"), PartsSent: sent}
}

func (u *Unit) sendPart(ctx context.Context, src queue.RangeSource, item queue.Item, plan Plan, part queue.Part, rep Reporter) Outcome {
	body, err := src.OpenRange(part.Offset, part.Length)
	if err != nil {
		return Outcome{Failure: TransportFailure, Err: fmt.Errorf("open part %d: %w", part.Index, err)}
	}
	defer body.Close()

	res := u.transport.Send(ctx, transport.Request{
		Kind:      transport.Part,
		Name:      item.Name,
		Body:      body,
		Length:    part.Length,
		FileID:    plan.FileID,
		PartIndex: part.Index,
		PartCount: plan.PartCount,
	}, func(loaded, _ int64) {
		if loaded < 0 {
			rep.Progress(queue.UnknownSize, queue.UnknownSize)
			return
		}
		rep.Progress(part.Offset+loaded, item.Size)
	})
	return classify(res)
}

func classify(res transport.Result) Outcome {
	switch res.Signal {
	case transport.Aborted:
		return Outcome{Aborted: true, Err: res.Err}
	case transport.Errored:
		return Outcome{Failure: TransportFailure, Err: res.Err}
	}
	resp := transport.Interpret(res)
	if !resp.Success {
		err := fmt.Errorf("server rejected upload (status %d)", res.StatusCode)
		if resp.Message != "" {
			err = fmt.Errorf("server rejected upload (status %d): %s", res.StatusCode, resp.Message)
		}
		if resp.Incomplete() {
			return Outcome{Failure: IncompleteUpload, Err: err, Response: resp}
		}
		return Outcome{Failure: ApplicationFailure, Err: err, Response: resp}
	}
	return Outcome{Success: true, Response: resp}
}
