package logging

import (
	"context"
	"log/slog"
	"strings"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldItemID is the standardized structured logging key for queue item identifiers.
	FieldItemID = "item_id"
	// FieldFileID is the server-visible identifier shared by all parts of one upload.
	FieldFileID = "file_id"
	// FieldFileName is the display name sent to the receiver.
	FieldFileName = "file_name"
	// FieldPartIndex is the zero-based index of a chunked part.
	FieldPartIndex = "part_index"
	// FieldPartCount is the total number of parts for a chunked upload.
	FieldPartCount = "part_count"
	// FieldAttempt counts transfer attempts for one item, starting at 1.
	FieldAttempt = "attempt"
	// FieldStatus carries a queue item status.
	FieldStatus = "status"
	// FieldOutcome carries a transfer outcome classification.
	FieldOutcome = "outcome"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType names the event a log line describes, e.g. "upload_failed".
	FieldEventType = "event_type"
	// FieldErrorHint suggests a next step to the operator.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
)

type contextKey int

const (
	itemIDKey contextKey = iota
	fileIDKey
	requestIDKey
)

// WithItemID tags ctx with a queue item identifier.
func WithItemID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, itemIDKey, id)
}

// WithFileID tags ctx with the server-visible file identifier.
func WithFileID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, fileIDKey, id)
}

// WithRequestID tags ctx with a request correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func stringFromContext(ctx context.Context, key contextKey) (string, bool) {
	value, ok := ctx.Value(key).(string)
	if !ok || strings.TrimSpace(value) == "" {
		return "", false
	}
	return value, true
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if id, ok := stringFromContext(ctx, itemIDKey); ok {
		fields = append(fields, slog.String(FieldItemID, id))
	}
	if id, ok := stringFromContext(ctx, fileIDKey); ok {
		fields = append(fields, slog.String(FieldFileID, id))
	}
	if rid, ok := stringFromContext(ctx, requestIDKey); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
