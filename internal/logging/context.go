package logging

import (
	"context"
	"log/slog"
)

type contextKey struct{}

type contextFields struct {
	jobID     int64
	stage     string
	requestID string
}

// WithJob returns a context whose log records carry the job identifier.
func WithJob(ctx context.Context, jobID int64) context.Context {
	fields := fieldsFrom(ctx)
	fields.jobID = jobID
	return context.WithValue(ctx, contextKey{}, fields)
}

// WithStage returns a context whose log records carry the stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	fields := fieldsFrom(ctx)
	fields.stage = stage
	return context.WithValue(ctx, contextKey{}, fields)
}

// WithRequestID returns a context whose log records carry a correlation id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	fields := fieldsFrom(ctx)
	fields.requestID = requestID
	return context.WithValue(ctx, contextKey{}, fields)
}

// WithContext returns a logger pre-populated with the context's fields so
// callers that log outside the context-aware handler still get correlation.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	attrs := attrsFromContext(ctx)
	if len(attrs) == 0 {
		return logger
	}
	return logger.With(Args(attrs...)...)
}

func fieldsFrom(ctx context.Context) contextFields {
	if ctx == nil {
		return contextFields{}
	}
	if fields, ok := ctx.Value(contextKey{}).(contextFields); ok {
		return fields
	}
	return contextFields{}
}

func attrsFromContext(ctx context.Context) []slog.Attr {
	fields := fieldsFrom(ctx)
	var attrs []slog.Attr
	if fields.jobID != 0 {
		attrs = append(attrs, slog.Int64(FieldJobID, fields.jobID))
	}
	if fields.stage != "" {
		attrs = append(attrs, slog.String(FieldStage, fields.stage))
	}
	if fields.requestID != "" {
		attrs = append(attrs, slog.String(FieldRequestID, fields.requestID))
	}
	return attrs
}
