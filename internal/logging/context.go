package logging

import (
	"context"
	"log/slog"

	"blackhole/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldCategory is the category directory a descriptor arrived in.
	FieldCategory = "category"
	// FieldDescriptor is the absolute path of the descriptor being handled.
	FieldDescriptor = "descriptor"
	// FieldCorrelationID ties every line of one dispatch together.
	FieldCorrelationID = "correlation_id"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if id, ok := services.CorrelationIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, id))
	}
	if category, ok := services.CategoryFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCategory, category))
	}
	if path, ok := services.DescriptorFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldDescriptor, path))
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
	return logger.With(Args(fields...)...)
}
