package services

import "context"

type contextKey string

const (
	categoryKey      contextKey = "category"
	descriptorKey    contextKey = "descriptor"
	correlationIDKey contextKey = "correlation_id"
)

// WithCategory annotates context with the descriptor's category label.
func WithCategory(ctx context.Context, category string) context.Context {
	if category == "" {
		return ctx
	}
	return context.WithValue(ctx, categoryKey, category)
}

// CategoryFromContext returns the category label if present.
func CategoryFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(categoryKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithDescriptor annotates context with the descriptor filename.
func WithDescriptor(ctx context.Context, name string) context.Context {
	if name == "" {
		return ctx
	}
	return context.WithValue(ctx, descriptorKey, name)
}

// DescriptorFromContext returns the descriptor filename if present.
func DescriptorFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(descriptorKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithCorrelationID annotates context with a per-descriptor correlation identifier.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFromContext extracts the correlation identifier if present.
func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(correlationIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
