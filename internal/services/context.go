package services

import "context"

type contextKey string

const (
	queueItemIDKey  contextKey = "queue_item_id"
	generationIDKey contextKey = "generation_id"
	requestIDKey    contextKey = "request_id"
)

// WithQueueItemID annotates context with the queue item identifier.
func WithQueueItemID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, queueItemIDKey, id)
}

// QueueItemIDFromContext extracts the queue item identifier if present.
func QueueItemIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(queueItemIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithGenerationID annotates context with the generation record identifier.
func WithGenerationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, generationIDKey, id)
}

// GenerationIDFromContext returns the generation identifier if present.
func GenerationIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(generationIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
