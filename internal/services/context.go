package services

import "context"

type contextKey string

const (
	jobIDKey     contextKey = "job_id"
	asinKey      contextKey = "asin"
	stageKey     contextKey = "stage"
	accountKey   contextKey = "account"
	requestIDKey contextKey = "request_id"
)

// WithJobID annotates context with the acquisition job identifier.
func WithJobID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, jobIDKey, id)
}

// JobIDFromContext extracts the acquisition job identifier if present.
func JobIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(jobIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithASIN annotates context with the title being processed.
func WithASIN(ctx context.Context, asin string) context.Context {
	if asin == "" {
		return ctx
	}
	return context.WithValue(ctx, asinKey, asin)
}

// ASINFromContext returns the title identifier if present.
func ASINFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(asinKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithStage annotates context with the pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(stageKey)
	if str, ok := v.(string); ok && str != "" {
		return str, true
	}
	return "", false
}

// WithAccount annotates context with a non-secret account identity (device serial).
func WithAccount(ctx context.Context, account string) context.Context {
	if account == "" {
		return ctx
	}
	return context.WithValue(ctx, accountKey, account)
}

// AccountFromContext returns the account identity if present.
func AccountFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(accountKey).(string); ok && v != "" {
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
