// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// ScopeKey contains the *scope.Context for the current unit of work.
	// Set by: scope.Executor.RunInContext, middleware.ScopeMiddleware
	// Required by: policy evaluation, permission checks, audit trail
	ScopeKey Key = "scope_context"

	// TxKey contains the *sql.Tx opened by the Scoped Executor.
	// Set by: scope.Executor.RunInContext
	// Required by: handlers issuing queries inside a scoped unit of work
	TxKey Key = "scope_tx"

	// RequestIDKey contains request ID string (UUID)
	// Set by: HTTP middleware
	// Used by: Logger, audit trail
	RequestIDKey Key = "request_id"

	// UserIDKey contains user ID string
	// Set by: middleware.ScopeMiddleware from the gateway-supplied identity
	// Used by: Logger, audit trail
	UserIDKey Key = "user_id"

	// LoggerKey contains *observability.Logger
	// Set by: Observability middleware
	// Used by: Handlers that need structured logging with request context
	LoggerKey Key = "logger"
)

// WithScope adds the security scope to the context
func WithScope(ctx context.Context, sc interface{}) context.Context {
	return context.WithValue(ctx, ScopeKey, sc)
}

// WithTx adds the scoped transaction to the context
func WithTx(ctx context.Context, tx interface{}) context.Context {
	return context.WithValue(ctx, TxKey, tx)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}
