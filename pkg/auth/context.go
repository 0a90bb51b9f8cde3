package auth

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// contextKey is an unexported type used for context keys in this package.
type contextKey int

const (
	// authorizationKey stores the AuthorizationContext of an allowed request.
	authorizationKey contextKey = iota

	// requestIDKey stores the request correlation ID used in deny logs.
	requestIDKey
)

// ContextWithAuthorization returns a new context carrying authz. The
// transport middleware calls it after a successful [Authorizer.Authorize].
func ContextWithAuthorization(ctx context.Context, authz AuthorizationContext) context.Context {
	return context.WithValue(ctx, authorizationKey, authz)
}

// AuthorizationFromContext retrieves the AuthorizationContext stored by
// [ContextWithAuthorization].
//
// Example:
//
//	authz, ok := auth.AuthorizationFromContext(r.Context())
//	if !ok || !authz.HasPermission("write") {
//	    http.Error(w, "forbidden", http.StatusForbidden)
//	    return
//	}
func AuthorizationFromContext(ctx context.Context) (AuthorizationContext, bool) {
	authz, ok := ctx.Value(authorizationKey).(AuthorizationContext)
	return authz, ok
}

// ContextWithRequestID returns a new context carrying the request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the request ID, or "" if none was set.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// TraceIDFromContext extracts the OpenTelemetry trace ID from the context.
// Returns the trace ID and true if a valid span context is present.
func TraceIDFromContext(ctx context.Context) (string, bool) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return "", false
	}
	return sc.TraceID().String(), true
}
