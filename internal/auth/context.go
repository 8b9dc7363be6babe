package auth

import "context"

// Caller is the authenticated actor of a request.
type Caller struct {
	UID   string
	Email string
	Role  Role
}

type callerContextKey struct{}

// ContextWithCaller attaches the authenticated caller to the context.
func ContextWithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerContextKey{}, &caller)
}

// CallerFromContext extracts the authenticated caller from the context.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	if ctx == nil {
		return Caller{}, false
	}
	v, ok := ctx.Value(callerContextKey{}).(*Caller)
	if !ok || v == nil {
		return Caller{}, false
	}
	return *v, true
}

// UIDFromContext returns the caller's uid if one is attached.
func UIDFromContext(ctx context.Context) (string, bool) {
	c, ok := CallerFromContext(ctx)
	if !ok || c.UID == "" {
		return "", false
	}
	return c.UID, true
}
