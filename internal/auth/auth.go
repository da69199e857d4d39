// Package auth provides the optional per-connection authorization gate.
package auth

import "context"

// Validator decides whether a new connection may be served. It runs
// before any protocol bytes are exchanged.
type Validator interface {
	Authorize(ctx context.Context, remoteAddr string) bool
}

// AllowAll admits every connection. Used when no validator is
// configured.
type AllowAll struct{}

// Authorize always returns true.
func (AllowAll) Authorize(context.Context, string) bool { return true }
