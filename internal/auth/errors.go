package auth

import "errors"

var (
	// ErrUnauthorized indicates the sender is not in the allow-set.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrStaleMessage indicates the message predates process start.
	ErrStaleMessage = errors.New("stale message")
	// ErrBootstrapRestart indicates the allow-set was bootstrapped and must be applied.
	ErrBootstrapRestart = errors.New("bootstrap restart required")
)
