package ledger

import (
	"errors"
	"fmt"
)

// ErrTransient marks RPC/read failures that are safe to retry or degrade
// from. Every error surfaced by the clients in this package wraps it.
var ErrTransient = errors.New("transient ledger error")

// transientf wraps an error as transient with context.
func transientf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrTransient, fmt.Sprintf(format, args...))
}

// IsTransient reports whether err is a retryable ledger failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
