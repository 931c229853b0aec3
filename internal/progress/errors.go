package progress

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable covers network, auth and server failures of the Store.
	ErrStoreUnavailable = errors.New("progress store unavailable")
	// ErrStaleKeySwitch marks a save that outlived the key it was scheduled for.
	ErrStaleKeySwitch = errors.New("stale save discarded after key switch")
	// ErrClosed is returned by operations on a torn-down controller.
	ErrClosed = errors.New("save controller closed")
	// ErrInvalidKey rejects phase numbers or worksheet ids outside the allowed range.
	ErrInvalidKey = errors.New("invalid worksheet key")
)

// Unavailable tags err as ErrStoreUnavailable, keeping the original cause. Key
// validation errors pass through untouched.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrInvalidKey) {
		return err
	}
	return fmt.Errorf("%s: %w", op, errors.Join(ErrStoreUnavailable, err))
}

// IsRetryable reports whether a manual retry could succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidKey) || errors.Is(err, ErrClosed) || errors.Is(err, ErrStaleKeySwitch) {
		return false
	}
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, context.DeadlineExceeded)
}
