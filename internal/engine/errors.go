package engine

import "errors"

// ErrStopped is returned by Coordinator calls made after the Run loop has
// exited, or whose command was still queued when it exited.
var ErrStopped = errors.New("coordinator stopped")

// IsStopped reports whether err is or wraps ErrStopped.
func IsStopped(err error) bool {
	return errors.Is(err, ErrStopped)
}
