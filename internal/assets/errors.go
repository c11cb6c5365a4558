// errors.go defines the classified failures that cross the package boundary.
// All probe/retry logic stays inside the component that owns the fallback
// strategy; callers only ever see one of these definitive error classes (or a
// *storage.NetworkError passed through from the backend).
package assets

import (
	"errors"
	"fmt"
	"time"

	"github.com/media-registry/media-registry/internal/storage"
)

// UsageError reports an invalid caller-supplied argument (an overflowing
// expiration, an "auto"/empty explicit type). Never retried.
type UsageError struct {
	Reason string
}

func (e *UsageError) Error() string {
	return "invalid argument: " + e.Reason
}

// ObjectUnavailableError reports that an object id was not found under any
// resource type after exhausting the whole domain. Distinct from a timeout:
// the backend answered, the object just is not there.
type ObjectUnavailableError struct {
	ID string
}

func (e *ObjectUnavailableError) Error() string {
	return fmt.Sprintf("object %q not found under any resource type", e.ID)
}

// TimeoutError reports that the download ceiling elapsed before any fetch
// attempt succeeded. The in-flight task has been cancelled.
type TimeoutError struct {
	ID      string
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("download of %q timed out after %s", e.ID, e.Elapsed.Round(time.Millisecond))
}

// CanceledError reports that the caller's context was cancelled while a
// download was queued or in flight.
type CanceledError struct {
	ID string
}

func (e *CanceledError) Error() string {
	return fmt.Sprintf("download of %q canceled by caller", e.ID)
}

// RemoteConfigError reports missing account or credential configuration
// needed to construct a signed URL. Fatal, never retried.
type RemoteConfigError struct {
	Missing string
}

func (e *RemoteConfigError) Error() string {
	return "storage backend configuration incomplete: missing " + e.Missing
}

// MoveError reports that every rename candidate across the explicit type,
// resolver, cache, and metrics ordering failed. The last underlying cause is
// attached; a rename is not transactional, so callers needing rollback must
// issue a compensating move themselves.
type MoveError struct {
	FromID    string
	ToID      string
	LastCause error
}

func (e *MoveError) Error() string {
	return fmt.Sprintf("move %q -> %q failed for every candidate type: %v", e.FromID, e.ToID, e.LastCause)
}

func (e *MoveError) Unwrap() error { return e.LastCause }

// IsNotFoundClass reports whether err means the object does not exist, either
// as a backend answer or as a domain-exhaustion verdict.
func IsNotFoundClass(err error) bool {
	if storage.IsNotFound(err) {
		return true
	}
	var unavailable *ObjectUnavailableError
	return errors.As(err, &unavailable)
}
