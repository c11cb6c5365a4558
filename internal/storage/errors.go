// errors.go defines the classified error values shared by all backends. The
// fallback loops in internal/assets branch on these classes, so backends must
// map their SDK/protocol errors onto them rather than leaking raw errors.
package storage

import (
	"errors"
	"fmt"
	"net"
)

// ErrNotFound reports that the (id, type) pair does not exist on the backend.
// Probe loops treat it as "try the next type".
var ErrNotFound = errors.New("object not found")

// ErrAccessDenied reports that the object exists but the requested access
// mode is wrong (e.g. unauthenticated fetch of an authenticated asset).
// Probe loops also treat it as "try the next type".
var ErrAccessDenied = errors.New("access denied")

// NetworkError reports that the backend host could not be reached at all
// (DNS failure, connection refused). Retrying other resource types cannot
// help, so probe loops abort immediately on it.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("storage backend unreachable during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a not-found-class error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAccessDenied reports whether err is an access-mode error.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsNetwork reports whether err is a host-unreachable-class error, either one
// a backend already classified or a raw DNS/dial error from the net package.
func IsNetwork(err error) bool {
	var ne *NetworkError
	if errors.As(err, &ne) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return false
}

// ClassifyNetwork wraps err in a *NetworkError when it is a raw DNS/dial
// failure, and returns it unchanged otherwise. Backends call this on transport
// errors so callers only ever see the classified form.
func ClassifyNetwork(op string, err error) error {
	if err == nil {
		return nil
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return err
	}
	if IsNetwork(err) {
		return &NetworkError{Op: op, Err: err}
	}
	return err
}
