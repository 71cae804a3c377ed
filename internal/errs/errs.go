// Package errs defines the error taxonomy shared by the sync engine and its collaborators.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotConnected is returned when a frame is sent while the realtime link is not open.
	ErrNotConnected = errors.New("realtime link not connected")
	// ErrMalformedFrame is returned when an inbound frame cannot be decoded.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrAuthRejected means the server refused the session token. Terminal for the session.
	ErrAuthRejected = errors.New("authentication rejected")
	// ErrTransientDisconnect covers every other close of the realtime link.
	ErrTransientDisconnect = errors.New("transient disconnect")
	// ErrConflict is returned when a request contradicts existing state (e.g. a chat with oneself).
	ErrConflict = errors.New("conflict")
	// ErrNotFound is returned when the referenced entity does not exist.
	ErrNotFound = errors.New("not found")
)

// HTTPError carries the status of a failed collaborator request.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// Is maps well-known statuses onto the sentinel errors so callers can use errors.Is.
func (e *HTTPError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrConflict:
		return e.Status == http.StatusConflict
	case ErrAuthRejected:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	}
	return false
}

// Status returns the HTTP status attached to err, or 0 if there is none.
func Status(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status
	}
	return 0
}
