package remote

import (
	"errors"
	"fmt"
)

// ErrSessionExpired is returned when the remote rejects a call because the
// authenticated session is no longer valid
var ErrSessionExpired = errors.New("session expired")

// APIError is a rejection reported by the remote service
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return e.Message
	}
	return fmt.Sprintf("remote rejected call (status %d): %s", e.Status, e.Message)
}

// IsSessionExpired reports whether err is a session-expired failure
func IsSessionExpired(err error) bool {
	return errors.Is(err, ErrSessionExpired)
}

// IsAPIError reports whether err is a remote rejection
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}
