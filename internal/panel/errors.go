package panel

import (
	"errors"
	"fmt"
)

var (
	// ErrUserNotFound means the username lookup returned no matching account.
	ErrUserNotFound = errors.New("panel: user not found")

	// ErrOrderNotFound means the order id is unknown to the backend.
	ErrOrderNotFound = errors.New("panel: order not found")

	// ErrUnexpectedResponse is returned when a 2xx body lacks the expected shape.
	ErrUnexpectedResponse = errors.New("panel: unexpected response")
)

// StatusError is a non-2xx reply. Message carries the backend's
// error_message when it sent one.
type StatusError struct {
	StatusCode int
	URL        string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("panel: status %d from %s: %s", e.StatusCode, e.URL, e.Message)
	}
	return fmt.Sprintf("panel: status %d from %s", e.StatusCode, e.URL)
}
