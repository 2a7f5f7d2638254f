package shore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/marinersgate/crewtrain/internal/quiz"
)

// ErrNotFound: the requested resource does not exist. Session expiry
// maps to quiz.ErrSessionExpired; everything else is a plain retryable
// error.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response from the shore backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("shore api: %d %s", e.Status, e.Message)
}

// classify maps an API error to a sentinel where the engine cares.
func classify(status int, message string) error {
	low := strings.ToLower(message)
	if strings.Contains(low, "session") &&
		(strings.Contains(low, "expired") || strings.Contains(low, "not found")) {
		return fmt.Errorf("%w: %s", quiz.ErrSessionExpired, message)
	}
	if status == 404 {
		return fmt.Errorf("%w: %s", ErrNotFound, message)
	}
	return &APIError{Status: status, Message: message}
}
