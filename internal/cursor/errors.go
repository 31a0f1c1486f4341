package cursor

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrWaitTimeout is returned by WaitAgent when the agent does not reach a
// terminal state within the deadline.
var ErrWaitTimeout = errors.New("agent did not complete in time")

// APIError is returned for failures reported by the Cursor API. Message is
// user-readable and safe to relay to the chat.
type APIError struct {
	Message    string
	StatusCode int
}

func (e *APIError) Error() string {
	return e.Message
}

// RateLimited reports whether err is a rate-limit APIError.
func RateLimited(err error) bool {
	var apierr *APIError
	return errors.As(err, &apierr) && apierr.StatusCode == 429
}

func networkError(err error, endpoint string) *APIError {
	return &APIError{
		Message: fmt.Sprintf("Помилка мережі: %v\n\nEndpoint: %s", err, endpoint),
	}
}
