package reasoner

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when a call is aborted by its deadline or by
	// cancellation of the caller's context.
	ErrTimeout = errors.New("reasoner timeout")
	// ErrMalformedOutput is returned when neither attempt produced a JSON object.
	ErrMalformedOutput = errors.New("reasoner returned malformed output")
)

// HTTPError reports a non-success response from the reasoner endpoint.
// Status is 0 when the request failed before any response was received.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("reasoner request failed: %s", e.Message)
	}
	return fmt.Sprintf("reasoner http %d: %s", e.Status, e.Message)
}

// Kind names the failure class for metrics and logs.
func Kind(err error) string {
	var httpErr *HTTPError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrMalformedOutput):
		return "malformed"
	case errors.As(err, &httpErr):
		return "http_error"
	default:
		return "error"
	}
}
