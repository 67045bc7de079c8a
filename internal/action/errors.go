package action

import (
	"errors"
	"fmt"
)

// ActionError is a rejection returned by the action server: a non-2xx
// POST response, with the server's {message} when it sent one.
type ActionError struct {
	Message    string
	StatusCode int
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action server returned %d: %s", e.StatusCode, e.Message)
}

// IsPostRequestError reports whether err is a business-logic rejection from
// the action server, as opposed to a transport or decode failure.
func IsPostRequestError(err error) bool {
	var ae *ActionError
	return errors.As(err, &ae)
}

// ErrMissingParameter is returned by Validate for an unset required parameter.
var ErrMissingParameter = errors.New("missing required parameter")
