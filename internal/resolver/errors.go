package resolver

import "fmt"

// ParseError describes why a URL could not be decoded or mapped.
// The public helpers collapse it to a safe default; tests and logs keep it.
type ParseError struct {
	Input  string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %q: %s: %v", e.Input, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse %q: %s", e.Input, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func parseErr(input, reason string, err error) *ParseError {
	return &ParseError{Input: input, Reason: reason, Err: err}
}
