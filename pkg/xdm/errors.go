package xdm

import (
	"errors"
	"fmt"
)

// Client errors.
var (
	// ErrUnauthorized is wrapped by the StatusError of a second 401.
	ErrUnauthorized = errors.New("xdm: unauthorized")

	// ErrPreconditionFailed is wrapped by the StatusError of a second 412.
	ErrPreconditionFailed = errors.New("xdm: precondition failed")

	// ErrRequestFailed is wrapped by the StatusError of any other non-success status.
	ErrRequestFailed = errors.New("xdm: request failed")

	// ErrInvalidServerAddr is returned for unparsable server addresses.
	ErrInvalidServerAddr = errors.New("xdm: invalid server address")

	// ErrMalformedResponse is returned when the response cannot be parsed.
	ErrMalformedResponse = errors.New("xdm: malformed response")
)

// StatusError is a terminal non-success response.
type StatusError struct {
	StatusCode int
	Reason     string
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: %d %s", e.Err, e.StatusCode, e.Reason)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

func statusError(resp *Response) *StatusError {
	err := ErrRequestFailed
	switch resp.StatusCode {
	case 401:
		err = ErrUnauthorized
	case 412:
		err = ErrPreconditionFailed
	}
	return &StatusError{StatusCode: resp.StatusCode, Reason: resp.Reason, Err: err}
}
