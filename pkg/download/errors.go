package download

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrCanceled    = errors.New("transfer canceled")
	ErrSizeUnknown = errors.New("unable to determine file size")
	ErrInvalidPlan = errors.New("invalid range plan")
)

type HTTPStatusError struct {
	StatusCode int
	URL        string
}

func ErrUnexpectedHTTPStatus(statusCode int, url string) error {
	return HTTPStatusError{StatusCode: statusCode, URL: url}
}

var _ error = &HTTPStatusError{}

func (c HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d for %s", c.StatusCode, c.URL)
}

// TransportError is a connect, timeout or read failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

type PermissionError struct {
	Path string
	Err  error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied writing %s, check file access rights", e.Path)
}

func (e *PermissionError) Unwrap() error {
	return e.Err
}

// MultiStreamAbortError reports the part that stopped a multi-connection attempt. Part is -1 when the failure
// concerned the working file rather than a connection.
type MultiStreamAbortError struct {
	Part int
	Err  error
}

func (e *MultiStreamAbortError) Error() string {
	if e.Part < 0 {
		return fmt.Sprintf("multi-connection download aborted: %v", e.Err)
	}
	return fmt.Sprintf("multi-connection download aborted, part %d: %v", e.Part, e.Err)
}

func (e *MultiStreamAbortError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether another attempt may succeed where err failed.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrCanceled), errors.Is(err, ErrInvalidPlan), errors.Is(err, context.Canceled):
		return false
	}
	return true
}
