package remote

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedConfig indicates the endpoint URL is missing or invalid.
	// It is raised before any network I/O and must not be retried.
	ErrMalformedConfig = errors.New("remote endpoint is not configured correctly")

	// ErrOpaqueResponse indicates the endpoint answered with an HTML page
	// instead of JSON. The web app usually redirected to a sign-in page
	// because the deployment is not public.
	ErrOpaqueResponse = errors.New("opaque response from remote endpoint (deployment must allow anonymous access)")
)

// NetworkError is a transport-level failure: connection refused, DNS,
// TLS, or a timeout.
type NetworkError struct {
	Op      string
	Err     error
	Timeout bool
}

func (e *NetworkError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: network timeout: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// RemoteError means the endpoint was reached but rejected the request.
type RemoteError struct {
	Status  int
	Body    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("remote rejected request (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("remote rejected request (status %d): %s", e.Status, e.Body)
}

// IsNetwork reports whether err is a transport-level failure.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
