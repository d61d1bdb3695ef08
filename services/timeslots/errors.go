package timeslots

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument reports a missing credential or identifier.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidInput reports an absent observation payload.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotConfigured is returned by fetches issued before both credentials are set.
	ErrNotConfigured = errors.New("api key and client id must be set")
	// ErrTransport wraps network level failures and undecodable responses.
	ErrTransport = errors.New("transport failure")
	// ErrUpstream matches every *UpstreamError.
	ErrUpstream = errors.New("upstream error")
)

// UpstreamError carries the error envelope returned by the provider.
type UpstreamError struct {
	Code    int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error %d: %s", e.Code, e.Message)
}

// Is lets errors.Is(err, ErrUpstream) match any provider error.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}
