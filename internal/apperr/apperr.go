// Package apperr defines the two failure kinds the API distinguishes: a
// referenced entity that does not exist, and an external service call that
// failed or timed out.
package apperr

import (
	"errors"
	"fmt"
)

// ErrNotFound matches every NotFoundError via errors.Is.
var ErrNotFound = errors.New("not found")

// NotFoundError carries the client-facing detail, e.g. "Agent not found".
type NotFoundError struct {
	Detail string
}

func (e *NotFoundError) Error() string { return e.Detail }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NotFound builds a NotFoundError.
func NotFound(detail string) error {
	return &NotFoundError{Detail: detail}
}

// UpstreamError wraps a failed call to the store, the voice provider or the
// LLM provider. Its message is the upstream's message.
type UpstreamError struct {
	Service string
	Err     error
}

func (e *UpstreamError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s call failed", e.Service)
	}
	return e.Err.Error()
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Upstream wraps err as an UpstreamError for service. NotFound errors and
// errors that are already UpstreamErrors pass through unchanged.
func Upstream(service string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	var up *UpstreamError
	if errors.As(err, &up) {
		return err
	}
	return &UpstreamError{Service: service, Err: err}
}

// IsUpstream reports whether err is (or wraps) an UpstreamError.
func IsUpstream(err error) bool {
	var up *UpstreamError
	return errors.As(err, &up)
}
