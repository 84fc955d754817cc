package core

import (
	"errors"
	"fmt"
)

// ErrTimestampOutOfRange is returned when a timestamp cannot be represented by
// the active strategy without wrapping (embed_desc requires [0, MaxInt64]).
var ErrTimestampOutOfRange = errors.New("timestamp out of range for strategy")

// StoreOpenError reports that the storage engine could not be created or
// opened. It is fatal and aborts a run before any worker starts.
type StoreOpenError struct {
	Path string
	Err  error
}

func (e *StoreOpenError) Error() string {
	return fmt.Sprintf("failed to open store at %s: %v", e.Path, e.Err)
}

func (e *StoreOpenError) Unwrap() error {
	return e.Err
}

// StoreIoError reports a failed get, put or iterate call on an open store.
type StoreIoError struct {
	Op     string // e.g. "get", "put", "iterate"
	Detail string
	Err    error
}

func (e *StoreIoError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("store %s failed (%s): %v", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

func (e *StoreIoError) Unwrap() error {
	return e.Err
}

// DecodeError reports a physical entry that does not match the fixed-width
// layout expected for the active strategy.
type DecodeError struct {
	Strategy string
	Field    string // "key" or "value"
	Want     int
	Got      int
	Message  string
}

func (e *DecodeError) Error() string {
	what := e.Field
	if e.Strategy != "" {
		what = e.Field + " for " + e.Strategy
	}
	if e.Message != "" {
		return fmt.Sprintf("decode %s: %s", what, e.Message)
	}
	return fmt.Sprintf("decode %s: expected %d bytes, got %d", what, e.Want, e.Got)
}

// Class groups decode errors that share a cause, so callers can warn once per
// class instead of once per entry.
func (e *DecodeError) Class() string {
	if e.Message != "" {
		return fmt.Sprintf("%s/%s/%s", e.Strategy, e.Field, e.Message)
	}
	return fmt.Sprintf("%s/%s/len=%d", e.Strategy, e.Field, e.Got)
}

// UnsupportedStrategyError is returned when an operation is asked to handle a
// strategy it does not implement. It is always a programming or configuration
// error and is never recovered.
type UnsupportedStrategyError struct {
	Strategy string
	Op       string
}

func (e *UnsupportedStrategyError) Error() string {
	return fmt.Sprintf("unsupported encoding %q for %s", e.Strategy, e.Op)
}

// IsStoreOpenError checks if an error is a StoreOpenError.
func IsStoreOpenError(err error) bool {
	var target *StoreOpenError
	return errors.As(err, &target)
}

// IsStoreIoError checks if an error is a StoreIoError.
func IsStoreIoError(err error) bool {
	var target *StoreIoError
	return errors.As(err, &target)
}

// IsDecodeError checks if an error is a DecodeError.
func IsDecodeError(err error) bool {
	var target *DecodeError
	return errors.As(err, &target)
}

func IsUnsupportedStrategyError(err error) bool {
	var target *UnsupportedStrategyError
	return errors.As(err, &target)
}
