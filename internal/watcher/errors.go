package watcher

import (
	"context"
	"errors"
	"fmt"
)

type Code int

const (
	Unknown Code = iota
	PermissionDenied
	PositionUnavailable
	Timeout
)

func (c Code) String() string {
	switch c {
	case PermissionDenied:
		return "permission_denied"
	case PositionUnavailable:
		return "position_unavailable"
	case Timeout:
		return "timeout"
	}
	return "unknown"
}

var (
	ErrPermissionDenied    = errors.New("geolocation permission denied")
	ErrPositionUnavailable = errors.New("position unavailable")
	ErrTimeout             = errors.New("position acquisition timed out")
	ErrUnknown             = errors.New("geolocation failed")
)

func (c Code) sentinel() error {
	switch c {
	case PermissionDenied:
		return ErrPermissionDenied
	case PositionUnavailable:
		return ErrPositionUnavailable
	case Timeout:
		return ErrTimeout
	}
	return ErrUnknown
}

// PositionError is what onError receives. Cause is the platform error, if any.
type PositionError struct {
	Code  Code
	Cause error
}

func NewError(code Code, cause error) *PositionError {
	return &PositionError{Code: code, Cause: cause}
}

func (e *PositionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Code.sentinel(), e.Cause)
	}
	return e.Code.sentinel().Error()
}

func (e *PositionError) Is(target error) bool { return target == e.Code.sentinel() }
func (e *PositionError) Unwrap() error        { return e.Cause }

// Terminal reports whether the watch cannot recover on its own.
func (e *PositionError) Terminal() bool { return e.Code == PermissionDenied }

// Classify maps any feed error onto the four platform codes.
func Classify(err error) *PositionError {
	var perr *PositionError
	if errors.As(err, &perr) {
		return perr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(Timeout, err)
	}
	return NewError(Unknown, err)
}

// ParseCode accepts the names produced by Code.String.
func ParseCode(s string) (Code, error) {
	switch s {
	case "permission_denied":
		return PermissionDenied, nil
	case "position_unavailable", "unavailable":
		return PositionUnavailable, nil
	case "timeout":
		return Timeout, nil
	case "unknown":
		return Unknown, nil
	}
	return Unknown, fmt.Errorf("unknown geolocation error code %q", s)
}
