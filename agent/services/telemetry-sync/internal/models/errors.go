package models

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned for local validation failures; no network call is made.
	ErrInvalidInput = errors.New("telemetry: invalid input")
	// ErrPermissionDenied means the positioning capability is not authorized.
	ErrPermissionDenied = errors.New("telemetry: position permission denied")
	// ErrSourceUnavailable means positioning hardware or service is disabled or unreachable.
	ErrSourceUnavailable = errors.New("telemetry: position source unavailable")
	// ErrTimeout means a single acquisition cycle exceeded its bound.
	ErrTimeout = errors.New("telemetry: acquisition timed out")
	// ErrTransportFailure covers connection errors, 5xx responses and undecodable bodies.
	ErrTransportFailure = errors.New("telemetry: transport failure")
	// ErrAuthRejected means the server declared the token invalid or expired.
	ErrAuthRejected = errors.New("telemetry: authentication rejected")
	// ErrApplicationRejected means the server reported a domain-level failure.
	ErrApplicationRejected = errors.New("telemetry: rejected by server")
)

// RejectionError carries the server supplied reason for a rejection. It unwraps to
// ErrAuthRejected or ErrApplicationRejected.
type RejectionError struct {
	Kind   error
	Reason string
}

// NewRejection builds a RejectionError of the given kind.
func NewRejection(kind error, reason string) *RejectionError {
	return &RejectionError{Kind: kind, Reason: reason}
}

func (e *RejectionError) Error() string {
	if e.Reason == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Reason)
}

func (e *RejectionError) Unwrap() error {
	return e.Kind
}

// Reason extracts the server reason from err, if it carries one.
func Reason(err error) string {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej.Reason
	}
	return ""
}
