package models

import "time"

// DiagnosticKind classifies an operational event.
type DiagnosticKind string

const (
	DiagnosticAcquisitionFailed   DiagnosticKind = "acquisition_failed"
	DiagnosticTransportFailure    DiagnosticKind = "transport_failure"
	DiagnosticAuthRejected        DiagnosticKind = "auth_rejected"
	DiagnosticApplicationRejected DiagnosticKind = "application_rejected"
	DiagnosticSampleDropped       DiagnosticKind = "sample_dropped"
)

// DiagnosticKinds lists every kind in a stable order.
func DiagnosticKinds() []DiagnosticKind {
	return []DiagnosticKind{
		DiagnosticAcquisitionFailed,
		DiagnosticTransportFailure,
		DiagnosticAuthRejected,
		DiagnosticApplicationRejected,
		DiagnosticSampleDropped,
	}
}

// DiagnosticEvent is one entry on the diagnostic channel.
type DiagnosticEvent struct {
	ID         int64          `db:"id" json:"id"`
	Kind       DiagnosticKind `db:"kind" json:"kind"`
	Reason     string         `db:"reason" json:"reason"`
	UserType   UserType       `db:"user_type" json:"user_type"`
	DeviceID   string         `db:"device_id" json:"device_id"`
	OccurredAt time.Time      `db:"occurred_at" json:"occurred_at"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
}
