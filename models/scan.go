package models

import (
	"time"
)

type ScanOutcome string

const (
	OutcomeValid             ScanOutcome = "valid"
	OutcomeMalformedPayload  ScanOutcome = "malformed_payload"
	OutcomeInvalidSignature  ScanOutcome = "invalid_signature"
	OutcomeCredentialExpired ScanOutcome = "credential_expired"
	OutcomeTicketNotFound    ScanOutcome = "ticket_not_found"
	OutcomeTicketMismatch    ScanOutcome = "ticket_mismatch"
	OutcomeAlreadyUsed       ScanOutcome = "already_used"
	OutcomeNotAdmittable     ScanOutcome = "not_admittable"
	OutcomeAdmitted          ScanOutcome = "admitted"
)

type ErrorClass string

const (
	ClassNone              ErrorClass = ""
	ClassClientRecoverable ErrorClass = "client_recoverable"
	ClassOperatorExpected  ErrorClass = "operator_expected"
	ClassHard              ErrorClass = "hard"
)

// HardFailureCooldown keeps the camera paused after a misread so it does not hammer the validator.
const HardFailureCooldown = 1500 * time.Millisecond

func (o ScanOutcome) Class() ErrorClass {
	switch o {
	case OutcomeValid, OutcomeAdmitted:
		return ClassNone
	case OutcomeCredentialExpired:
		return ClassClientRecoverable
	case OutcomeAlreadyUsed, OutcomeTicketMismatch, OutcomeNotAdmittable:
		return ClassOperatorExpected
	default:
		return ClassHard
	}
}

// RetryAfter is how long the scanner should wait before re-enabling the camera.
func (o ScanOutcome) RetryAfter() time.Duration {
	if o.Class() == ClassHard {
		return HardFailureCooldown
	}
	return 0
}

type ScanAttempt struct {
	ID        string      `json:"id"`
	EventID   string      `json:"event_id,omitempty"`
	TicketID  string      `json:"ticket_id,omitempty"`
	DeviceID  string      `json:"device_id,omitempty"`
	Action    string      `json:"action"` // verify, admit
	Outcome   ScanOutcome `json:"outcome"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}
