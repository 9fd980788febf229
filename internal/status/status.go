package status

import "errors"

var (
	ErrTicketNotFound = errors.New("ticket: ticket not found")
	ErrTicketNotValid = errors.New("ticket: ticket is not valid for scanning")
	ErrEventNotFound  = errors.New("event: event not found")

	ErrMalformedPayload  = errors.New("credential: malformed payload")
	ErrInvalidSignature  = errors.New("credential: invalid signature")
	ErrCredentialExpired = errors.New("credential: credential expired")

	ErrTicketMismatch  = errors.New("scan: ticket belongs to another event")
	ErrAlreadyAdmitted = errors.New("admit: ticket already admitted")
	ErrNotAdmittable   = errors.New("admit: ticket is not admittable")
)
