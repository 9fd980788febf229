package client

import (
	"fmt"
	"net/http"
	"ticket-checkin/models"
	"time"
)

// APIError is a non-2xx response from the check-in server.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`

	// RetryAfter is set on 429 responses.
	RetryAfter time.Duration `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("checkin: %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) NotFound() bool { return e.StatusCode == http.StatusNotFound }

func (e *APIError) RateLimited() bool { return e.StatusCode == http.StatusTooManyRequests }

// TicketNotValidError is returned by Issue when the ticket can no longer be
// scanned. Credential refreshers stop on it.
type TicketNotValidError struct {
	Message string              `json:"message"`
	Status  models.TicketStatus `json:"ticketStatus"`
}

func (e *TicketNotValidError) Error() string {
	return fmt.Sprintf("checkin: ticket is %s: %s", e.Status, e.Message)
}

// AdmitConflictError is returned by Admit when the ticket was already
// admitted or cannot be admitted.
type AdmitConflictError struct {
	Message string                `json:"message"`
	Outcome models.ScanOutcome    `json:"outcome"`
	Ticket  *models.TicketSummary `json:"ticket"`
}

func (e *AdmitConflictError) Error() string {
	return fmt.Sprintf("checkin: admit refused (%s): %s", e.Outcome, e.Message)
}
