package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"ticket-checkin/internal/credential"
	"ticket-checkin/internal/status"
	"ticket-checkin/models"
	"ticket-checkin/monitoring"
	"time"
)

// IssuedCredential is what the confirmation view renders and counts down.
type IssuedCredential struct {
	QRPayload    string
	ExpiresAt    time.Time
	RefreshAfter time.Duration
}

// TicketStateError reports a ticket that exists but cannot be scanned anymore.
type TicketStateError struct {
	Status models.TicketStatus
}

func (e *TicketStateError) Error() string {
	return fmt.Sprintf("%s (status %s)", status.ErrTicketNotValid, e.Status)
}

func (e *TicketStateError) Unwrap() error { return status.ErrTicketNotValid }

type IssuerService struct {
	store        TicketStore
	signer       *credential.Signer
	refreshAfter time.Duration
	monitor      *monitoring.Monitor
	now          func() time.Time
}

func NewIssuerService(store TicketStore, signer *credential.Signer, refreshAfter time.Duration, monitor *monitoring.Monitor) *IssuerService {
	return &IssuerService{
		store:        store,
		signer:       signer,
		refreshAfter: refreshAfter,
		monitor:      monitor,
		now:          time.Now,
	}
}

func (s *IssuerService) WithClock(now func() time.Time) *IssuerService {
	s.now = now
	return s
}

// Issue mints a fresh credential for a valid ticket. A wrong confirmation
// code is reported exactly like an unknown ticket.
func (s *IssuerService) Issue(ctx context.Context, ticketID, confirmationCode string) (*IssuedCredential, error) {
	ticket, err := s.store.GetTicket(ctx, ticketID)
	if errors.Is(err, status.ErrTicketNotFound) {
		s.monitor.TrackCredentialIssued("not_found")
		return nil, err
	}
	if err != nil {
		s.monitor.TrackCredentialIssued("error")
		return nil, err
	}

	if !codesMatch(ticket.ConfirmationCode, confirmationCode) {
		s.monitor.TrackCredentialIssued("not_found")
		return nil, status.ErrTicketNotFound
	}

	if ticket.Status != models.TicketValid {
		s.monitor.TrackCredentialIssued("not_valid")
		return nil, &TicketStateError{Status: ticket.Status}
	}

	cred, err := s.signer.Sign(ticket.ID, ticket.ConfirmationCode, s.now())
	if err != nil {
		slog.Error("Failed to sign scan credential", "error", err, "ticket_id", ticket.ID)
		s.monitor.TrackCredentialIssued("error")
		return nil, err
	}

	s.monitor.TrackCredentialIssued("issued")
	return &IssuedCredential{
		QRPayload:    cred.Payload,
		ExpiresAt:    cred.ExpiresAt,
		RefreshAfter: s.refreshAfter,
	}, nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func codesMatch(stored, given string) bool {
	a, b := normalizeCode(stored), normalizeCode(given)
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
