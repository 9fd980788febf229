package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"ticket-checkin/internal/credential"
	"ticket-checkin/internal/status"
	"ticket-checkin/models"
	"ticket-checkin/monitoring"
	"time"
)

type VerifyRequest struct {
	Payload  string
	EventID  string
	DeviceID string
}

// ScanResult is the tagged outcome of one verification. Protocol failures
// are results, not errors.
type ScanResult struct {
	Valid        bool                  `json:"valid"`
	Outcome      models.ScanOutcome    `json:"outcome"`
	Message      string                `json:"message,omitempty"`
	Ticket       *models.TicketSummary `json:"ticket,omitempty"`
	Gig          *models.Gig           `json:"gig,omitempty"`
	RetryAfterMs int64                 `json:"retryAfterMs"`
}

type AdmitRequest struct {
	TicketID string
	EventID  string
	DeviceID string
}

type AdmitResult struct {
	Ticket *models.TicketSummary `json:"ticket"`
}

// AdmitError carries the current ticket so the operator sees why admission
// was refused.
type AdmitError struct {
	Err     error
	Outcome models.ScanOutcome
	Message string
	Ticket  *models.TicketSummary
}

func (e *AdmitError) Error() string { return e.Err.Error() }

func (e *AdmitError) Unwrap() error { return e.Err }

const (
	msgMalformed   = "This is not a ticket code. Try scanning again."
	msgBadSig      = "This code was not issued for this venue."
	msgExpired     = "This code has expired. Ask the holder to refresh and rescan."
	msgNotFound    = "No ticket matches this code."
	msgMismatch    = "This ticket is for a different event."
	msgCancelled   = "This ticket was cancelled and cannot be admitted."
	msgTicketGone  = "This ticket has expired and cannot be admitted."
	clockLayout    = "3:04pm"
	actionVerify   = "verify"
	actionAdmit    = "admit"
	resultAdmitted = "admitted"
)

type ValidatorService struct {
	store    TicketStore
	signer   *credential.Signer
	audit    ScanAuditor
	notifier Notifier
	monitor  *monitoring.Monitor
	now      func() time.Time
	loc      *time.Location
}

func NewValidatorService(store TicketStore, signer *credential.Signer, audit ScanAuditor, notifier Notifier, monitor *monitoring.Monitor) *ValidatorService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &ValidatorService{
		store:    store,
		signer:   signer,
		audit:    audit,
		notifier: notifier,
		monitor:  monitor,
		now:      time.Now,
		loc:      time.Local,
	}
}

func (s *ValidatorService) WithClock(now func() time.Time) *ValidatorService {
	s.now = now
	return s
}

// WithLocation sets the zone used when telling the operator when a ticket
// was already admitted.
func (s *ValidatorService) WithLocation(loc *time.Location) *ValidatorService {
	if loc != nil {
		s.loc = loc
	}
	return s
}

// Verify checks a scanned payload without changing any ticket. The error
// return is reserved for storage failures.
func (s *ValidatorService) Verify(ctx context.Context, req VerifyRequest) (*ScanResult, error) {
	started := time.Now()

	result, ticketID, err := s.verify(ctx, req)
	if err != nil {
		slog.Error("Scan verification failed", "error", err, "event_id", req.EventID, "device_id", req.DeviceID)
		return nil, err
	}
	result.RetryAfterMs = result.Outcome.RetryAfter().Milliseconds()

	s.monitor.TrackVerification(string(result.Outcome), time.Since(started))
	s.record(ctx, models.ScanAttempt{
		EventID:  req.EventID,
		TicketID: ticketID,
		DeviceID: req.DeviceID,
		Action:   actionVerify,
		Outcome:  result.Outcome,
		Message:  result.Message,
	})

	return result, nil
}

func (s *ValidatorService) verify(ctx context.Context, req VerifyRequest) (*ScanResult, string, error) {
	claims, err := s.signer.Parse(req.Payload)
	switch {
	case errors.Is(err, status.ErrInvalidSignature):
		return failed(models.OutcomeInvalidSignature, msgBadSig), "", nil
	case err != nil:
		return failed(models.OutcomeMalformedPayload, msgMalformed), "", nil
	}

	ticketID := claims.TicketID()
	if claims.ExpiredAt(s.now()) {
		return failed(models.OutcomeCredentialExpired, msgExpired), ticketID, nil
	}

	ticket, err := s.store.GetTicket(ctx, ticketID)
	if errors.Is(err, status.ErrTicketNotFound) {
		return failed(models.OutcomeTicketNotFound, msgNotFound), ticketID, nil
	}
	if err != nil {
		return nil, ticketID, err
	}
	// the confirmation code was rotated after the credential was signed
	if !codesMatch(ticket.ConfirmationCode, claims.Code) {
		return failed(models.OutcomeTicketNotFound, msgNotFound), ticketID, nil
	}

	result := &ScanResult{
		Ticket: ticket.Summary(),
		Gig:    s.gig(ctx, ticket.EventID),
	}

	if req.EventID != "" && ticket.EventID != req.EventID {
		result.Outcome = models.OutcomeTicketMismatch
		result.Message = msgMismatch
		return result, ticketID, nil
	}

	switch ticket.Status {
	case models.TicketValid:
		result.Valid = true
		result.Outcome = models.OutcomeValid
		result.Message = admitPrompt(ticket)
	case models.TicketUsed:
		result.Outcome = models.OutcomeAlreadyUsed
		result.Message = s.alreadyUsedMessage(ticket)
	case models.TicketCancelled:
		result.Outcome = models.OutcomeNotAdmittable
		result.Message = msgCancelled
	case models.TicketExpired:
		result.Outcome = models.OutcomeNotAdmittable
		result.Message = msgTicketGone
	default:
		result.Outcome = models.OutcomeNotAdmittable
		result.Message = fmt.Sprintf("Ticket status %q cannot be admitted.", ticket.Status)
	}
	return result, ticketID, nil
}

// Admit performs the single valid to used transition. Exactly one of any
// number of concurrent callers for the same ticket succeeds. There are no
// retries.
func (s *ValidatorService) Admit(ctx context.Context, req AdmitRequest) (*AdmitResult, error) {
	result, err := s.admit(ctx, req)

	attempt := models.ScanAttempt{
		EventID:  req.EventID,
		TicketID: req.TicketID,
		DeviceID: req.DeviceID,
		Action:   actionAdmit,
		Outcome:  models.OutcomeAdmitted,
	}

	var admitErr *AdmitError
	switch {
	case err == nil:
		s.monitor.TrackAdmission(resultAdmitted)
		slog.Info("Ticket admitted", "ticket_id", req.TicketID, "device_id", req.DeviceID)
	case errors.As(err, &admitErr):
		s.monitor.TrackAdmission(string(admitErr.Outcome))
		attempt.Outcome = admitErr.Outcome
		attempt.Message = admitErr.Message
	default:
		s.monitor.TrackAdmission("error")
		slog.Error("Failed to admit ticket", "error", err, "ticket_id", req.TicketID)
		return nil, err
	}

	s.record(ctx, attempt)
	return result, err
}

func (s *ValidatorService) admit(ctx context.Context, req AdmitRequest) (*AdmitResult, error) {
	if req.TicketID == "" {
		return nil, &AdmitError{Err: status.ErrTicketNotFound, Outcome: models.OutcomeTicketNotFound, Message: msgNotFound}
	}

	if req.EventID != "" {
		current, err := s.store.GetTicket(ctx, req.TicketID)
		if errors.Is(err, status.ErrTicketNotFound) {
			return nil, &AdmitError{Err: err, Outcome: models.OutcomeTicketNotFound, Message: msgNotFound}
		}
		if err != nil {
			return nil, err
		}
		if current.EventID != req.EventID {
			return nil, &AdmitError{
				Err:     status.ErrTicketMismatch,
				Outcome: models.OutcomeTicketMismatch,
				Message: msgMismatch,
				Ticket:  current.Summary(),
			}
		}
	}

	ticket, changed, err := s.store.MarkUsed(ctx, req.TicketID, s.now())
	if errors.Is(err, status.ErrTicketNotFound) {
		return nil, &AdmitError{Err: err, Outcome: models.OutcomeTicketNotFound, Message: msgNotFound}
	}
	if err != nil {
		return nil, err
	}

	if !changed {
		if ticket.Status == models.TicketUsed {
			return nil, &AdmitError{
				Err:     status.ErrAlreadyAdmitted,
				Outcome: models.OutcomeAlreadyUsed,
				Message: s.alreadyUsedMessage(ticket),
				Ticket:  ticket.Summary(),
			}
		}
		msg := msgCancelled
		if ticket.Status == models.TicketExpired {
			msg = msgTicketGone
		}
		return nil, &AdmitError{
			Err:     status.ErrNotAdmittable,
			Outcome: models.OutcomeNotAdmittable,
			Message: msg,
			Ticket:  ticket.Summary(),
		}
	}

	s.notifier.TicketAdmitted(ctx, ticket)
	return &AdmitResult{Ticket: ticket.Summary()}, nil
}

func (s *ValidatorService) gig(ctx context.Context, eventID string) *models.Gig {
	if eventID == "" {
		return nil
	}
	event, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		if !errors.Is(err, status.ErrEventNotFound) {
			slog.Warn("Failed to load event for scan result", "error", err, "event_id", eventID)
		}
		return nil
	}
	return &models.Gig{Title: event.Title}
}

func (s *ValidatorService) alreadyUsedMessage(ticket *models.Ticket) string {
	if ticket.UsedAt == nil {
		return "Already admitted."
	}
	return "Already admitted at " + ticket.UsedAt.In(s.loc).Format(clockLayout)
}

func (s *ValidatorService) record(ctx context.Context, attempt models.ScanAttempt) {
	if s.audit == nil {
		return
	}
	attempt.Timestamp = s.now().UTC()
	if err := s.audit.Record(ctx, attempt); err != nil {
		slog.Warn("Failed to record scan attempt", "error", err, "action", attempt.Action, "outcome", attempt.Outcome)
	}
}

func admitPrompt(ticket *models.Ticket) string {
	if ticket.Quantity == 1 {
		return fmt.Sprintf("Admit %s (1 person).", ticket.HolderName)
	}
	return fmt.Sprintf("Admit %s (%d people).", ticket.HolderName, ticket.Quantity)
}

func failed(outcome models.ScanOutcome, message string) *ScanResult {
	return &ScanResult{Outcome: outcome, Message: message}
}
