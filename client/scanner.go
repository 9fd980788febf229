package client

import (
	"context"
	"errors"
	"sync"
	"ticket-checkin/models"
	"time"
)

var ErrCoolingDown = errors.New("checkin: scanner is cooling down after a failed read")

// ScannerAPI is satisfied by *Client.
type ScannerAPI interface {
	Verify(ctx context.Context, payload, eventID string) (*ScanResult, error)
	Admit(ctx context.Context, ticketID, eventID string) (*models.TicketSummary, error)
	Stats(ctx context.Context, eventID string) (*models.ScanStats, error)
}

// Tally is the operator's view of the door. Ticket counters are derived
// locally between resyncs; Scanned and Rejected are local only.
type Tally struct {
	models.ScanStats
	Scanned  int
	Rejected int
}

// ScanSession is the state behind one operator scanning view.
type ScanSession struct {
	api     ScannerAPI
	eventID string
	now     func() time.Time

	mu          sync.Mutex
	tally       Tally
	pausedUntil time.Time
}

func NewScanSession(api ScannerAPI, eventID string) *ScanSession {
	return &ScanSession{
		api:     api,
		eventID: eventID,
		now:     time.Now,
		tally:   Tally{ScanStats: models.ScanStats{EventID: eventID}},
	}
}

// Ready reports whether the camera may read the next code.
func (s *ScanSession) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.now().Before(s.pausedUntil)
}

// Scan verifies a payload read by the camera. Hard failures pause the
// camera for the result's RetryAfter.
func (s *ScanSession) Scan(ctx context.Context, payload string) (*ScanResult, error) {
	if !s.Ready() {
		return nil, ErrCoolingDown
	}

	result, err := s.api.Verify(ctx, payload, s.eventID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tally.Scanned++
	if !result.Valid {
		s.tally.Rejected++
	}
	if wait := result.RetryAfter(); wait > 0 {
		s.pausedUntil = s.now().Add(wait)
	}
	return result, nil
}

// Admit admits a verified ticket. It is not retried; on a transport error
// the operator rescans, which reports the ticket's current state.
func (s *ScanSession) Admit(ctx context.Context, ticketID string) (*models.TicketSummary, error) {
	ticket, err := s.api.Admit(ctx, ticketID, s.eventID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tally.Valid > 0 {
		s.tally.Valid--
	}
	s.tally.Used++
	if ticket != nil {
		s.tally.Admitted += ticket.Quantity
	}
	return ticket, nil
}

// Resync replaces the ticket counters with the server's.
func (s *ScanSession) Resync(ctx context.Context) error {
	stats, err := s.api.Stats(ctx, s.eventID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tally.ScanStats = *stats
	return nil
}

func (s *ScanSession) Tally() Tally {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tally
}
