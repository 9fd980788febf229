package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultRefreshAfter is used when the server does not send refreshAfterMs.
const DefaultRefreshAfter = 25 * time.Second

var ErrAlreadyRunning = errors.New("checkin: refresher already running")

// CredentialIssuer is satisfied by *Client.
type CredentialIssuer interface {
	Issue(ctx context.Context, ticketID, confirmationCode string) (*Credential, error)
}

// Frame is what a ticket view draws on one tick.
type Frame struct {
	// Payload is empty once the last good credential has expired.
	Payload   string
	ExpiresAt time.Time
	Remaining time.Duration
	Expired   bool
	// Err is the last refresh error, kept until a refresh succeeds.
	Err error
	// Stopped is set when the server reports the ticket is no longer valid.
	Stopped bool
}

// Refresher keeps one ticket view supplied with a live credential. Each
// mounted view owns exactly one Refresher and calls Run once.
type Refresher struct {
	issuer   CredentialIssuer
	ticketID string
	code     string
	interval time.Duration
	now      func() time.Time

	running atomic.Bool

	mu    sync.Mutex
	state refreshState
}

func NewRefresher(issuer CredentialIssuer, ticketID, confirmationCode string) *Refresher {
	return &Refresher{
		issuer:   issuer,
		ticketID: ticketID,
		code:     confirmationCode,
		interval: time.Second,
		now:      time.Now,
	}
}

// Run drives the view until ctx is cancelled or the ticket stops being
// valid. It draws a frame immediately and then once per tick. The ticker is
// released when Run returns.
func (r *Refresher) Run(ctx context.Context, onFrame func(Frame)) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer r.running.Store(false)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		frame := r.tick(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		onFrame(frame)
		if frame.Stopped {
			return frame.Err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Current returns the frame for the present moment without refreshing.
func (r *Refresher) Current() Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	frame, _ := r.state.step(r.now())
	return frame
}

func (r *Refresher) tick(ctx context.Context) Frame {
	r.mu.Lock()
	frame, due := r.state.step(r.now())
	r.mu.Unlock()
	if !due {
		return frame
	}

	cred, err := r.issuer.Issue(ctx, r.ticketID, r.code)
	if ctx.Err() != nil {
		return frame
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.apply(cred, err, r.now())
	frame, _ = r.state.step(r.now())
	return frame
}

type refreshState struct {
	cred     *Credential
	issuedAt time.Time // local receive time of cred
	lastErr  error
	stopped  bool
}

// step reports the frame to draw at now and whether a refresh is due.
func (s *refreshState) step(now time.Time) (Frame, bool) {
	frame := Frame{Err: s.lastErr, Stopped: s.stopped}

	if s.cred == nil {
		frame.Expired = s.lastErr != nil
		return frame, !s.stopped
	}

	frame.ExpiresAt = s.cred.ExpiresAt
	if now.Before(s.cred.ExpiresAt) {
		frame.Payload = s.cred.QRPayload
		frame.Remaining = s.cred.ExpiresAt.Sub(now)
	} else {
		frame.Expired = true
	}
	if s.stopped {
		frame.Payload = ""
		frame.Remaining = 0
		return frame, false
	}

	refreshAfter := s.cred.RefreshAfter
	if refreshAfter <= 0 {
		refreshAfter = DefaultRefreshAfter
	}
	due := !now.Before(s.issuedAt.Add(refreshAfter))
	// a failed refresh is retried on every tick
	if s.lastErr != nil {
		due = true
	}
	return frame, due
}

func (s *refreshState) apply(cred *Credential, err error, now time.Time) {
	if err != nil {
		s.lastErr = err
		var notValid *TicketNotValidError
		if errors.As(err, &notValid) {
			s.stopped = true
		}
		return
	}
	s.cred = cred
	s.issuedAt = now
	s.lastErr = nil
}
