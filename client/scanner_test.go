package client

import (
	"context"
	"errors"
	"testing"
	"ticket-checkin/models"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScanner struct {
	result   *ScanResult
	admitErr error
	stats    *models.ScanStats

	gotEventID  string
	admitCalls  int
	verifyCalls int
}

func (f *fakeScanner) Verify(_ context.Context, _ string, eventID string) (*ScanResult, error) {
	f.verifyCalls++
	f.gotEventID = eventID
	return f.result, nil
}

func (f *fakeScanner) Admit(_ context.Context, ticketID, eventID string) (*models.TicketSummary, error) {
	f.admitCalls++
	f.gotEventID = eventID
	if f.admitErr != nil {
		return nil, f.admitErr
	}
	return &models.TicketSummary{ID: ticketID, Quantity: 2, Status: models.TicketUsed}, nil
}

func (f *fakeScanner) Stats(context.Context, string) (*models.ScanStats, error) {
	return f.stats, nil
}

func TestScanSession_AdmitUpdatesTallyOptimistically(t *testing.T) {
	api := &fakeScanner{
		result: &ScanResult{Valid: true, Outcome: models.OutcomeValid},
		stats:  &models.ScanStats{EventID: "E1", Valid: 10},
	}
	s := NewScanSession(api, "E1")
	require.NoError(t, s.Resync(context.Background()))

	result, err := s.Scan(context.Background(), "a.b.c")
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, "E1", api.gotEventID)

	_, err = s.Admit(context.Background(), "T1")
	require.NoError(t, err)

	tally := s.Tally()
	assert.Equal(t, 9, tally.Valid)
	assert.Equal(t, 1, tally.Used)
	assert.Equal(t, 2, tally.Admitted)
	assert.Equal(t, 1, tally.Scanned)
	assert.Equal(t, 0, tally.Rejected)
}

func TestScanSession_AdmitIsNotRetried(t *testing.T) {
	api := &fakeScanner{admitErr: errors.New("connection reset")}
	s := NewScanSession(api, "E1")

	_, err := s.Admit(context.Background(), "T1")
	assert.Error(t, err)
	assert.Equal(t, 1, api.admitCalls)
	assert.Equal(t, 0, s.Tally().Used)
}

func TestScanSession_ConflictLeavesTally(t *testing.T) {
	api := &fakeScanner{admitErr: &AdmitConflictError{Outcome: models.OutcomeAlreadyUsed, Message: "Already admitted at 6:30pm"}}
	s := NewScanSession(api, "E1")

	_, err := s.Admit(context.Background(), "T1")
	var conflict *AdmitConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 0, s.Tally().Admitted)
}

func TestScanSession_HardFailurePausesCamera(t *testing.T) {
	now := t0
	api := &fakeScanner{result: &ScanResult{Outcome: models.OutcomeMalformedPayload, RetryAfterMs: 1500}}
	s := NewScanSession(api, "E1")
	s.now = func() time.Time { return now }

	_, err := s.Scan(context.Background(), "garbage")
	require.NoError(t, err)
	assert.False(t, s.Ready())

	_, err = s.Scan(context.Background(), "garbage")
	assert.ErrorIs(t, err, ErrCoolingDown)
	assert.Equal(t, 1, api.verifyCalls)

	now = now.Add(1500 * time.Millisecond)
	assert.True(t, s.Ready())
	assert.Equal(t, 1, s.Tally().Rejected)
}

func TestScanSession_ExpiredCredentialDoesNotPause(t *testing.T) {
	api := &fakeScanner{result: &ScanResult{Outcome: models.OutcomeCredentialExpired}}
	s := NewScanSession(api, "E1")

	_, err := s.Scan(context.Background(), "a.b.c")
	require.NoError(t, err)
	assert.True(t, s.Ready())
}

func TestScanSession_ResyncOverwritesLocalCounters(t *testing.T) {
	api := &fakeScanner{stats: &models.ScanStats{EventID: "E1", Valid: 3, Used: 7, Admitted: 12}}
	s := NewScanSession(api, "E1")

	_, err := s.Admit(context.Background(), "T1")
	require.NoError(t, err)
	require.NoError(t, s.Resync(context.Background()))

	tally := s.Tally()
	assert.Equal(t, 3, tally.Valid)
	assert.Equal(t, 7, tally.Used)
	assert.Equal(t, 12, tally.Admitted)
}
