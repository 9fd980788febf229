package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"ticket-checkin/models"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL + "/", DeviceID: "door-a"})
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestClient_Issue(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/tickets/{ticketId}/credential", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "T1", r.PathValue("ticketId"))
		assert.Equal(t, "CONF-AB12", body["confirmation_code"])

		writeJSON(w, http.StatusOK, map[string]any{
			"qrPayload":      "aaa.bbb.ccc",
			"expiresAt":      "2026-03-01T18:30:30.123Z",
			"refreshAfterMs": 25000,
		})
	})
	c := newTestClient(t, mux)

	cred, err := c.Issue(context.Background(), "T1", "CONF-AB12")
	require.NoError(t, err)
	assert.Equal(t, "aaa.bbb.ccc", cred.QRPayload)
	assert.Equal(t, time.Date(2026, 3, 1, 18, 30, 30, 123_000_000, time.UTC), cred.ExpiresAt.UTC())
	assert.Equal(t, 25*time.Second, cred.RefreshAfter)
}

func TestClient_Issue_Errors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/tickets/USED/credential", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"message":      "Ticket is no longer valid for scanning",
			"ticketStatus": "used",
		})
	})
	mux.HandleFunc("POST /api/v1/tickets/NOPE/credential", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"status": 404, "message": "Ticket not found."})
	})
	c := newTestClient(t, mux)

	_, err := c.Issue(context.Background(), "USED", "X")
	var notValid *TicketNotValidError
	require.ErrorAs(t, err, &notValid)
	assert.Equal(t, models.TicketUsed, notValid.Status)

	_, err = c.Issue(context.Background(), "NOPE", "X")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.NotFound())
	assert.Equal(t, "Ticket not found.", apiErr.Message)
}

func TestClient_Verify(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/scans/verify", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "door-a", r.Header.Get(DeviceHeader))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "E1", body["eventId"])

		writeJSON(w, http.StatusOK, map[string]any{
			"valid":        false,
			"outcome":      "invalid_signature",
			"message":      "This code was not issued for this venue.",
			"retryAfterMs": 1500,
		})
	})
	c := newTestClient(t, mux)

	result, err := c.Verify(context.Background(), "a.b.c", "E1")
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, models.OutcomeInvalidSignature, result.Outcome)
	assert.Equal(t, 1500*time.Millisecond, result.RetryAfter())
}

func TestClient_Verify_RateLimited(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/scans/verify", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "60")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"message": "slow down"})
	})
	c := newTestClient(t, mux)

	_, err := c.Verify(context.Background(), "a.b.c", "")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.RateLimited())
	assert.Equal(t, time.Minute, apiErr.RetryAfter)
}

func TestClient_Admit(t *testing.T) {
	usedAt := time.Date(2026, 3, 1, 19, 4, 0, 0, time.UTC)

	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/tickets/{ticketId}/admit", func(w http.ResponseWriter, r *http.Request) {
		calls++
		ticket := models.TicketSummary{ID: r.PathValue("ticketId"), Quantity: 2, Status: models.TicketUsed, UsedAt: &usedAt}
		if calls == 1 {
			writeJSON(w, http.StatusOK, map[string]any{"ticket": ticket})
			return
		}
		writeJSON(w, http.StatusConflict, map[string]any{
			"message": "Already admitted at 7:04pm",
			"outcome": "already_used",
			"ticket":  ticket,
		})
	})
	c := newTestClient(t, mux)

	ticket, err := c.Admit(context.Background(), "T1", "E1")
	require.NoError(t, err)
	assert.Equal(t, 2, ticket.Quantity)

	_, err = c.Admit(context.Background(), "T1", "E1")
	var conflict *AdmitConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, models.OutcomeAlreadyUsed, conflict.Outcome)
	require.NotNil(t, conflict.Ticket.UsedAt)
	assert.True(t, usedAt.Equal(*conflict.Ticket.UsedAt))
}

func TestClient_StatsAndAttempts(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/events/{eventId}/scan-stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, models.ScanStats{EventID: r.PathValue("eventId"), Valid: 4, Used: 1, Admitted: 2})
	})
	mux.HandleFunc("GET /api/v1/events/{eventId}/scan-attempts", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		writeJSON(w, http.StatusOK, map[string]any{
			"eventId":  r.PathValue("eventId"),
			"attempts": []models.ScanAttempt{{ID: "a1", Action: "verify", Outcome: models.OutcomeValid}},
		})
	})
	c := newTestClient(t, mux)

	stats, err := c.Stats(context.Background(), "E1")
	require.NoError(t, err)
	assert.Equal(t, "E1", stats.EventID)
	assert.Equal(t, 4, stats.Valid)

	attempts, err := c.Attempts(context.Background(), "E1", 10)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, "a1", attempts[0].ID)
}

func TestClient_ServerError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/events/{eventId}/scan-stats", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	c := newTestClient(t, mux)

	_, err := c.Stats(context.Background(), "E1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "boom", apiErr.Message)
}
