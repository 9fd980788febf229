// Package client is the Go harness for the check-in API: a typed HTTP client,
// the credential refresh loop behind a ticket view and the scanner session
// behind an operator view.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"ticket-checkin/models"
	"time"
)

const (
	// DeviceHeader identifies a scanner device to the server.
	DeviceHeader = "X-Scanner-Device"

	maxResponseBytes = 1 << 20
)

type Config struct {
	// BaseURL is the server root, e.g. "http://localhost:8090".
	BaseURL string
	// DeviceID is sent on scanner requests. Optional.
	DeviceID string
	// HTTPClient defaults to a client with a 10 second timeout.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Client struct {
	baseURL  string
	deviceID string
	hc       *http.Client
	logger   *slog.Logger
}

func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("checkin: BaseURL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("checkin: invalid BaseURL %q: %w", cfg.BaseURL, err)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		deviceID: cfg.DeviceID,
		hc:       hc,
		logger:   logger,
	}, nil
}

// Credential is a freshly issued scan credential.
type Credential struct {
	QRPayload    string
	ExpiresAt    time.Time
	RefreshAfter time.Duration
}

type ScanResult struct {
	Valid        bool                  `json:"valid"`
	Outcome      models.ScanOutcome    `json:"outcome"`
	Message      string                `json:"message"`
	Ticket       *models.TicketSummary `json:"ticket"`
	Gig          *models.Gig           `json:"gig"`
	RetryAfterMs int64                 `json:"retryAfterMs"`
}

// RetryAfter is how long the camera should stay paused.
func (r *ScanResult) RetryAfter() time.Duration {
	return time.Duration(r.RetryAfterMs) * time.Millisecond
}

// Issue requests a new credential for ticketID.
func (c *Client) Issue(ctx context.Context, ticketID, confirmationCode string) (*Credential, error) {
	var reply struct {
		QRPayload      string `json:"qrPayload"`
		ExpiresAt      string `json:"expiresAt"`
		RefreshAfterMs int64  `json:"refreshAfterMs"`
	}
	path := "/api/v1/tickets/" + url.PathEscape(ticketID) + "/credential"
	body := map[string]string{"confirmation_code": confirmationCode}
	if err := c.do(ctx, http.MethodPost, path, nil, body, &reply); err != nil {
		return nil, err
	}

	expiresAt, err := time.Parse(time.RFC3339, reply.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("checkin: bad expiresAt %q: %w", reply.ExpiresAt, err)
	}
	return &Credential{
		QRPayload:    reply.QRPayload,
		ExpiresAt:    expiresAt,
		RefreshAfter: time.Duration(reply.RefreshAfterMs) * time.Millisecond,
	}, nil
}

// Verify checks a scanned payload. Protocol failures come back as a result
// with Valid false, not as an error.
func (c *Client) Verify(ctx context.Context, payload, eventID string) (*ScanResult, error) {
	body := map[string]string{"payload": payload}
	if eventID != "" {
		body["eventId"] = eventID
	}

	var result ScanResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/scans/verify", nil, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Admit marks the ticket used. It is never retried: a lost response is
// resolved by rescanning, which reports the ticket as already admitted.
func (c *Client) Admit(ctx context.Context, ticketID, eventID string) (*models.TicketSummary, error) {
	var body any
	if eventID != "" {
		body = map[string]string{"eventId": eventID}
	}

	var reply struct {
		Ticket *models.TicketSummary `json:"ticket"`
	}
	path := "/api/v1/tickets/" + url.PathEscape(ticketID) + "/admit"
	if err := c.do(ctx, http.MethodPost, path, nil, body, &reply); err != nil {
		return nil, err
	}
	return reply.Ticket, nil
}

func (c *Client) Stats(ctx context.Context, eventID string) (*models.ScanStats, error) {
	var stats models.ScanStats
	path := "/api/v1/events/" + url.PathEscape(eventID) + "/scan-stats"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *Client) Attempts(ctx context.Context, eventID string, limit int) ([]models.ScanAttempt, error) {
	var query url.Values
	if limit > 0 {
		query = url.Values{"limit": {strconv.Itoa(limit)}}
	}

	var reply struct {
		Attempts []models.ScanAttempt `json:"attempts"`
	}
	path := "/api/v1/events/" + url.PathEscape(eventID) + "/scan-attempts"
	if err := c.do(ctx, http.MethodGet, path, query, nil, &reply); err != nil {
		return nil, err
	}
	return reply.Attempts, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("checkin: encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return fmt.Errorf("checkin: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.deviceID != "" {
		req.Header.Set(DeviceHeader, c.deviceID)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("checkin: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("checkin: read response: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("checkin: decode %s %s: %w", method, path, err)
		}
		return nil
	}

	c.logger.Debug("check-in request failed", "method", method, "path", path, "status", resp.StatusCode)
	return decodeError(resp, raw)
}

func decodeError(resp *http.Response, raw []byte) error {
	switch resp.StatusCode {
	case http.StatusConflict:
		var conflict AdmitConflictError
		if err := json.Unmarshal(raw, &conflict); err == nil && conflict.Outcome != "" {
			return &conflict
		}
	case http.StatusUnprocessableEntity:
		var notValid TicketNotValidError
		if err := json.Unmarshal(raw, &notValid); err == nil && notValid.Status != "" {
			return &notValid
		}
	}

	apiErr := &APIError{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
		apiErr.RetryAfter = time.Duration(secs) * time.Second
	}
	return apiErr
}
