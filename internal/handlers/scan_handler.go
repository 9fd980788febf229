package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"ticket-checkin/internal/services"
	"ticket-checkin/internal/status"
	"ticket-checkin/models"
	"ticket-checkin/security"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type ScanValidator interface {
	Verify(ctx context.Context, req services.VerifyRequest) (*services.ScanResult, error)
	Admit(ctx context.Context, req services.AdmitRequest) (*services.AdmitResult, error)
}

type StatsReader interface {
	EventStats(ctx context.Context, eventID string) (models.ScanStats, error)
}

type AttemptReader interface {
	Recent(ctx context.Context, eventID string, n int) ([]models.ScanAttempt, error)
}

type ScanHandler struct {
	validator ScanValidator
	stats     StatsReader
	attempts  AttemptReader
}

func NewScanHandler(validator ScanValidator, stats StatsReader, attempts AttemptReader) *ScanHandler {
	return &ScanHandler{
		validator: validator,
		stats:     stats,
		attempts:  attempts,
	}
}

// Verify - protocol failures are 200 responses with valid=false
func (h *ScanHandler) Verify(e *core.RequestEvent) error {
	var req struct {
		Payload string `json:"payload"`
		EventID string `json:"eventId"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	result, err := h.validator.Verify(e.Request.Context(), services.VerifyRequest{
		Payload:  req.Payload,
		EventID:  req.EventID,
		DeviceID: e.Request.Header.Get(security.ScannerDeviceHeader),
	})
	if err != nil {
		return apis.NewInternalServerError("Scan could not be checked, try again", nil)
	}

	return e.JSON(http.StatusOK, result)
}

// Admit - 409 when the ticket was already admitted or cannot be admitted
func (h *ScanHandler) Admit(e *core.RequestEvent) error {
	var req struct {
		EventID string `json:"eventId"`
	}
	if e.Request.ContentLength != 0 {
		if err := e.BindBody(&req); err != nil {
			return apis.NewBadRequestError("Invalid request", err)
		}
	}

	result, err := h.validator.Admit(e.Request.Context(), services.AdmitRequest{
		TicketID: e.Request.PathValue("ticketId"),
		EventID:  req.EventID,
		DeviceID: e.Request.Header.Get(security.ScannerDeviceHeader),
	})
	if err == nil {
		return e.JSON(http.StatusOK, result)
	}

	var admitErr *services.AdmitError
	switch {
	case errors.Is(err, status.ErrTicketNotFound):
		return apis.NewNotFoundError("Ticket not found", nil)
	case errors.As(err, &admitErr):
		return e.JSON(http.StatusConflict, map[string]any{
			"message": admitErr.Message,
			"outcome": admitErr.Outcome,
			"ticket":  admitErr.Ticket,
		})
	default:
		return apis.NewInternalServerError("Ticket could not be admitted, try again", nil)
	}
}

// ScanStats - authoritative counters scanners resync their local tallies from
func (h *ScanHandler) ScanStats(e *core.RequestEvent) error {
	eventID := e.Request.PathValue("eventId")

	stats, err := h.stats.EventStats(e.Request.Context(), eventID)
	if err != nil {
		slog.Error("Failed to load scan stats", "error", err, "event_id", eventID)
		return apis.NewInternalServerError("Failed to load scan stats", nil)
	}

	return e.JSON(http.StatusOK, stats)
}

func (h *ScanHandler) ScanAttempts(e *core.RequestEvent) error {
	eventID := e.Request.PathValue("eventId")

	limit := 50
	if raw := e.Request.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return apis.NewBadRequestError("limit must be a positive integer", nil)
		}
		limit = n
	}

	attempts, err := h.attempts.Recent(e.Request.Context(), eventID, limit)
	if err != nil {
		slog.Error("Failed to load scan attempts", "error", err, "event_id", eventID)
		return apis.NewInternalServerError("Failed to load scan attempts", nil)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"eventId":  eventID,
		"attempts": attempts,
	})
}
