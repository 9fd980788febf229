package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"ticket-checkin/internal/services"
	"ticket-checkin/internal/status"
	"ticket-checkin/models"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/skip2/go-qrcode"
)

type CredentialIssuer interface {
	Issue(ctx context.Context, ticketID, confirmationCode string) (*services.IssuedCredential, error)
}

type CredentialHandler struct {
	issuer CredentialIssuer
}

func NewCredentialHandler(issuer CredentialIssuer) *CredentialHandler {
	return &CredentialHandler{issuer: issuer}
}

type credentialResponse struct {
	QRPayload      string `json:"qrPayload"`
	ExpiresAt      string `json:"expiresAt"`
	RefreshAfterMs int64  `json:"refreshAfterMs"`
}

// IssueCredential - POST with {"confirmation_code"} or GET with ?code=
func (h *CredentialHandler) IssueCredential(e *core.RequestEvent) error {
	ticketID := e.Request.PathValue("ticketId")

	code, err := confirmationCode(e)
	if err != nil {
		return err
	}

	issued, err := h.issuer.Issue(e.Request.Context(), ticketID, code)
	if err != nil {
		return issueError(e, ticketID, err)
	}

	e.Response.Header().Set("Cache-Control", "no-store")
	return e.JSON(http.StatusOK, credentialResponse{
		QRPayload:      issued.QRPayload,
		ExpiresAt:      issued.ExpiresAt.UTC().Format(models.TimestampLayout),
		RefreshAfterMs: issued.RefreshAfter.Milliseconds(),
	})
}

// CredentialImage renders a fresh credential as a PNG QR code.
func (h *CredentialHandler) CredentialImage(e *core.RequestEvent) error {
	ticketID := e.Request.PathValue("ticketId")
	code := e.Request.URL.Query().Get("code")
	if strings.TrimSpace(code) == "" {
		return apis.NewBadRequestError("Missing confirmation code", nil)
	}

	issued, err := h.issuer.Issue(e.Request.Context(), ticketID, code)
	if err != nil {
		return issueError(e, ticketID, err)
	}

	png, err := qrcode.Encode(issued.QRPayload, qrcode.Medium, 320)
	if err != nil {
		slog.Error("Failed to encode QR image", "error", err, "ticket_id", ticketID)
		return apis.NewInternalServerError("Failed to render code", nil)
	}

	e.Response.Header().Set("Cache-Control", "no-store")
	e.Response.Header().Set("X-Credential-Expires-At", issued.ExpiresAt.UTC().Format(models.TimestampLayout))
	return e.Blob(http.StatusOK, "image/png", png)
}

func confirmationCode(e *core.RequestEvent) (string, error) {
	if e.Request.Method == http.MethodGet {
		code := e.Request.URL.Query().Get("code")
		if strings.TrimSpace(code) == "" {
			return "", apis.NewBadRequestError("Missing confirmation code", nil)
		}
		return code, nil
	}

	var req struct {
		ConfirmationCode string `json:"confirmation_code"`
	}
	if err := e.BindBody(&req); err != nil {
		return "", apis.NewBadRequestError("Invalid request", err)
	}
	if strings.TrimSpace(req.ConfirmationCode) == "" {
		return "", apis.NewBadRequestError("Missing confirmation code", nil)
	}
	return req.ConfirmationCode, nil
}

func issueError(e *core.RequestEvent, ticketID string, err error) error {
	var stateErr *services.TicketStateError
	switch {
	case errors.Is(err, status.ErrTicketNotFound):
		return apis.NewNotFoundError("Ticket not found", nil)
	case errors.As(err, &stateErr):
		return e.JSON(http.StatusUnprocessableEntity, map[string]any{
			"message":      "Ticket is no longer valid for scanning",
			"ticketStatus": stateErr.Status,
		})
	default:
		slog.Error("Failed to issue credential", "error", err, "ticket_id", ticketID)
		return apis.NewInternalServerError("Failed to issue credential", nil)
	}
}
