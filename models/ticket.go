package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TimestampLayout is RFC 3339 with millisecond precision, used on the wire.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

type TicketStatus string

const (
	TicketValid     TicketStatus = "valid"
	TicketUsed      TicketStatus = "used"
	TicketCancelled TicketStatus = "cancelled"
	TicketExpired   TicketStatus = "expired"
)

// IsTerminal reports whether scanning can no longer move the ticket.
func (s TicketStatus) IsTerminal() bool {
	return s != TicketValid
}

func (s TicketStatus) Known() bool {
	switch s {
	case TicketValid, TicketUsed, TicketCancelled, TicketExpired:
		return true
	}
	return false
}

type Ticket struct {
	ID               string          `json:"id"`
	ConfirmationCode string          `json:"confirmation_code"`
	HolderName       string          `json:"holder_name"`
	Quantity         int             `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	TotalPaid        decimal.Decimal `json:"total_paid"`
	Status           TicketStatus    `json:"status"` // valid, used, cancelled, expired
	EventID          string          `json:"event_id"`
	UsedAt           *time.Time      `json:"used_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// TicketSummary is the operator-facing view returned by scan endpoints.
type TicketSummary struct {
	ID               string       `json:"id"`
	ConfirmationCode string       `json:"confirmationCode"`
	HolderName       string       `json:"holderName"`
	Quantity         int          `json:"quantity"`
	Status           TicketStatus `json:"status"`
	UsedAt           *time.Time   `json:"usedAt,omitempty"`
}

func (t *Ticket) Summary() *TicketSummary {
	if t == nil {
		return nil
	}
	return &TicketSummary{
		ID:               t.ID,
		ConfirmationCode: t.ConfirmationCode,
		HolderName:       t.HolderName,
		Quantity:         t.Quantity,
		Status:           t.Status,
		UsedAt:           t.UsedAt,
	}
}

// ScanStats are the authoritative per-event counters scanners resync from.
type ScanStats struct {
	EventID   string `json:"eventId"`
	Valid     int    `json:"valid"`
	Used      int    `json:"used"`
	Cancelled int    `json:"cancelled"`
	Expired   int    `json:"expired"`
	Admitted  int    `json:"admitted"` // headcount: sum of quantity over used tickets
}
