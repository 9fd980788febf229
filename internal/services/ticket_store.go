package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"ticket-checkin/internal/status"
	"ticket-checkin/models"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/tools/types"
	"github.com/shopspring/decimal"
)

// TicketStore is the persisted ticket state shared by the issuer and the validator.
type TicketStore interface {
	GetTicket(ctx context.Context, id string) (*models.Ticket, error)
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	// MarkUsed moves a valid ticket to used in one conditional write. It
	// returns the row as it stands afterwards and whether this call made
	// the transition.
	MarkUsed(ctx context.Context, id string, at time.Time) (*models.Ticket, bool, error)
	EventStats(ctx context.Context, eventID string) (models.ScanStats, error)
}

type DBTicketStore struct {
	db dbx.Builder
}

func NewDBTicketStore(db dbx.Builder) *DBTicketStore {
	return &DBTicketStore{db: db}
}

type ticketRow struct {
	ID               string `db:"id"`
	ConfirmationCode string `db:"confirmation_code"`
	HolderName       string `db:"holder_name"`
	Quantity         int    `db:"quantity"`
	UnitPrice        string `db:"unit_price"`
	TotalPaid        string `db:"total_paid"`
	Status           string `db:"status"`
	Event            string `db:"event"`
	UsedAt           string `db:"used_at"`
	Created          string `db:"created"`
	Updated          string `db:"updated"`
}

type eventRow struct {
	ID       string `db:"id"`
	Title    string `db:"title"`
	Venue    string `db:"venue"`
	StartsAt string `db:"starts_at"`
}

const selectTicket = `SELECT id, confirmation_code, holder_name, quantity, unit_price, total_paid,
	status, event, used_at, created, updated FROM tickets WHERE id = {:id} LIMIT 1`

func (s *DBTicketStore) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	var row ticketRow
	err := s.db.NewQuery(selectTicket).
		Bind(dbx.Params{"id": id}).
		WithContext(ctx).
		One(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, status.ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load ticket %s: %w", id, err)
	}
	return row.toModel()
}

func (s *DBTicketStore) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var row eventRow
	err := s.db.NewQuery("SELECT id, title, venue, starts_at FROM events WHERE id = {:id} LIMIT 1").
		Bind(dbx.Params{"id": id}).
		WithContext(ctx).
		One(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, status.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load event %s: %w", id, err)
	}

	startsAt, err := parseDate(row.StartsAt)
	if err != nil {
		return nil, fmt.Errorf("event %s starts_at: %w", id, err)
	}
	return &models.Event{ID: row.ID, Title: row.Title, Venue: row.Venue, StartsAt: startsAt}, nil
}

func (s *DBTicketStore) MarkUsed(ctx context.Context, id string, at time.Time) (*models.Ticket, bool, error) {
	stamp := formatDate(at)

	res, err := s.db.NewQuery(`UPDATE tickets
		SET status = {:used}, used_at = {:at}, updated = {:at}
		WHERE id = {:id} AND status = {:valid}`).
		Bind(dbx.Params{
			"id":    id,
			"at":    stamp,
			"used":  string(models.TicketUsed),
			"valid": string(models.TicketValid),
		}).
		WithContext(ctx).
		Execute()
	if err != nil {
		return nil, false, fmt.Errorf("mark ticket %s used: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("mark ticket %s used: %w", id, err)
	}

	ticket, err := s.GetTicket(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return ticket, affected == 1, nil
}

func (s *DBTicketStore) EventStats(ctx context.Context, eventID string) (models.ScanStats, error) {
	stats := models.ScanStats{EventID: eventID}

	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"n"`
		Heads  int    `db:"heads"`
	}
	err := s.db.NewQuery(`SELECT status, COUNT(*) AS n, COALESCE(SUM(quantity), 0) AS heads
		FROM tickets WHERE event = {:event} GROUP BY status`).
		Bind(dbx.Params{"event": eventID}).
		WithContext(ctx).
		All(&rows)
	if err != nil {
		return stats, fmt.Errorf("scan stats for event %s: %w", eventID, err)
	}

	for _, r := range rows {
		switch models.TicketStatus(r.Status) {
		case models.TicketValid:
			stats.Valid = r.Count
		case models.TicketUsed:
			stats.Used = r.Count
			stats.Admitted = r.Heads
		case models.TicketCancelled:
			stats.Cancelled = r.Count
		case models.TicketExpired:
			stats.Expired = r.Count
		}
	}
	return stats, nil
}

func (r *ticketRow) toModel() (*models.Ticket, error) {
	t := &models.Ticket{
		ID:               r.ID,
		ConfirmationCode: r.ConfirmationCode,
		HolderName:       r.HolderName,
		Quantity:         r.Quantity,
		Status:           models.TicketStatus(r.Status),
		EventID:          r.Event,
	}

	var err error
	if t.UnitPrice, err = parseMoney(r.UnitPrice); err != nil {
		return nil, fmt.Errorf("ticket %s unit_price: %w", r.ID, err)
	}
	if t.TotalPaid, err = parseMoney(r.TotalPaid); err != nil {
		return nil, fmt.Errorf("ticket %s total_paid: %w", r.ID, err)
	}
	if t.CreatedAt, err = parseDate(r.Created); err != nil {
		return nil, fmt.Errorf("ticket %s created: %w", r.ID, err)
	}
	if t.UpdatedAt, err = parseDate(r.Updated); err != nil {
		return nil, fmt.Errorf("ticket %s updated: %w", r.ID, err)
	}

	usedAt, err := parseDate(r.UsedAt)
	if err != nil {
		return nil, fmt.Errorf("ticket %s used_at: %w", r.ID, err)
	}
	if !usedAt.IsZero() {
		t.UsedAt = &usedAt
	}
	return t, nil
}

func parseMoney(v string) (decimal.Decimal, error) {
	if v == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(v)
}

func parseDate(v string) (time.Time, error) {
	dt, err := types.ParseDateTime(v)
	if err != nil {
		return time.Time{}, err
	}
	return dt.Time(), nil
}

func formatDate(t time.Time) string {
	return t.UTC().Format(types.DefaultDateLayout)
}
