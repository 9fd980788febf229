package services

import (
	"path/filepath"
	"strings"
	"testing"
	"ticket-checkin/models"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// schema mirrors the columns the events and tickets collections create.
const testSchema = `
CREATE TABLE events (
	id TEXT PRIMARY KEY NOT NULL,
	title TEXT DEFAULT '' NOT NULL,
	venue TEXT DEFAULT '' NOT NULL,
	starts_at TEXT DEFAULT '' NOT NULL,
	created TEXT DEFAULT '' NOT NULL,
	updated TEXT DEFAULT '' NOT NULL
);
CREATE TABLE tickets (
	id TEXT PRIMARY KEY NOT NULL,
	confirmation_code TEXT DEFAULT '' NOT NULL,
	holder_name TEXT DEFAULT '' NOT NULL,
	quantity NUMERIC DEFAULT 0 NOT NULL,
	unit_price TEXT DEFAULT '' NOT NULL,
	total_paid TEXT DEFAULT '' NOT NULL,
	status TEXT DEFAULT '' NOT NULL,
	event TEXT DEFAULT '' NOT NULL,
	used_at TEXT DEFAULT '' NOT NULL,
	created TEXT DEFAULT '' NOT NULL,
	updated TEXT DEFAULT '' NOT NULL
);
CREATE UNIQUE INDEX idx_tickets_confirmation_code ON tickets (confirmation_code);
`

var seedTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *dbx.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "data.db")
	db, err := dbx.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	require.NoError(t, err)
	db.DB().SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	for _, stmt := range strings.Split(testSchema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		_, err = db.NewQuery(stmt).Execute()
		require.NoError(t, err)
	}
	return db
}

func seedEvent(t *testing.T, db *dbx.DB, id, title string) {
	t.Helper()
	_, err := db.Insert("events", dbx.Params{
		"id":        id,
		"title":     title,
		"venue":     "The Jazz Cellar",
		"starts_at": formatDate(seedTime.Add(7 * time.Hour)),
		"created":   formatDate(seedTime),
		"updated":   formatDate(seedTime),
	}).Execute()
	require.NoError(t, err)
}

func seedTicket(t *testing.T, db *dbx.DB, id, code, eventID string, st models.TicketStatus, qty int) {
	t.Helper()

	usedAt := ""
	if st == models.TicketUsed {
		usedAt = formatDate(seedTime.Add(7*time.Hour + 4*time.Minute))
	}

	_, err := db.Insert("tickets", dbx.Params{
		"id":                id,
		"confirmation_code": code,
		"holder_name":       "Ada Lovelace",
		"quantity":          qty,
		"unit_price":        "25.00",
		"total_paid":        "50.00",
		"status":            string(st),
		"event":             eventID,
		"used_at":           usedAt,
		"created":           formatDate(seedTime),
		"updated":           formatDate(seedTime),
	}).Execute()
	require.NoError(t, err)
}
