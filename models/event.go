package models

import (
	"time"
)

type Event struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Venue    string    `json:"venue"`
	StartsAt time.Time `json:"starts_at"`
}

// Gig is the event context shown next to a scanned ticket.
type Gig struct {
	Title string `json:"title"`
}
