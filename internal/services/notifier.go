package services

import (
	"context"
	"fmt"
	"log/slog"
	"ticket-checkin/models"
	"ticket-checkin/utils"
	"time"

	pubnub "github.com/pubnub/go/v7"
)

// Notifier tells other scanner devices and the holder's confirmation view
// that a ticket was admitted.
type Notifier interface {
	TicketAdmitted(ctx context.Context, ticket *models.Ticket)
}

type NopNotifier struct{}

func (NopNotifier) TicketAdmitted(context.Context, *models.Ticket) {}

// publisher is the slice of the pubnub client the notifier uses.
type publisher interface {
	publish(channel string, message map[string]any) error
}

type pubnubPublisher struct {
	pn *pubnub.PubNub
}

func (p pubnubPublisher) publish(channel string, message map[string]any) error {
	_, st, err := p.pn.Publish().
		Channel(channel).
		Message(message).
		Execute()
	if err != nil {
		return err
	}
	if st.Error != nil {
		return st.Error
	}
	return nil
}

type PubNubNotifier struct {
	publisher publisher
	breaker   *utils.CircuitBreaker
	timeout   time.Duration
}

func NewPubNubNotifier(pn *pubnub.PubNub) *PubNubNotifier {
	return newPubNubNotifier(pubnubPublisher{pn: pn})
}

func newPubNubNotifier(p publisher) *PubNubNotifier {
	return &PubNubNotifier{
		publisher: p,
		breaker: utils.NewCircuitBreakerWithSettings("pubnub", utils.BreakerSettings{
			TripAfter: 5,
			Timeout:   30 * time.Second,
		}),
		timeout: 5 * time.Second,
	}
}

func EventChannel(eventID string) string { return "event-" + eventID }

func TicketChannel(ticketID string) string { return "ticket-" + ticketID }

// TicketAdmitted publishes in the background; the admit response never
// waits on pubnub.
func (n *PubNubNotifier) TicketAdmitted(ctx context.Context, ticket *models.Ticket) {
	if ticket == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	go func() {
		defer cancel()
		if err := n.publishAdmitted(ctx, ticket); err != nil {
			slog.Warn("Failed to publish ticket admission", "error", err, "ticket_id", ticket.ID)
		}
	}()
}

func (n *PubNubNotifier) publishAdmitted(ctx context.Context, ticket *models.Ticket) error {
	message := map[string]any{
		"type":      "ticket_admitted",
		"ticket_id": ticket.ID,
		"event_id":  ticket.EventID,
		"quantity":  ticket.Quantity,
		"timestamp": time.Now().Unix(),
	}
	if ticket.UsedAt != nil {
		message["used_at"] = ticket.UsedAt.UTC().Format(models.TimestampLayout)
	}

	channels := []string{TicketChannel(ticket.ID)}
	if ticket.EventID != "" {
		channels = append(channels, EventChannel(ticket.EventID))
	}

	for _, ch := range channels {
		err := n.breaker.Execute(ctx, func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return n.publisher.publish(ch, message)
		})
		if err != nil {
			return fmt.Errorf("publish to %s: %w", ch, err)
		}
	}
	return nil
}
