package cmd

import (
	"fmt"
	"io"
	"ticket-checkin/utils"
	"time"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

const seedUnitPrice = "25.00"

// newSeedCommand creates a demo event with a batch of valid tickets and
// prints the ticket ids with their confirmation codes.
func newSeedCommand(app core.App) *cobra.Command {
	var (
		title string
		count int
	)

	command := &cobra.Command{
		Use:          "seed",
		Short:        "Creates a demo event with valid tickets for scanner testing",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.RunAllMigrations(); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
			return seed(app, cmd.OutOrStdout(), title, count)
		},
	}
	command.Flags().StringVar(&title, "title", "Friday Night Jazz", "event title")
	command.Flags().IntVar(&count, "tickets", 5, "number of tickets to create")

	return command
}

func seed(app core.App, out io.Writer, title string, count int) error {
	if count <= 0 {
		return fmt.Errorf("tickets must be positive, got %d", count)
	}

	events, err := app.FindCollectionByNameOrId("events")
	if err != nil {
		return err
	}
	tickets, err := app.FindCollectionByNameOrId("tickets")
	if err != nil {
		return err
	}

	startsAt, err := types.ParseDateTime(time.Now().Add(24 * time.Hour))
	if err != nil {
		return err
	}

	event := core.NewRecord(events)
	event.Set("title", title)
	event.Set("venue", "Main Hall")
	event.Set("starts_at", startsAt)
	if err := app.Save(event); err != nil {
		return fmt.Errorf("save event: %w", err)
	}
	fmt.Fprintf(out, "event %s %q\n", event.Id, title)

	price := decimal.RequireFromString(seedUnitPrice)
	for i := 0; i < count; i++ {
		code, err := utils.GenerateConfirmationCode(2)
		if err != nil {
			return err
		}

		quantity := i%3 + 1
		ticket := core.NewRecord(tickets)
		ticket.Set("confirmation_code", code)
		ticket.Set("holder_name", fmt.Sprintf("Guest %d", i+1))
		ticket.Set("quantity", quantity)
		ticket.Set("unit_price", price.StringFixed(2))
		ticket.Set("total_paid", price.Mul(decimal.NewFromInt(int64(quantity))).StringFixed(2))
		ticket.Set("status", "valid")
		ticket.Set("event", event.Id)
		if err := app.Save(ticket); err != nil {
			return fmt.Errorf("save ticket: %w", err)
		}

		fmt.Fprintf(out, "ticket %s %s x%d\n", ticket.Id, code, quantity)
	}

	return nil
}
