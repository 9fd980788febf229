package main

import (
	"log"
	"ticket-checkin/cmd"

	_ "ticket-checkin/migrations"
)

func main() {
	if err := cmd.Start(); err != nil {
		log.Fatal(err)
	}
}
