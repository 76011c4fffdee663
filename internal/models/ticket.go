package models

import (
	"errors"
	"time"
)

// TransportTicket represents a courier pickup recorded against a cauldron.
// Tickets are independent of drain intervals; they are only temporally
// correlated with the level series for display.
type TransportTicket struct {
	TicketID        string    `json:"ticket_id"`
	CauldronID      string    `json:"cauldron_id"`
	CourierID       string    `json:"courier_id"`
	Date            time.Time `json:"date"`
	AmountCollected float64   `json:"amount_collected"` // liters
}

// Validate checks that all ticket fields are valid.
func (t *TransportTicket) Validate() error {
	if t.TicketID == "" {
		return errors.New("ticket ID must not be empty")
	}
	if t.CauldronID == "" {
		return errors.New("cauldron ID must not be empty")
	}
	if t.Date.IsZero() {
		return errors.New("date must not be zero")
	}
	if t.AmountCollected < 0 {
		return errors.New("amount collected must not be negative")
	}
	return nil
}
