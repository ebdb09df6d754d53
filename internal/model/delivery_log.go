// internal/model/delivery_log.go
package model

import "time"

const (
	DeliveryQueued    = "queued"
	DeliverySent      = "sent"
	DeliveryDelivered = "delivered"
	DeliveryBounced   = "bounced"
	DeliveryFailed    = "failed"
)

// DeliveryLogEntry records one send attempt of a newsletter to one recipient.
type DeliveryLogEntry struct {
	ID           int        `db:"id" json:"id"`
	NewsletterID int        `db:"newsletter_id" json:"newsletter_id"`
	CustomerID   int        `db:"id_customer" json:"customer_id"`
	Email        string     `db:"email" json:"email"`
	Status       string     `db:"status" json:"status"`
	MessageID    *string    `db:"message_id" json:"message_id,omitempty"`
	LastError    string     `db:"last_error" json:"last_error,omitempty"`
	Attempts     int        `db:"attempts" json:"attempts"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// IsTerminalDeliveryStatus reports whether a webhook may no longer move an entry.
func IsTerminalDeliveryStatus(status string) bool {
	return status == DeliveryDelivered || status == DeliveryBounced
}
