// internal/model/bounce.go
package model

import "time"

// EventType is the normalized vocabulary the subscription policy understands.
type EventType string

const (
	EventHardBounce    EventType = "hard"
	EventSoftBounce    EventType = "soft"
	EventSpamComplaint EventType = "spam-complaint"
	EventTransient     EventType = "transient"
	EventDelivery      EventType = "delivery"
)

// IsBounce reports whether the event belongs in the bounce ledger.
func (t EventType) IsBounce() bool {
	switch t {
	case EventHardBounce, EventSoftBounce, EventSpamComplaint, EventTransient:
		return true
	}
	return false
}

// BounceEvent is one validated provider event.
type BounceEvent struct {
	Email      string    `json:"email"`
	Type       EventType `json:"type"`
	MessageID  string    `json:"message_id"`
	OccurredAt time.Time `json:"occurred_at"`
	// ProviderType is the provider's own label, e.g. "HardBounce", kept for logs.
	ProviderType string `json:"provider_type,omitempty"`
}

// DedupeKey identifies an event across provider redeliveries.
func (e BounceEvent) DedupeKey() string {
	return e.MessageID + "|" + string(e.Type)
}

// BounceRecord is the ledger row for one address.
type BounceRecord struct {
	Email           string    `db:"email" json:"email"`
	Classification  EventType `db:"bounce_type" json:"bounce_type"`
	SoftBounceCount int       `db:"soft_bounce_count" json:"soft_bounce_count"`
	Unsubscribed    bool      `db:"unsubscribed" json:"unsubscribed"`
	LastEventAt     time.Time `db:"last_event_at" json:"last_event_at"`
	LastMessageID   string    `db:"last_message_id" json:"last_message_id"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// LedgerStats aggregates the bounce ledger.
type LedgerStats struct {
	TotalBouncedAddresses int `json:"total_bounced_addresses"`
	TotalAutoUnsubscribed int `json:"total_auto_unsubscribed"`
}
