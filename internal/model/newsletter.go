// internal/model/newsletter.go
package model

import "time"

const (
	NewsletterDraft     = "draft"
	NewsletterScheduled = "scheduled"
	NewsletterSending   = "sending"
	NewsletterSent      = "sent"
	NewsletterFailed    = "failed"
)

// Newsletter is the message handed to a dispatch run. Subject and body are
// sent exactly as stored.
type Newsletter struct {
	ID          int        `db:"id" json:"id"`
	Subject     string     `db:"subject" json:"subject"`
	HTMLBody    string     `db:"html_body" json:"html_body"`
	Status      string     `db:"status" json:"status"`
	ScheduledAt *time.Time `db:"scheduled_at" json:"scheduled_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// Sendable reports whether a dispatch may be started for the newsletter.
// A failed run can be retried, and so can a run left in "sending" by a crashed
// process; the dispatch guard keeps two live runs apart.
func (n *Newsletter) Sendable() bool {
	switch n.Status {
	case NewsletterDraft, NewsletterScheduled, NewsletterSending, NewsletterFailed:
		return true
	}
	return false
}
