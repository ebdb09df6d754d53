// Package policy decides how a bounce event changes a recipient's
// subscription state. It performs no I/O and never fails.
package policy

import "github.com/unclebandit/newsletter-service/internal/model"

// Config is the slice of the newsletter settings the policy reads.
type Config struct {
	AutoUnsubscribeHard bool
	AutoUnsubscribeSoft bool
	SoftBounceThreshold int
}

// FromSettings extracts the policy inputs from a settings snapshot.
func FromSettings(s model.Settings) Config {
	return Config{
		AutoUnsubscribeHard: s.AutoUnsubscribeHard,
		AutoUnsubscribeSoft: s.AutoUnsubscribeSoft,
		SoftBounceThreshold: s.SoftBounceThreshold,
	}
}

// Decision is the outcome of Decide.
type Decision struct {
	NewSoftCount      int
	ShouldUnsubscribe bool
	Classification    model.EventType
}

var severity = map[model.EventType]int{
	model.EventTransient:     1,
	model.EventSoftBounce:    2,
	model.EventHardBounce:    3,
	model.EventSpamComplaint: 3,
}

// Decide applies the unsubscribe rules to current (nil when the address has
// no ledger row yet) for an event of type eventType.
//
// Hard bounces and spam complaints unsubscribe when AutoUnsubscribeHard is
// set. Soft bounces increment the count and unsubscribe once the count
// reaches the threshold, which is clamped to at least 1. Transient bounces
// and deliveries change nothing. An unsubscribed address stays unsubscribed.
func Decide(current *model.BounceRecord, eventType model.EventType, cfg Config) Decision {
	d := Decision{Classification: eventType}
	if current != nil {
		d.NewSoftCount = current.SoftBounceCount
		d.ShouldUnsubscribe = current.Unsubscribed
		d.Classification = strongest(current.Classification, eventType)
	}

	switch eventType {
	case model.EventHardBounce, model.EventSpamComplaint:
		if cfg.AutoUnsubscribeHard {
			d.ShouldUnsubscribe = true
		}
	case model.EventSoftBounce:
		d.NewSoftCount++
		threshold := cfg.SoftBounceThreshold
		if threshold < 1 {
			threshold = 1
		}
		if cfg.AutoUnsubscribeSoft && d.NewSoftCount >= threshold {
			d.ShouldUnsubscribe = true
		}
	}

	return d
}

// strongest keeps the most severe classification seen for an address, so a
// later transient bounce does not hide an earlier hard bounce.
func strongest(prev, next model.EventType) model.EventType {
	if !next.IsBounce() {
		return prev
	}
	if severity[next] >= severity[prev] {
		return next
	}
	return prev
}
