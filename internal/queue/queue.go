// Package queue carries dispatch triggers between processes over RabbitMQ.
// A trigger only names a newsletter; the worker that consumes it runs the
// dispatch through the same guard as an HTTP request, so a trigger that
// arrives while another run is live is acknowledged and dropped.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/newsletter-service/internal/errors"
	"github.com/unclebandit/newsletter-service/internal/logger"
)

// Trigger asks a worker to dispatch one newsletter.
type Trigger struct {
	NewsletterID int       `json:"newsletter_id"`
	Source       string    `json:"source,omitempty"`
	RequestedAt  time.Time `json:"requested_at"`
}

// Publisher enqueues dispatch triggers.
type Publisher interface {
	Publish(ctx context.Context, t Trigger) error
}

// Handler runs one trigger.
type Handler func(ctx context.Context, t Trigger) error

// Action is what the consumer does with a delivery once it has been handled.
type Action int

const (
	Ack Action = iota
	Requeue
	Drop
)

func (a Action) String() string {
	switch a {
	case Ack:
		return "ack"
	case Requeue:
		return "requeue"
	default:
		return "drop"
	}
}

// Decide maps a handler result to an Action. A busy guard is acknowledged:
// the run it collided with is already sending. Errors the trigger cannot
// recover from by itself are dropped. Anything else is requeued once.
func Decide(err error, redelivered bool) Action {
	switch {
	case err == nil:
		return Ack
	case errors.Is(err, appErrors.ErrDispatchBusy):
		return Ack
	case appErrors.IsNotFound(err), appErrors.IsValidation(err), appErrors.IsConfiguration(err):
		return Drop
	case redelivered:
		return Drop
	}
	return Requeue
}

// Process decodes body and runs handle on it.
func Process(ctx context.Context, body []byte, redelivered bool, handle Handler) Action {
	var t Trigger
	if err := json.Unmarshal(body, &t); err != nil || t.NewsletterID <= 0 {
		logger.L().Warn("discarding malformed dispatch trigger",
			zap.ByteString("body", body), zap.Error(err))
		return Drop
	}

	err := handle(ctx, t)
	action := Decide(err, redelivered)

	fields := []zap.Field{
		zap.Int("newsletter_id", t.NewsletterID),
		zap.String("source", t.Source),
		zap.Stringer("action", action),
	}
	switch {
	case err == nil:
		logger.L().Info("dispatch trigger handled", fields...)
	case errors.Is(err, appErrors.ErrDispatchBusy):
		logger.L().Info("dispatch already running, trigger dropped", fields...)
	default:
		logger.L().Error("dispatch trigger failed", append(fields, zap.Error(err))...)
	}
	return action
}
