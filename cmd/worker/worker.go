package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/unclebandit/newsletter-service/internal/logger"
	"github.com/unclebandit/newsletter-service/internal/queue"
	"github.com/unclebandit/newsletter-service/internal/scheduler"
	"github.com/unclebandit/newsletter-service/internal/service"
)

// newsletterSender runs a stored newsletter to completion.
type newsletterSender interface {
	SendNewsletter(ctx context.Context, newsletterID int) (service.DispatchResult, error)
}

var _ newsletterSender = (*service.Dispatcher)(nil)

// triggerHandler runs each consumed trigger synchronously so the delivery is
// only settled once the run has ended.
func triggerHandler(d newsletterSender) queue.Handler {
	return func(ctx context.Context, t queue.Trigger) error {
		res, err := d.SendNewsletter(ctx, t.NewsletterID)
		if err != nil {
			return err
		}
		logger.L().Info("newsletter dispatched",
			zap.Int("newsletter_id", t.NewsletterID),
			zap.String("run_id", res.RunID),
			zap.Int("attempted", res.Attempted),
			zap.Int("sent", res.Sent),
			zap.Int("failed", res.Failed))
		return nil
	}
}

// directEnqueuer dispatches in the scheduler's goroutine when no broker is
// configured.
func directEnqueuer(d newsletterSender) scheduler.EnqueueFunc {
	h := triggerHandler(d)
	return func(ctx context.Context, newsletterID int, source string) error {
		return h(ctx, queue.Trigger{NewsletterID: newsletterID, Source: source})
	}
}
