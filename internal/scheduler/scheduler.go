// Package scheduler hands scheduled newsletters to the dispatcher once their
// send time has passed.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	cronv3 "github.com/robfig/cron/v3"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/newsletter-service/internal/errors"
	"github.com/unclebandit/newsletter-service/internal/logger"
	"github.com/unclebandit/newsletter-service/internal/repository"
)

const source = "scheduler"

// Enqueuer starts or enqueues the dispatch of one newsletter.
type Enqueuer interface {
	Enqueue(ctx context.Context, newsletterID int, source string) error
}

// EnqueueFunc adapts a function to Enqueuer.
type EnqueueFunc func(ctx context.Context, newsletterID int, source string) error

func (f EnqueueFunc) Enqueue(ctx context.Context, newsletterID int, source string) error {
	return f(ctx, newsletterID, source)
}

type Scheduler struct {
	Newsletters repository.NewsletterRepositoryInterface
	Enqueuer    Enqueuer
	Now         func() time.Time

	mu     sync.Mutex
	cron   *cronv3.Cron
	cancel context.CancelFunc
}

func New(newsletters repository.NewsletterRepositoryInterface, enqueuer Enqueuer) *Scheduler {
	return &Scheduler{Newsletters: newsletters, Enqueuer: enqueuer, Now: time.Now}
}

// Start registers the due-newsletter job on schedule (six fields, seconds first)
// and starts the cron runner.
func (s *Scheduler) Start(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("scheduler already started")
	}

	cronLog := cronv3.PrintfLogger(zap.NewStdLog(logger.L().Named("cron")))
	c := cronv3.New(
		cronv3.WithSeconds(),
		cronv3.WithChain(
			cronv3.SkipIfStillRunning(cronLog),
			cronv3.Recover(cronLog),
		),
	)

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := c.AddFunc(schedule, func() {
		if _, err := s.RunDue(ctx); err != nil {
			logger.L().Error("scheduled dispatch check failed", zap.Error(err))
		}
	}); err != nil {
		cancel()
		return err
	}

	c.Start()
	s.cron = c
	s.cancel = cancel
	logger.L().Info("scheduler started", zap.String("schedule", schedule))
	return nil
}

// Stop halts the cron runner and waits for a running job to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	done := c.Stop()
	cancel()
	<-done.Done()
	logger.L().Info("scheduler stopped")
}

// RunDue enqueues every scheduled newsletter whose time has come and
// returns how many were handed over. A busy dispatcher ends the pass; the
// remaining newsletters stay scheduled and are picked up on a later tick.
func (s *Scheduler) RunDue(ctx context.Context) (int, error) {
	due, err := s.Newsletters.ListDue(ctx, s.now())
	if err != nil {
		return 0, appErrors.NewStorageError("list due newsletters", err)
	}

	enqueued := 0
	for _, n := range due {
		err := s.Enqueuer.Enqueue(ctx, n.ID, source)
		switch {
		case err == nil:
			enqueued++
			logger.L().Info("scheduled newsletter handed to dispatcher", zap.Int("newsletter_id", n.ID))
		case errors.Is(err, appErrors.ErrDispatchBusy):
			logger.L().Info("dispatcher busy, deferring scheduled newsletters",
				zap.Int("newsletter_id", n.ID), zap.Int("remaining", len(due)-enqueued))
			return enqueued, nil
		default:
			logger.L().Error("failed to dispatch scheduled newsletter",
				zap.Int("newsletter_id", n.ID), zap.Error(err))
		}
		if ctx.Err() != nil {
			return enqueued, ctx.Err()
		}
	}
	return enqueued, nil
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
