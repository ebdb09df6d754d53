package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/unclebandit/newsletter-service/internal/config"
	appErrors "github.com/unclebandit/newsletter-service/internal/errors"
	"github.com/unclebandit/newsletter-service/internal/lock"
	"github.com/unclebandit/newsletter-service/internal/logger"
	"github.com/unclebandit/newsletter-service/internal/model"
	"github.com/unclebandit/newsletter-service/internal/postmark"
	"github.com/unclebandit/newsletter-service/internal/repository"
)

// Mailer is the mail-sending capability.
type Mailer interface {
	Send(ctx context.Context, email model.OutboundEmail) (string, error)
	TestConnection(ctx context.Context) error
}

// MailerFactory builds a Mailer for an API token.
type MailerFactory func(apiToken string) Mailer

// Message is the content handed to a dispatch run, sent as-is.
type Message struct {
	NewsletterID int
	Subject      string
	HTMLBody     string
}

// DispatchResult is the outcome of one dispatch run.
type DispatchResult struct {
	RunID        string     `json:"run_id"`
	NewsletterID int        `json:"newsletter_id"`
	Attempted    int        `json:"attempted"`
	Sent         int        `json:"sent"`
	Failed       int        `json:"failed"`
	Cancelled    bool       `json:"cancelled"`
	Running      bool       `json:"running"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

const unsubscribedLookupChunk = 1000

// Dispatcher sends a message to every eligible subscriber in rate-limited
// batches. At most one run is in flight, guarded by a DistLock.
type Dispatcher struct {
	Recipients  repository.RecipientRepositoryInterface
	Bounces     repository.BounceRepositoryInterface
	DeliveryLog repository.DeliveryLogRepositoryInterface
	Newsletters repository.NewsletterRepositoryInterface
	Settings    SettingsLoader
	NewMailer   MailerFactory
	NewLock     lock.Factory
	Config      config.DispatchConfig

	mu      sync.Mutex
	current *DispatchResult
	last    *DispatchResult
	stop    chan struct{}
}

// Dispatch runs msg against the current subscriber snapshot and blocks until
// the run ends. It returns appErrors.ErrDispatchBusy if another run holds the guard.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message, settings model.Settings) (DispatchResult, error) {
	if err := RequireSending(settings); err != nil {
		return DispatchResult{}, err
	}
	guard, err := d.acquire(ctx)
	if err != nil {
		return DispatchResult{}, err
	}
	defer d.release(guard)
	return d.run(ctx, guard, msg, settings)
}

// SendNewsletter dispatches a stored newsletter synchronously and records its
// final status.
func (d *Dispatcher) SendNewsletter(ctx context.Context, newsletterID int) (DispatchResult, error) {
	n, settings, guard, err := d.prepare(ctx, newsletterID)
	if err != nil {
		return DispatchResult{}, err
	}
	defer d.release(guard)
	return d.sendPrepared(ctx, guard, n, settings)
}

// StartNewsletter checks and claims the dispatch guard, then sends in the
// background. The returned result is the run's initial state.
func (d *Dispatcher) StartNewsletter(ctx context.Context, newsletterID int) (DispatchResult, error) {
	n, settings, guard, err := d.prepare(ctx, newsletterID)
	if err != nil {
		return DispatchResult{}, err
	}

	runCtx := context.WithoutCancel(ctx)
	started := d.begin(n.ID)
	go func() {
		defer d.release(guard)
		if _, err := d.sendPrepared(runCtx, guard, n, settings); err != nil {
			logger.L().Error("newsletter dispatch failed", zap.Int("newsletter_id", n.ID), zap.Error(err))
		}
	}()
	return started, nil
}

// Cancel asks the running dispatch to stop before its next batch.
// It reports whether a run was in flight in this process.
func (d *Dispatcher) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil || d.stop == nil {
		return false
	}
	select {
	case <-d.stop:
	default:
		close(d.stop)
	}
	return true
}

// Status returns the running dispatch, if any, and the last finished one.
func (d *Dispatcher) Status() (current, last *DispatchResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current != nil {
		c := *d.current
		current = &c
	}
	if d.last != nil {
		l := *d.last
		last = &l
	}
	return current, last
}

func (d *Dispatcher) prepare(ctx context.Context, newsletterID int) (*model.Newsletter, model.Settings, lock.DistLock, error) {
	n, err := d.Newsletters.GetByID(ctx, newsletterID)
	if err != nil {
		return nil, model.Settings{}, nil, appErrors.NewStorageError("load newsletter", err)
	}
	if n == nil {
		return nil, model.Settings{}, nil, appErrors.NewNotFound("newsletter", newsletterID)
	}
	if !n.Sendable() {
		return nil, model.Settings{}, nil, appErrors.NewValidationError("status", "newsletter is already "+n.Status)
	}

	settings, err := d.Settings.Load(ctx)
	if err != nil {
		return nil, model.Settings{}, nil, err
	}
	if err := RequireSending(settings); err != nil {
		return nil, model.Settings{}, nil, err
	}

	guard, err := d.acquire(ctx)
	if err != nil {
		return nil, model.Settings{}, nil, err
	}

	// Another run may have finished between the first read and the acquire.
	n, err = d.Newsletters.GetByID(ctx, newsletterID)
	switch {
	case err != nil:
		err = appErrors.NewStorageError("reload newsletter", err)
	case n == nil:
		err = appErrors.NewNotFound("newsletter", newsletterID)
	case !n.Sendable():
		err = appErrors.NewValidationError("status", "newsletter is already "+n.Status)
	}
	if err != nil {
		d.release(guard)
		return nil, model.Settings{}, nil, err
	}
	return n, settings, guard, nil
}

func (d *Dispatcher) sendPrepared(ctx context.Context, guard lock.DistLock, n *model.Newsletter, settings model.Settings) (DispatchResult, error) {
	if err := d.Newsletters.UpdateStatus(ctx, n.ID, model.NewsletterSending); err != nil {
		err = appErrors.NewStorageError("update newsletter status", err)
		d.abandon(n.ID, err)
		return DispatchResult{}, err
	}

	res, runErr := d.run(ctx, guard, Message{NewsletterID: n.ID, Subject: n.Subject, HTMLBody: n.HTMLBody}, settings)

	status := model.NewsletterSent
	if runErr != nil || res.Cancelled {
		status = model.NewsletterFailed
	}
	if err := d.Newsletters.UpdateStatus(context.WithoutCancel(ctx), n.ID, status); err != nil {
		logger.L().Error("failed to record newsletter status",
			zap.Int("newsletter_id", n.ID), zap.String("status", status), zap.Error(err))
	}
	return res, runErr
}

func (d *Dispatcher) acquire(ctx context.Context) (lock.DistLock, error) {
	guard := d.NewLock()
	ok, err := guard.Acquire(ctx)
	if err != nil {
		return nil, appErrors.NewStorageError("acquire dispatch lock", err)
	}
	if !ok {
		return nil, appErrors.ErrDispatchBusy
	}
	return guard, nil
}

func (d *Dispatcher) release(guard lock.DistLock) {
	if err := guard.Release(context.Background()); err != nil {
		logger.L().Warn("failed to release dispatch lock", zap.Error(err))
	}
}

// begin publishes a new in-flight run, or returns the one already begun for
// the same newsletter by StartNewsletter.
func (d *Dispatcher) begin(newsletterID int) DispatchResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current != nil && d.current.NewsletterID == newsletterID {
		return *d.current
	}
	d.current = &DispatchResult{
		RunID:        uuid.NewString(),
		NewsletterID: newsletterID,
		Running:      true,
		StartedAt:    time.Now().UTC(),
	}
	d.stop = make(chan struct{})
	return *d.current
}

func (d *Dispatcher) progress(res DispatchResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current != nil && d.current.RunID == res.RunID {
		res.Running = true
		*d.current = res
	}
}

func (d *Dispatcher) finish(res *DispatchResult, err error) {
	now := time.Now().UTC()
	res.FinishedAt = &now
	res.Running = false
	if err != nil {
		res.Error = err.Error()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	final := *res
	d.last = &final
	d.current = nil
	d.stop = nil
}

func (d *Dispatcher) abandon(newsletterID int, err error) {
	res := d.begin(newsletterID)
	d.finish(&res, err)
}

func (d *Dispatcher) stopRequested() bool {
	d.mu.Lock()
	stop := d.stop
	d.mu.Unlock()
	if stop == nil {
		return false
	}
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

func (d *Dispatcher) run(ctx context.Context, guard lock.DistLock, msg Message, settings model.Settings) (res DispatchResult, err error) {
	res = d.begin(msg.NewsletterID)
	defer func() { d.finish(&res, err) }()

	stopKeepAlive := d.keepAlive(ctx, guard)
	defer stopKeepAlive()

	recipients, err := d.snapshot(ctx, msg.NewsletterID)
	if err != nil {
		return res, err
	}

	log := logger.L().With(zap.String("run_id", res.RunID), zap.Int("newsletter_id", msg.NewsletterID))
	log.Info("dispatch started", zap.Int("recipients", len(recipients)))

	mailer := d.NewMailer(settings.APIToken)
	limiter := rate.NewLimiter(d.rateLimit(), 1)
	from := FormatSender(settings)

	for start := 0; start < len(recipients); start += d.batchSize() {
		if d.stopRequested() || ctx.Err() != nil {
			res.Cancelled = true
			log.Info("dispatch cancelled", zap.Int("attempted", res.Attempted))
			break
		}
		end := start + d.batchSize()
		if end > len(recipients) {
			end = len(recipients)
		}

		batch := d.sendBatch(ctx, mailer, limiter, recipients[start:end], msg, settings, from)
		res.Attempted += batch.attempted
		res.Sent += batch.sent
		res.Failed += batch.failed
		d.progress(res)

		if batch.err != nil {
			log.Error("dispatch aborted",
				zap.Int("attempted", res.Attempted), zap.Int("sent", res.Sent), zap.Int("failed", res.Failed),
				zap.Error(batch.err))
			return res, batch.err
		}
	}

	log.Info("dispatch finished",
		zap.Int("attempted", res.Attempted), zap.Int("sent", res.Sent), zap.Int("failed", res.Failed),
		zap.Bool("cancelled", res.Cancelled))
	return res, nil
}

// keepAlive refreshes expiring guards while the run is active.
func (d *Dispatcher) keepAlive(ctx context.Context, guard lock.DistLock) func() {
	ext, ok := guard.(lock.Extender)
	if !ok || d.Config.LockTTL <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(d.Config.LockTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ext.Extend(ctx, d.Config.LockTTL); err != nil {
					logger.L().Warn("failed to extend dispatch lock", zap.Error(err))
				}
			}
		}
	}()
	return func() { close(done) }
}

// snapshot lists subscribed recipients once and drops every address the
// ledger has unsubscribed, plus repeated addresses. For a stored newsletter
// it also drops addresses an earlier run already handed to the provider.
func (d *Dispatcher) snapshot(ctx context.Context, newsletterID int) ([]model.Recipient, error) {
	all, err := d.Recipients.ListSubscribed(ctx)
	if err != nil {
		return nil, appErrors.NewStorageError("snapshot recipients", err)
	}

	seen := make(map[string]bool, len(all))
	if newsletterID != 0 {
		delivered, err := d.DeliveryLog.DeliveredEmails(ctx, newsletterID)
		if err != nil {
			return nil, appErrors.NewStorageError("snapshot delivered", err)
		}
		for email := range delivered {
			seen[NormalizeEmail(email)] = true
		}
	}
	candidates := make([]model.Recipient, 0, len(all))
	for _, r := range all {
		key := NormalizeEmail(r.Email)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		candidates = append(candidates, r)
	}

	eligible := make([]model.Recipient, 0, len(candidates))
	for start := 0; start < len(candidates); start += unsubscribedLookupChunk {
		end := start + unsubscribedLookupChunk
		if end > len(candidates) {
			end = len(candidates)
		}
		chunk := candidates[start:end]
		emails := make([]string, len(chunk))
		for i, r := range chunk {
			emails[i] = NormalizeEmail(r.Email)
		}
		unsubscribed, err := d.Bounces.FilterUnsubscribed(ctx, emails)
		if err != nil {
			return nil, appErrors.NewStorageError("snapshot unsubscribed", err)
		}
		for i, r := range chunk {
			if !unsubscribed[emails[i]] {
				eligible = append(eligible, r)
			}
		}
	}
	return eligible, nil
}

type batchOutcome struct {
	attempted, sent, failed int
	err                     error
}

func (d *Dispatcher) sendBatch(ctx context.Context, mailer Mailer, limiter *rate.Limiter, batch []model.Recipient,
	msg Message, settings model.Settings, from string) batchOutcome {

	var (
		mu  sync.Mutex
		out batchOutcome
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency())

	for _, r := range batch {
		r := r
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			status, err := d.sendOne(ctx, gctx, mailer, limiter, r, msg, settings, from)

			mu.Lock()
			defer mu.Unlock()
			if status != "" {
				out.attempted++
			}
			switch status {
			case model.DeliverySent:
				out.sent++
			case model.DeliveryFailed:
				out.failed++
			}
			return err
		})
	}
	out.err = g.Wait()
	return out
}

// sendOne writes the queued row, calls the provider with retries and records
// the outcome. status is empty when no row was written. The returned error is
// non-nil only when the whole run must stop. Log writes use ctx so that an
// aborting sibling (which cancels callCtx) does not lose this row's outcome.
func (d *Dispatcher) sendOne(ctx, callCtx context.Context, mailer Mailer, limiter *rate.Limiter, r model.Recipient,
	msg Message, settings model.Settings, from string) (string, error) {

	email := NormalizeEmail(r.Email)
	entry := &model.DeliveryLogEntry{
		NewsletterID: msg.NewsletterID,
		CustomerID:   r.CustomerID,
		Email:        email,
		Status:       model.DeliveryQueued,
	}
	if err := d.DeliveryLog.Create(ctx, entry); err != nil {
		return "", appErrors.NewStorageError("create delivery log entry", err)
	}

	outbound := model.OutboundEmail{
		From:          from,
		To:            email,
		Subject:       msg.Subject,
		HTMLBody:      msg.HTMLBody,
		TrackOpens:    settings.TrackOpens,
		TrackLinks:    settings.TrackLinks,
		MessageStream: settings.MessageStream,
	}

	b := &backoff.Backoff{Min: d.Config.BackoffMin, Max: d.Config.BackoffMax, Factor: 2, Jitter: true}
	var (
		lastErr  error
		abortErr error
	)
retry:
	for attempt := 1; attempt <= d.maxAttempts(); attempt++ {
		entry.Attempts = attempt
		if err := limiter.Wait(callCtx); err != nil {
			lastErr = err
			break
		}

		sendCtx, cancel := d.sendContext(callCtx)
		messageID, err := mailer.Send(sendCtx, outbound)
		cancel()
		if err == nil {
			entry.Status = model.DeliverySent
			entry.MessageID = nil
			if messageID != "" {
				entry.MessageID = &messageID
			}
			entry.LastError = ""
			if err := d.DeliveryLog.UpdateResult(ctx, entry); err != nil {
				return model.DeliverySent, appErrors.NewStorageError("update delivery log entry", err)
			}
			return model.DeliverySent, nil
		}

		lastErr = err
		te, isTransport := appErrors.AsTransport(err)
		if isTransport && te.Kind == appErrors.TransportCritical {
			abortErr = err
			break
		}
		if isTransport && !te.Retryable() {
			break
		}
		if attempt == d.maxAttempts() {
			break
		}

		wait := b.Duration()
		logger.L().Debug("retrying send",
			logger.Email("email", email), zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-callCtx.Done():
			timer.Stop()
			lastErr = callCtx.Err()
			break retry
		}
	}

	entry.Status = model.DeliveryFailed
	entry.LastError = lastErr.Error()
	logger.L().Warn("send failed",
		logger.Email("email", email), zap.Int("attempts", entry.Attempts), zap.Error(lastErr))
	if err := d.DeliveryLog.UpdateResult(ctx, entry); err != nil {
		return model.DeliveryFailed, appErrors.NewStorageError("update delivery log entry", err)
	}
	return model.DeliveryFailed, abortErr
}

func (d *Dispatcher) sendContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.Config.SendTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.Config.SendTimeout)
}

func (d *Dispatcher) rateLimit() rate.Limit {
	if d.Config.RatePerSecond <= 0 {
		return rate.Inf
	}
	return rate.Limit(d.Config.RatePerSecond)
}

func (d *Dispatcher) batchSize() int {
	if d.Config.BatchSize < 1 {
		return 1
	}
	return d.Config.BatchSize
}

func (d *Dispatcher) concurrency() int {
	if d.Config.Concurrency < 1 {
		return 1
	}
	return d.Config.Concurrency
}

func (d *Dispatcher) maxAttempts() int {
	if d.Config.MaxAttempts < 1 {
		return 1
	}
	return d.Config.MaxAttempts
}

// FormatSender renders the configured From header.
func FormatSender(s model.Settings) string {
	return postmark.FormatFrom(s.FromName, s.FromEmail)
}
