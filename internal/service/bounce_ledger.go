package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/newsletter-service/internal/errors"
	"github.com/unclebandit/newsletter-service/internal/lock"
	"github.com/unclebandit/newsletter-service/internal/logger"
	"github.com/unclebandit/newsletter-service/internal/model"
	"github.com/unclebandit/newsletter-service/internal/policy"
	"github.com/unclebandit/newsletter-service/internal/repository"
)

// BounceLedger owns every write to the bounce ledger. Each event is recorded,
// run through the subscription policy and stored as one unit per address.
type BounceLedger struct {
	Repo  repository.BounceRepositoryInterface
	Locks *lock.KeyedMutex
}

func NewBounceLedger(repo repository.BounceRepositoryInterface, shards int) *BounceLedger {
	return &BounceLedger{Repo: repo, Locks: lock.NewKeyedMutex(shards)}
}

// NormalizeEmail is the ledger key form of an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// RecordEvent applies ev under cfg. applied is false for a redelivered event,
// in which case the stored record is returned untouched.
func (l *BounceLedger) RecordEvent(ctx context.Context, ev model.BounceEvent, cfg policy.Config) (*model.BounceRecord, bool, error) {
	ev.Email = NormalizeEmail(ev.Email)

	unlock := l.Locks.Lock(ev.Email)
	defer unlock()

	rec, applied, err := l.Repo.ApplyEvent(ctx, ev, func(current *model.BounceRecord) model.BounceRecord {
		d := policy.Decide(current, ev.Type, cfg)
		next := model.BounceRecord{
			Email:           ev.Email,
			Classification:  d.Classification,
			SoftBounceCount: d.NewSoftCount,
			Unsubscribed:    d.ShouldUnsubscribe,
			LastEventAt:     ev.OccurredAt,
			LastMessageID:   ev.MessageID,
		}
		// events can arrive out of order; keep the newest as "last"
		if current != nil && current.LastEventAt.After(ev.OccurredAt) {
			next.LastEventAt = current.LastEventAt
			next.LastMessageID = current.LastMessageID
		}
		return next
	})
	if err != nil {
		return nil, false, appErrors.NewStorageError("record bounce event", err)
	}

	if applied && rec != nil {
		logger.L().Info("bounce event recorded",
			logger.Email("email", ev.Email),
			zap.String("type", string(ev.Type)),
			zap.String("message_id", ev.MessageID),
			zap.Int("soft_bounce_count", rec.SoftBounceCount),
			zap.Bool("unsubscribed", rec.Unsubscribed))
	} else {
		logger.L().Debug("duplicate bounce event ignored",
			logger.Email("email", ev.Email),
			zap.String("type", string(ev.Type)),
			zap.String("message_id", ev.MessageID))
	}
	return rec, applied, nil
}

func (l *BounceLedger) IsUnsubscribed(ctx context.Context, email string) (bool, error) {
	ok, err := l.Repo.IsUnsubscribed(ctx, NormalizeEmail(email))
	if err != nil {
		return false, appErrors.NewStorageError("check unsubscribed", err)
	}
	return ok, nil
}

func (l *BounceLedger) Stats(ctx context.Context) (model.LedgerStats, error) {
	stats, err := l.Repo.Stats(ctx)
	if err != nil {
		return model.LedgerStats{}, appErrors.NewStorageError("ledger stats", err)
	}
	return stats, nil
}
