package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/unclebandit/newsletter-service/internal/db"
	"github.com/unclebandit/newsletter-service/internal/model"
)

// BounceMutation computes the next ledger row from the current one, which is
// nil when the address has no row yet.
type BounceMutation func(current *model.BounceRecord) model.BounceRecord

// BounceRepositoryInterface is the persistent bounce ledger.
type BounceRepositoryInterface interface {
	Get(ctx context.Context, email string) (*model.BounceRecord, error)
	IsUnsubscribed(ctx context.Context, email string) (bool, error)
	// FilterUnsubscribed returns the subset of emails the ledger has unsubscribed.
	FilterUnsubscribed(ctx context.Context, emails []string) (map[string]bool, error)
	Stats(ctx context.Context) (model.LedgerStats, error)
	// ApplyEvent records ev and stores mutate's result in one transaction.
	// applied is false when ev was already recorded; the stored row is then
	// returned unchanged.
	ApplyEvent(ctx context.Context, ev model.BounceEvent, mutate BounceMutation) (rec *model.BounceRecord, applied bool, err error)
}

type BounceRepository struct {
	DB     *sql.DB
	Tables db.Tables
}

const bounceColumns = `email, bounce_type, soft_bounce_count, unsubscribed, last_event_at, last_message_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBounce(row rowScanner) (*model.BounceRecord, error) {
	var rec model.BounceRecord
	err := row.Scan(&rec.Email, &rec.Classification, &rec.SoftBounceCount, &rec.Unsubscribed,
		&rec.LastEventAt, &rec.LastMessageID, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *BounceRepository) Get(ctx context.Context, email string) (*model.BounceRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE email = $1`, bounceColumns, r.Tables.Bounces)
	rec, err := scanBounce(r.DB.QueryRowContext(ctx, query, email))
	if err != nil {
		return nil, errors.Wrap(err, "get bounce record")
	}
	return rec, nil
}

func (r *BounceRepository) IsUnsubscribed(ctx context.Context, email string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE email = $1 AND unsubscribed = TRUE)`, r.Tables.Bounces)

	var unsubscribed bool
	if err := r.DB.QueryRowContext(ctx, query, email).Scan(&unsubscribed); err != nil {
		return false, errors.Wrap(err, "check unsubscribed")
	}
	return unsubscribed, nil
}

func (r *BounceRepository) FilterUnsubscribed(ctx context.Context, emails []string) (map[string]bool, error) {
	out := make(map[string]bool)
	if len(emails) == 0 {
		return out, nil
	}

	query := fmt.Sprintf(`SELECT email FROM %s WHERE unsubscribed = TRUE AND email = ANY($1)`, r.Tables.Bounces)
	rows, err := r.DB.QueryContext(ctx, query, pq.Array(emails))
	if err != nil {
		return nil, errors.Wrap(err, "filter unsubscribed")
	}
	defer rows.Close()

	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, errors.Wrap(err, "scan unsubscribed email")
		}
		out[email] = true
	}
	return out, errors.Wrap(rows.Err(), "iterate unsubscribed emails")
}

func (r *BounceRepository) Stats(ctx context.Context) (model.LedgerStats, error) {
	query := fmt.Sprintf(`
        SELECT
            COUNT(*),
            COUNT(*) FILTER (WHERE unsubscribed = TRUE)
        FROM %s
    `, r.Tables.Bounces)

	var stats model.LedgerStats
	if err := r.DB.QueryRowContext(ctx, query).Scan(&stats.TotalBouncedAddresses, &stats.TotalAutoUnsubscribed); err != nil {
		return model.LedgerStats{}, errors.Wrap(err, "ledger stats")
	}
	return stats, nil
}

func (r *BounceRepository) ApplyEvent(ctx context.Context, ev model.BounceEvent, mutate BounceMutation) (*model.BounceRecord, bool, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, errors.Wrap(err, "begin ledger transaction")
	}
	defer tx.Rollback()

	// Serializes writers of the same address across processes, including
	// the first event for an address that has no row to lock yet.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ev.Email); err != nil {
		return nil, false, errors.Wrap(err, "lock ledger address")
	}

	insertEvent := fmt.Sprintf(`
        INSERT INTO %s (message_id, event_type, email, occurred_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (message_id, event_type) DO NOTHING
    `, r.Tables.BounceEvents)
	res, err := tx.ExecContext(ctx, insertEvent, ev.MessageID, string(ev.Type), ev.Email, ev.OccurredAt)
	if err != nil {
		return nil, false, errors.Wrap(err, "record bounce event")
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, false, errors.Wrap(err, "record bounce event")
	}

	selectCurrent := fmt.Sprintf(`SELECT %s FROM %s WHERE email = $1 FOR UPDATE`, bounceColumns, r.Tables.Bounces)
	current, err := scanBounce(tx.QueryRowContext(ctx, selectCurrent, ev.Email))
	if err != nil {
		return nil, false, errors.Wrap(err, "load bounce record")
	}
	if inserted == 0 {
		return current, false, nil
	}

	next := mutate(current)
	upsert := fmt.Sprintf(`
        INSERT INTO %s (email, bounce_type, soft_bounce_count, unsubscribed, last_event_at, last_message_id)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (email) DO UPDATE SET
            bounce_type       = EXCLUDED.bounce_type,
            soft_bounce_count = EXCLUDED.soft_bounce_count,
            unsubscribed      = EXCLUDED.unsubscribed,
            last_event_at     = EXCLUDED.last_event_at,
            last_message_id   = EXCLUDED.last_message_id,
            updated_at        = NOW()
        RETURNING %s
    `, r.Tables.Bounces, bounceColumns)
	stored, err := scanBounce(tx.QueryRowContext(ctx, upsert, ev.Email, string(next.Classification),
		next.SoftBounceCount, next.Unsubscribed, next.LastEventAt, next.LastMessageID))
	if err != nil {
		return nil, false, errors.Wrap(err, "store bounce record")
	}

	if err := tx.Commit(); err != nil {
		return nil, false, errors.Wrap(err, "commit ledger transaction")
	}
	return stored, true, nil
}

var _ BounceRepositoryInterface = (*BounceRepository)(nil)
