package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pkg/errors"

	"github.com/unclebandit/newsletter-service/internal/db"
	"github.com/unclebandit/newsletter-service/internal/model"
)

// DeliveryLogRepositoryInterface is the durable record of send attempts.
type DeliveryLogRepositoryInterface interface {
	// Create inserts entry and fills in its ID and CreatedAt.
	Create(ctx context.Context, entry *model.DeliveryLogEntry) error
	UpdateResult(ctx context.Context, entry *model.DeliveryLogEntry) error
	// MarkByMessageID moves queued or sent entries carrying messageID to
	// status and returns how many rows moved.
	MarkByMessageID(ctx context.Context, messageID, status string) (int64, error)
	CountByStatus(ctx context.Context) (model.DeliveryCounts, error)
	CountByStatusForNewsletter(ctx context.Context, newsletterID int) (model.DeliveryCounts, error)
	CustomerStats(ctx context.Context, customerID int) (model.CustomerStats, error)
	ListByNewsletter(ctx context.Context, newsletterID, offset, limit int) ([]model.DeliveryLogEntry, error)
	// DeliveredEmails returns the addresses the provider accepted the
	// newsletter for in any earlier run.
	DeliveredEmails(ctx context.Context, newsletterID int) (map[string]bool, error)
}

type DeliveryLogRepository struct {
	DB     *sql.DB
	Tables db.Tables
}

// Create inserts a new delivery log entry
func (r *DeliveryLogRepository) Create(ctx context.Context, entry *model.DeliveryLogEntry) error {
	query := fmt.Sprintf(`
        INSERT INTO %s (newsletter_id, id_customer, email, status, message_id, last_error, attempts)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id, created_at
    `, r.Tables.DeliveryLog)

	err := r.DB.QueryRowContext(ctx, query,
		entry.NewsletterID, entry.CustomerID, entry.Email, entry.Status,
		entry.MessageID, entry.LastError, entry.Attempts,
	).Scan(&entry.ID, &entry.CreatedAt)
	return errors.Wrap(err, "create delivery log entry")
}

// UpdateResult stores the outcome of a send attempt
func (r *DeliveryLogRepository) UpdateResult(ctx context.Context, entry *model.DeliveryLogEntry) error {
	query := fmt.Sprintf(`
        UPDATE %s
        SET status = $1, message_id = $2, last_error = $3, attempts = $4, updated_at = NOW()
        WHERE id = $5
    `, r.Tables.DeliveryLog)

	_, err := r.DB.ExecContext(ctx, query, entry.Status, entry.MessageID, entry.LastError, entry.Attempts, entry.ID)
	return errors.Wrap(err, "update delivery log entry")
}

func (r *DeliveryLogRepository) MarkByMessageID(ctx context.Context, messageID, status string) (int64, error) {
	query := fmt.Sprintf(`
        UPDATE %s
        SET status = $1, updated_at = NOW()
        WHERE message_id = $2 AND status IN ($3, $4)
    `, r.Tables.DeliveryLog)

	res, err := r.DB.ExecContext(ctx, query, status, messageID, model.DeliveryQueued, model.DeliverySent)
	if err != nil {
		return 0, errors.Wrap(err, "mark delivery log entry")
	}
	n, err := res.RowsAffected()
	return n, errors.Wrap(err, "mark delivery log entry")
}

func (r *DeliveryLogRepository) CountByStatus(ctx context.Context) (model.DeliveryCounts, error) {
	query := fmt.Sprintf(`SELECT status, COUNT(*) FROM %s GROUP BY status`, r.Tables.DeliveryLog)
	return r.countByStatus(ctx, query)
}

// CountByStatusForNewsletter returns message status counts for a newsletter
func (r *DeliveryLogRepository) CountByStatusForNewsletter(ctx context.Context, newsletterID int) (model.DeliveryCounts, error) {
	query := fmt.Sprintf(`SELECT status, COUNT(*) FROM %s WHERE newsletter_id = $1 GROUP BY status`, r.Tables.DeliveryLog)
	return r.countByStatus(ctx, query, newsletterID)
}

func (r *DeliveryLogRepository) countByStatus(ctx context.Context, query string, args ...any) (model.DeliveryCounts, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "count delivery log")
	}
	defer rows.Close()

	counts := model.DeliveryCounts{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.Wrap(err, "scan delivery log count")
		}
		counts[status] = count
	}
	return counts, errors.Wrap(rows.Err(), "iterate delivery log counts")
}

func (r *DeliveryLogRepository) CustomerStats(ctx context.Context, customerID int) (model.CustomerStats, error) {
	query := fmt.Sprintf(`
        SELECT
            COUNT(*),
            COUNT(*) FILTER (WHERE status = $2)
        FROM %s
        WHERE id_customer = $1
    `, r.Tables.DeliveryLog)

	stats := model.CustomerStats{CustomerID: customerID}
	err := r.DB.QueryRowContext(ctx, query, customerID, model.DeliveryBounced).
		Scan(&stats.TotalSent, &stats.TotalBounced)
	if err != nil {
		return model.CustomerStats{}, errors.Wrap(err, "customer delivery stats")
	}
	return stats, nil
}

func (r *DeliveryLogRepository) ListByNewsletter(ctx context.Context, newsletterID, offset, limit int) ([]model.DeliveryLogEntry, error) {
	query := fmt.Sprintf(`
        SELECT id, newsletter_id, id_customer, email, status, message_id, last_error, attempts, created_at, updated_at
        FROM %s
        WHERE newsletter_id = $1
        ORDER BY id ASC
        LIMIT $2 OFFSET $3
    `, r.Tables.DeliveryLog)

	rows, err := r.DB.QueryContext(ctx, query, newsletterID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "list delivery log")
	}
	defer rows.Close()

	entries := []model.DeliveryLogEntry{}
	for rows.Next() {
		var e model.DeliveryLogEntry
		if err := rows.Scan(&e.ID, &e.NewsletterID, &e.CustomerID, &e.Email, &e.Status,
			&e.MessageID, &e.LastError, &e.Attempts, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scan delivery log entry")
		}
		entries = append(entries, e)
	}
	return entries, errors.Wrap(rows.Err(), "iterate delivery log")
}

var _ DeliveryLogRepositoryInterface = (*DeliveryLogRepository)(nil)

func (r *DeliveryLogRepository) DeliveredEmails(ctx context.Context, newsletterID int) (map[string]bool, error) {
	query := fmt.Sprintf(`
        SELECT DISTINCT email
        FROM %s
        WHERE newsletter_id = $1 AND status IN ($2, $3, $4)
    `, r.Tables.DeliveryLog)

	rows, err := r.DB.QueryContext(ctx, query, newsletterID,
		model.DeliverySent, model.DeliveryDelivered, model.DeliveryBounced)
	if err != nil {
		return nil, errors.Wrap(err, "list delivered emails")
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, errors.Wrap(err, "scan delivered email")
		}
		out[email] = true
	}
	return out, errors.Wrap(rows.Err(), "iterate delivered emails")
}
