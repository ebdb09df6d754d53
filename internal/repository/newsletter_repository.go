package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/unclebandit/newsletter-service/internal/db"
	"github.com/unclebandit/newsletter-service/internal/model"
)

type NewsletterRepositoryInterface interface {
	Create(ctx context.Context, n *model.Newsletter) error
	GetByID(ctx context.Context, id int) (*model.Newsletter, error)
	List(ctx context.Context, offset, limit int, status string) ([]*model.Newsletter, int, error)
	UpdateStatus(ctx context.Context, id int, status string) error
	// ListDue returns scheduled newsletters whose send time is at or before now.
	ListDue(ctx context.Context, now time.Time) ([]*model.Newsletter, error)
}

type NewsletterRepository struct {
	DB     *sql.DB
	Tables db.Tables
}

const newsletterColumns = `id, subject, html_body, status, scheduled_at, created_at, updated_at`

func scanNewsletter(row rowScanner) (*model.Newsletter, error) {
	var n model.Newsletter
	if err := row.Scan(&n.ID, &n.Subject, &n.HTMLBody, &n.Status, &n.ScheduledAt, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}
	return &n, nil
}

// Create inserts a new newsletter
func (r *NewsletterRepository) Create(ctx context.Context, n *model.Newsletter) error {
	query := fmt.Sprintf(`
        INSERT INTO %s (subject, html_body, status, scheduled_at)
        VALUES ($1, $2, $3, $4)
        RETURNING id, created_at
    `, r.Tables.Newsletters)

	err := r.DB.QueryRowContext(ctx, query, n.Subject, n.HTMLBody, n.Status, n.ScheduledAt).Scan(&n.ID, &n.CreatedAt)
	return errors.Wrap(err, "create newsletter")
}

// GetByID fetches a newsletter by ID
func (r *NewsletterRepository) GetByID(ctx context.Context, id int) (*model.Newsletter, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, newsletterColumns, r.Tables.Newsletters)

	n, err := scanNewsletter(r.DB.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get newsletter")
	}
	return n, nil
}

// List returns newsletters with pagination and an optional status filter
func (r *NewsletterRepository) List(ctx context.Context, offset, limit int, status string) ([]*model.Newsletter, int, error) {
	where := ""
	args := []any{}
	if status != "" {
		where = "WHERE status = $1"
		args = append(args, status)
	}

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s %s`, r.Tables.Newsletters, where)
	if err := r.DB.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count newsletters")
	}

	query := fmt.Sprintf(`
        SELECT %s FROM %s %s
        ORDER BY id DESC
        LIMIT $%d OFFSET $%d
    `, newsletterColumns, r.Tables.Newsletters, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list newsletters")
	}
	defer rows.Close()

	newsletters := []*model.Newsletter{}
	for rows.Next() {
		n, err := scanNewsletter(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "scan newsletter")
		}
		newsletters = append(newsletters, n)
	}
	return newsletters, total, errors.Wrap(rows.Err(), "iterate newsletters")
}

// UpdateStatus updates only the status of a newsletter
func (r *NewsletterRepository) UpdateStatus(ctx context.Context, id int, status string) error {
	query := fmt.Sprintf(`UPDATE %s SET status = $1, updated_at = NOW() WHERE id = $2`, r.Tables.Newsletters)
	_, err := r.DB.ExecContext(ctx, query, status, id)
	return errors.Wrap(err, "update newsletter status")
}

func (r *NewsletterRepository) ListDue(ctx context.Context, now time.Time) ([]*model.Newsletter, error) {
	query := fmt.Sprintf(`
        SELECT %s FROM %s
        WHERE status = $1 AND scheduled_at IS NOT NULL AND scheduled_at <= $2
        ORDER BY scheduled_at ASC, id ASC
    `, newsletterColumns, r.Tables.Newsletters)

	rows, err := r.DB.QueryContext(ctx, query, model.NewsletterScheduled, now)
	if err != nil {
		return nil, errors.Wrap(err, "list due newsletters")
	}
	defer rows.Close()

	due := []*model.Newsletter{}
	for rows.Next() {
		n, err := scanNewsletter(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan newsletter")
		}
		due = append(due, n)
	}
	return due, errors.Wrap(rows.Err(), "iterate due newsletters")
}

var _ NewsletterRepositoryInterface = (*NewsletterRepository)(nil)
