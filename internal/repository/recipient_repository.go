package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pkg/errors"

	"github.com/unclebandit/newsletter-service/internal/db"
	"github.com/unclebandit/newsletter-service/internal/model"
)

// RecipientRepositoryInterface is the read-only recipient directory.
type RecipientRepositoryInterface interface {
	GetByID(ctx context.Context, id int) (*model.Recipient, error)
	// ListSubscribed returns every opted-in, active, non-deleted customer
	// ordered by customer ID, without consulting the bounce ledger.
	ListSubscribed(ctx context.Context) ([]model.Recipient, error)
	// ListEligible pages through subscribed customers that are not
	// unsubscribed in the bounce ledger.
	ListEligible(ctx context.Context, offset, limit int) ([]model.Recipient, int, error)
	CountEligible(ctx context.Context) (int, error)
}

// RecipientRepository reads the store's customer table.
type RecipientRepository struct {
	DB     *sql.DB
	Tables db.Tables
}

const recipientColumns = `c.id_customer, c.email, c.firstname, c.lastname, c.newsletter, c.active`

func (r *RecipientRepository) subscribedWhere() string {
	return `c.newsletter = TRUE AND c.active = TRUE AND c.deleted = FALSE`
}

func (r *RecipientRepository) eligibleWhere() string {
	return r.subscribedWhere() + fmt.Sprintf(`
          AND NOT EXISTS (
              SELECT 1 FROM %s b
              WHERE b.email = LOWER(TRIM(c.email)) AND b.unsubscribed = TRUE
          )`, r.Tables.Bounces)
}

// GetByID fetches a customer by ID
func (r *RecipientRepository) GetByID(ctx context.Context, id int) (*model.Recipient, error) {
	query := fmt.Sprintf(`
        SELECT %s
        FROM %s c
        WHERE c.id_customer = $1 AND c.deleted = FALSE
    `, recipientColumns, r.Tables.Customer)

	var rec model.Recipient
	err := r.DB.QueryRowContext(ctx, query, id).Scan(
		&rec.CustomerID, &rec.Email, &rec.FirstName, &rec.LastName, &rec.OptedIn, &rec.Active)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.Wrap(err, "get recipient")
	}
	return &rec, nil
}

func (r *RecipientRepository) ListSubscribed(ctx context.Context) ([]model.Recipient, error) {
	query := fmt.Sprintf(`
        SELECT %s
        FROM %s c
        WHERE %s
        ORDER BY c.id_customer ASC
    `, recipientColumns, r.Tables.Customer, r.subscribedWhere())

	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "list subscribed recipients")
	}
	defer rows.Close()

	recipients, err := scanRecipients(rows)
	if err != nil {
		return nil, errors.Wrap(err, "scan subscribed recipients")
	}
	return recipients, nil
}

func (r *RecipientRepository) ListEligible(ctx context.Context, offset, limit int) ([]model.Recipient, int, error) {
	query := fmt.Sprintf(`
        SELECT %s
        FROM %s c
        WHERE %s
        ORDER BY c.id_customer ASC
        LIMIT $1 OFFSET $2
    `, recipientColumns, r.Tables.Customer, r.eligibleWhere())

	rows, err := r.DB.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list eligible recipients")
	}
	defer rows.Close()

	recipients, err := scanRecipients(rows)
	if err != nil {
		return nil, 0, errors.Wrap(err, "scan eligible recipients")
	}

	total, err := r.CountEligible(ctx)
	if err != nil {
		return nil, 0, err
	}
	return recipients, total, nil
}

func (r *RecipientRepository) CountEligible(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s c WHERE %s`, r.Tables.Customer, r.eligibleWhere())

	var total int
	if err := r.DB.QueryRowContext(ctx, query).Scan(&total); err != nil {
		return 0, errors.Wrap(err, "count eligible recipients")
	}
	return total, nil
}

func scanRecipients(rows *sql.Rows) ([]model.Recipient, error) {
	recipients := []model.Recipient{}
	for rows.Next() {
		var rec model.Recipient
		if err := rows.Scan(&rec.CustomerID, &rec.Email, &rec.FirstName, &rec.LastName, &rec.OptedIn, &rec.Active); err != nil {
			return nil, err
		}
		recipients = append(recipients, rec)
	}
	return recipients, rows.Err()
}

var _ RecipientRepositoryInterface = (*RecipientRepository)(nil)
