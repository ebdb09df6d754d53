package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
)

// SeedCustomers inserts count opted-in customers named
// subscriberN@example.com. Existing addresses are left alone. It returns the
// number of rows inserted.
func SeedCustomers(ctx context.Context, conn *sql.DB, t Tables, count int) (int64, error) {
	if count <= 0 {
		return 0, nil
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (email, firstname, lastname, newsletter, active, deleted)
		SELECT 'subscriber' || g || '@example.com', 'Subscriber', g::text, TRUE, TRUE, FALSE
		FROM generate_series(1, $1) AS g
		ON CONFLICT (email) DO NOTHING`, t.Customer)

	res, err := conn.ExecContext(ctx, query, count)
	if err != nil {
		return 0, fmt.Errorf("seed customers: %w", err)
	}
	return res.RowsAffected()
}

// ExecFile runs a SQL file from disk as a single batch.
func ExecFile(ctx context.Context, conn *sql.DB, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if _, err := conn.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("failed to execute %s: %w", path, err)
	}
	return nil
}
