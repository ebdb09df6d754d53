package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/unclebandit/newsletter-service/internal/db"
)

// SettingsRepositoryInterface reads and writes the host's key/value configuration table.
type SettingsRepositoryInterface interface {
	// GetMany returns the stored values of keys. Absent keys are left out of the map.
	GetMany(ctx context.Context, keys []string) (map[string]string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys []string) error
}

type SettingsRepository struct {
	DB     *sql.DB
	Tables db.Tables
}

func (r *SettingsRepository) GetMany(ctx context.Context, keys []string) (map[string]string, error) {
	query := fmt.Sprintf(`SELECT name, value FROM %s WHERE name = ANY($1)`, r.Tables.Configuration)

	rows, err := r.DB.QueryContext(ctx, query, pq.Array(keys))
	if err != nil {
		return nil, errors.Wrap(err, "read settings")
	}
	defer rows.Close()

	values := make(map[string]string, len(keys))
	for rows.Next() {
		var name string
		var value sql.NullString
		if err := rows.Scan(&name, &value); err != nil {
			return nil, errors.Wrap(err, "scan setting")
		}
		if value.Valid {
			values[name] = value.String
		}
	}
	return values, errors.Wrap(rows.Err(), "iterate settings")
}

func (r *SettingsRepository) Set(ctx context.Context, key, value string) error {
	query := fmt.Sprintf(`
        INSERT INTO %s (name, value, date_upd)
        VALUES ($1, $2, NOW())
        ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, date_upd = NOW()
    `, r.Tables.Configuration)

	_, err := r.DB.ExecContext(ctx, query, key, value)
	return errors.Wrapf(err, "write setting %s", key)
}

func (r *SettingsRepository) Delete(ctx context.Context, keys []string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE name = ANY($1)`, r.Tables.Configuration)
	_, err := r.DB.ExecContext(ctx, query, pq.Array(keys))
	return errors.Wrap(err, "delete settings")
}

var _ SettingsRepositoryInterface = (*SettingsRepository)(nil)
