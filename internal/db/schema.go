package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"regexp"
	"strings"
)

//go:embed sql/*.sql
var schemaFS embed.FS

var statementSplit = regexp.MustCompile(`;\s*[\r\n]+`)

// Statements loads an embedded SQL file with PREFIX_ replaced and returns
// its non-empty statements in order.
func Statements(name string, t Tables) ([]string, error) {
	raw, err := schemaFS.ReadFile("sql/" + name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	body := strings.ReplaceAll(string(raw), "PREFIX_", t.Prefix)

	var out []string
	for _, stmt := range statementSplit.Split(body, -1) {
		stmt = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(stmt), ";"))
		if stmt != "" {
			out = append(out, stmt)
		}
	}
	return out, nil
}

// Install creates the module's tables.
func Install(ctx context.Context, conn *sql.DB, t Tables) error {
	return execFile(ctx, conn, "install.sql", t)
}

// Uninstall drops the module's tables and every row in them.
func Uninstall(ctx context.Context, conn *sql.DB, t Tables) error {
	return execFile(ctx, conn, "uninstall.sql", t)
}

// InstallHostTables creates minimal customer and configuration tables for
// development databases that do not carry the store's schema.
func InstallHostTables(ctx context.Context, conn *sql.DB, t Tables) error {
	return execFile(ctx, conn, "dev_host_tables.sql", t)
}

func execFile(ctx context.Context, conn *sql.DB, name string, t Tables) error {
	stmts, err := Statements(name, t)
	if err != nil {
		return err
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return tx.Commit()
}
