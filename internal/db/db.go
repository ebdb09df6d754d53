// internal/db/db.go
package db

import (
	"database/sql"
	"fmt"
	"regexp"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/unclebandit/newsletter-service/internal/config"
	"github.com/unclebandit/newsletter-service/internal/logger"
)

// Init opens and pings the PostgreSQL connection pool.
func Init(cfg config.DatabaseConfig) (*sql.DB, error) {
	conn, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.MaxOpenConn > 0 {
		conn.SetMaxOpenConns(cfg.MaxOpenConn)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.L().Info("connected to database",
		zap.String("host", cfg.Host),
		zap.String("name", cfg.Name),
		zap.String("table_prefix", cfg.TablePrefix))
	return conn, nil
}

var prefixPattern = regexp.MustCompile(`^[a-z0-9_]*$`)

// Tables holds the prefixed table names of the host application's schema.
type Tables struct {
	Prefix        string
	Customer      string
	Configuration string
	Bounces       string
	BounceEvents  string
	Newsletters   string
	DeliveryLog   string
}

// NewTables validates the prefix and derives every table name from it.
// Table names are interpolated into SQL, so only [a-z0-9_] is accepted.
func NewTables(prefix string) (Tables, error) {
	if !prefixPattern.MatchString(prefix) {
		return Tables{}, fmt.Errorf("invalid table prefix %q", prefix)
	}
	return Tables{
		Prefix:        prefix,
		Customer:      prefix + "customer",
		Configuration: prefix + "configuration",
		Bounces:       prefix + "postmark_bounces",
		BounceEvents:  prefix + "postmark_bounce_events",
		Newsletters:   prefix + "postmark_newsletters",
		DeliveryLog:   prefix + "postmark_newsletter_log",
	}, nil
}

// MustTables is NewTables for prefixes known at compile time.
func MustTables(prefix string) Tables {
	t, err := NewTables(prefix)
	if err != nil {
		panic(err)
	}
	return t
}
