package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// dialect holds the statements that cannot be written portably.
// Everything else is written with ? placeholders and rebound per driver.
type dialect struct {
	name          string
	driverName    string
	schema        []string
	currentSchema string
	ignorePrefix  string
	ignoreSuffix  string
	returningID   bool
	truncate      func(ctx context.Context, db *sqlx.DB) error
	isDuplicate   func(err error) bool
	normalizeDSN  func(dsn string) (string, error)
}

func dialectFor(driver string) (dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverPostgres, "pgx", "postgresql":
		return postgresDialect, nil
	case DriverMySQL:
		return mysqlDialect, nil
	default:
		return dialect{}, fmt.Errorf("unsupported database driver %q", driver)
	}
}

var postgresDialect = dialect{
	name:          DriverPostgres,
	driverName:    "pgx",
	schema:        postgresSchema,
	currentSchema: "current_schema()",
	ignorePrefix:  "INSERT INTO",
	ignoreSuffix:  " ON CONFLICT (barcode) DO NOTHING",
	returningID:   true,
	// One statement empties all three tables and CASCADE covers the foreign key,
	// so unlike MySQL there is no session state to pin to a connection.
	truncate: func(ctx context.Context, db *sqlx.DB) error {
		_, err := db.ExecContext(ctx, `TRUNCATE TABLE scans, barcodes, products RESTART IDENTITY CASCADE`)
		return err
	},
	isDuplicate: func(err error) bool {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			return pgErr.Code == "23505"
		}
		return false
	},
	normalizeDSN: func(dsn string) (string, error) { return dsn, nil },
}

var mysqlDialect = dialect{
	name:          DriverMySQL,
	driverName:    "mysql",
	schema:        mysqlSchema,
	currentSchema: "DATABASE()",
	ignorePrefix:  "INSERT IGNORE INTO",
	truncate:      truncateMySQL,
	isDuplicate: func(err error) bool {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) {
			return myErr.Number == 1062
		}
		return false
	},
	normalizeDSN: func(dsn string) (string, error) {
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", fmt.Errorf("parse mysql dsn: %w", err)
		}
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		// Report matched rather than changed rows, like PostgreSQL does.
		cfg.ClientFoundRows = true
		return cfg.FormatDSN(), nil
	},
}

// truncateMySQL suspends foreign key checks on one pinned connection, since
// MySQL refuses to truncate a table referenced by a foreign key.
func truncateMySQL(ctx context.Context, db *sqlx.DB) error {
	conn, err := db.Connx(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SET FOREIGN_KEY_CHECKS = 0`); err != nil {
		return err
	}
	defer func() { _, _ = conn.ExecContext(context.WithoutCancel(ctx), `SET FOREIGN_KEY_CHECKS = 1`) }()

	for _, table := range []string{"scans", "barcodes", "products"} {
		if _, err := conn.ExecContext(ctx, "TRUNCATE TABLE "+table); err != nil {
			return fmt.Errorf("truncate %s: %w", table, err)
		}
	}
	return nil
}

// insertID runs an INSERT and returns the generated id.
func (d dialect) insertID(ctx context.Context, q sqlx.ExtContext, query string, args ...any) (int64, error) {
	if d.returningID {
		var id int64
		if err := q.QueryRowxContext(ctx, q.Rebind(query+" RETURNING id"), args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}
	res, err := q.ExecContext(ctx, q.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// placeholders renders rows groups of cols bind markers: (?,?),(?,?).
func placeholders(rows int, cols int) string {
	group := "(" + strings.TrimSuffix(strings.Repeat("?,", cols), ",") + ")"
	return strings.TrimSuffix(strings.Repeat(group+",", rows), ",")
}
