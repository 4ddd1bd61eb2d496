/*
Package csql opens the relational database used by the service.

Production runs on Postgres through lib/pq, development and tests run on SQLite through
the pure Go modernc driver. Both are accessed through sqlx, and queries are written
with ? placeholders and rebound for the driver in use.
*/
package csql

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // load database driver for postgres
	"github.com/relabs-tech/geocatalog/core/logger"
	_ "modernc.org/sqlite" // load database driver for sqlite
)

// Dialect identifies the SQL dialect of a database
type Dialect string

// the supported dialects. The values are the database/sql driver names.
const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// DB encapsulates a sqlx.DB with a schema
type DB struct {
	*sqlx.DB
	Schema string
}

// ErrNoRows is returned by Scan when QueryRow doesn't return a
// row. In such a case, QueryRow returns a placeholder *Row value that
// defers this error until a Scan.
var ErrNoRows = sql.ErrNoRows

var validSchema = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func init() {
	sqlx.BindDriver(string(SQLite), sqlx.QUESTION)
}

// Open opens a database for driver, which is either "postgres" or "sqlite".
//
// For Postgres the schema gets created if it does not exist yet, and every pooled connection
// uses it as search path. SQLite ignores the schema and is limited to a single connection,
// which also keeps a ":memory:" database alive for the lifetime of the DB.
func Open(ctx context.Context, driver, dataSourceName, schema string) (*DB, error) {
	rlog := logger.FromContext(ctx)
	switch Dialect(driver) {
	case Postgres:
		if schema == "" {
			schema = "public"
		}
		if !validSchema.MatchString(schema) {
			return nil, fmt.Errorf("invalid schema name %q", schema)
		}
		rlog.Infoln("connecting to postgres database, schema:", schema)
		if schema != "public" {
			bootstrap, err := sqlx.ConnectContext(ctx, driver, dataSourceName)
			if err != nil {
				return nil, fmt.Errorf("cannot connect to postgres: %w", err)
			}
			_, err = bootstrap.ExecContext(ctx, `CREATE SCHEMA IF NOT EXISTS `+schema)
			bootstrap.Close()
			if err != nil {
				return nil, fmt.Errorf("cannot create schema %s: %w", schema, err)
			}
		}
		db, err := sqlx.ConnectContext(ctx, driver, withSearchPath(dataSourceName, schema))
		if err != nil {
			return nil, fmt.Errorf("cannot connect to postgres: %w", err)
		}
		return &DB{DB: db, Schema: schema}, nil

	case SQLite:
		rlog.Infoln("opening sqlite database:", dataSourceName)
		db, err := sqlx.ConnectContext(ctx, driver, dataSourceName)
		if err != nil {
			return nil, fmt.Errorf("cannot open sqlite: %w", err)
		}
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
		if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
			db.Close()
			return nil, fmt.Errorf("cannot enable foreign keys: %w", err)
		}
		return &DB{DB: db, Schema: "main"}, nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", driver)
}

// Dialect returns the SQL dialect of the database
func (db *DB) Dialect() Dialect {
	return Dialect(db.DriverName())
}

// ClearSchema drops all tables in the database's schema
func (db *DB) ClearSchema(ctx context.Context) error {
	switch db.Dialect() {
	case Postgres:
		if db.Schema == "public" {
			return fmt.Errorf("refuse to drop public schema")
		}
		_, err := db.ExecContext(ctx, `DROP SCHEMA `+db.Schema+` CASCADE; CREATE SCHEMA IF NOT EXISTS `+db.Schema+`;`)
		if err != nil {
			return fmt.Errorf("clear schema %s: %w", db.Schema, err)
		}
		return nil
	default:
		var tables []string
		err := db.SelectContext(ctx, &tables,
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`)
		if err != nil {
			return fmt.Errorf("list tables: %w", err)
		}
		if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = OFF`); err != nil {
			return err
		}
		defer db.ExecContext(ctx, `PRAGMA foreign_keys = ON`)
		for _, table := range tables {
			if _, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS "`+table+`"`); err != nil {
				return fmt.Errorf("drop table %s: %w", table, err)
			}
		}
		return nil
	}
}

// withSearchPath adds the search_path runtime parameter to a lib/pq data source name,
// which can either be a URL or a list of key=value pairs.
func withSearchPath(dsn, schema string) string {
	if strings.Contains(dsn, "search_path") {
		return dsn
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		if strings.Contains(dsn, "?") {
			return dsn + "&search_path=" + schema
		}
		return dsn + "?search_path=" + schema
	}
	return strings.TrimSpace(dsn + " search_path=" + schema)
}
