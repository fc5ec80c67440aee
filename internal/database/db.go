package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

//go:embed migrations
var migrations embed.FS

// Querier is satisfied by *sql.DB and *sql.Tx. Operations that accept a
// Querier run inside the caller's transaction when given a *sql.Tx, and on
// the pool when given nil.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// DB wraps the database connection
type DB struct {
	*sql.DB
	driver string
	log    logrus.FieldLogger
}

// Connect establishes a connection to the database
func Connect(ctx context.Context, driver, dsn string, log logrus.FieldLogger) (*DB, error) {
	switch driver {
	case DriverPostgres:
	case DriverSQLite:
		if !strings.Contains(dsn, "?") {
			dsn += "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	if log == nil {
		log = logrus.StandardLogger()
	}

	return &DB{DB: db, driver: driver, log: log.WithField("component", "database")}, nil
}

// Driver returns the driver name the DB was opened with.
func (db *DB) Driver() string {
	return db.driver
}

// RunMigrations executes the embedded SQL migrations for the driver in order.
// Every migration is idempotent.
func (db *DB) RunMigrations(ctx context.Context) error {
	dir := path.Join("migrations", db.driver)
	files, err := fs.ReadDir(migrations, dir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var sqlFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".sql") {
			sqlFiles = append(sqlFiles, file.Name())
		}
	}
	sort.Strings(sqlFiles)

	for _, filename := range sqlFiles {
		db.log.WithField("migration", filename).Debug("running migration")

		content, err := fs.ReadFile(migrations, path.Join(dir, filename))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}

		if _, err := db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}
	}

	db.log.WithField("count", len(sqlFiles)).Info("migrations completed")
	return nil
}

// WithTx runs fn in a transaction, committing when fn returns nil and
// rolling back otherwise.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.log.WithError(rbErr).Warn("rollback failed")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Health checks database connectivity
func (db *DB) Health(ctx context.Context) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

func (db *DB) querier(q Querier) Querier {
	if q == nil {
		return db.DB
	}
	return q
}
