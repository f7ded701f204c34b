// Package store is the SQL persistence layer: the weather cache table, farm
// locations, the disease catalogue and detection history. SQLite and PostgreSQL
// share every query; placeholders are rebound per driver.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/kjstillabower/cropsense-service/internal/observability"
)

//go:embed migrations/*.sql
var sqliteMigrations embed.FS

//go:embed pgmigrations/*.sql
var pgMigrations embed.FS

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// goose keeps its base FS and dialect in package state.
var gooseMu sync.Mutex

// DB wraps a sqlx handle with per-query latency metrics.
type DB struct {
	db     *sqlx.DB
	driver string
}

// Open connects to driver ("sqlite" or "postgres") at dsn. For SQLite the parent
// directory is created and the file is restricted to 0600. Migrations are not run;
// call Migrate.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	var (
		db  *sqlx.DB
		err error
	)
	switch driver {
	case DriverSQLite:
		db, err = openSQLite(dsn)
	case DriverPostgres:
		db, err = sqlx.Open("pgx", dsn)
	default:
		return nil, fmt.Errorf("unknown database driver: %q", driver)
	}
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{db: db, driver: driver}, nil
}

func openSQLite(dsn string) (*sqlx.DB, error) {
	if dir := filepath.Dir(dsn); dsn != ":memory:" && dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps pragmas and :memory: databases consistent across queries.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}
	if err := os.Chmod(dsn, 0o600); err != nil && !os.IsNotExist(err) {
		_ = db.Close()
		return nil, fmt.Errorf("set database file permissions: %w", err)
	}
	return db, nil
}

// Driver returns the configured driver name.
func (d *DB) Driver() string { return d.driver }

func (d *DB) Close() error { return d.db.Close() }

func (d *DB) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}
	return nil
}

func (d *DB) migrationSource() (embed.FS, string, string) {
	if d.driver == DriverPostgres {
		return pgMigrations, "pgmigrations", "postgres"
	}
	return sqliteMigrations, "migrations", "sqlite3"
}

// gooseLogger routes goose progress lines through zap.
type gooseLogger struct {
	logger *zap.Logger
}

func (g gooseLogger) Printf(format string, v ...interface{}) {
	g.logger.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (g gooseLogger) Fatalf(format string, v ...interface{}) {
	g.logger.Fatal(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// SetMigrationLogger sends goose output to logger instead of the standard log package.
func SetMigrationLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	gooseMu.Lock()
	defer gooseMu.Unlock()
	goose.SetLogger(gooseLogger{logger: logger.With(zap.String("component", "migrations"))})
}

// Migrate applies all pending embedded migrations.
func (d *DB) Migrate() error {
	fsys, dir, dialect := d.migrationSource()
	gooseMu.Lock()
	defer gooseMu.Unlock()
	goose.SetBaseFS(fsys)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(d.db.DB, dir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Migration is an embedded migration and whether it has been applied.
type Migration struct {
	Version int64
	Source  string
	Applied bool
}

// MigrationStatus reports the current schema version and every embedded migration
// without applying anything.
func (d *DB) MigrationStatus() (int64, []Migration, error) {
	fsys, dir, dialect := d.migrationSource()
	gooseMu.Lock()
	defer gooseMu.Unlock()
	goose.SetBaseFS(fsys)
	if err := goose.SetDialect(dialect); err != nil {
		return 0, nil, fmt.Errorf("set goose dialect: %w", err)
	}
	current, err := goose.GetDBVersion(d.db.DB)
	if err != nil {
		return 0, nil, fmt.Errorf("read schema version: %w", err)
	}
	all, err := goose.CollectMigrations(dir, 0, goose.MaxVersion)
	if err != nil {
		return 0, nil, fmt.Errorf("collect migrations: %w", err)
	}
	out := make([]Migration, 0, len(all))
	for _, m := range all {
		out = append(out, Migration{Version: m.Version, Source: filepath.Base(m.Source), Applied: m.Version <= current})
	}
	return current, out, nil
}

// rebind converts ? placeholders for the active driver.
func (d *DB) rebind(query string) string {
	return d.db.Rebind(query)
}

// observe records query latency under a stable query label.
func observe(query string, start time.Time) {
	observability.DBQueryDuration.WithLabelValues(query).Observe(time.Since(start).Seconds())
}

func (d *DB) get(ctx context.Context, label string, dest interface{}, query string, args ...interface{}) error {
	defer observe(label, time.Now())
	return d.db.GetContext(ctx, dest, d.rebind(query), args...)
}

func (d *DB) selectRows(ctx context.Context, label string, dest interface{}, query string, args ...interface{}) error {
	defer observe(label, time.Now())
	return d.db.SelectContext(ctx, dest, d.rebind(query), args...)
}

func (d *DB) exec(ctx context.Context, label, query string, args ...interface{}) (sql.Result, error) {
	defer observe(label, time.Now())
	return d.db.ExecContext(ctx, d.rebind(query), args...)
}

// inTx runs fn in a transaction, rolling back when fn fails.
func (d *DB) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
