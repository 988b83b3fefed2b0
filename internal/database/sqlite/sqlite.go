// Package sqlite is the single-file table store used by the CLI and tests.
// Embeddings are stored as JSON arrays.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/kozaktomas/variance-tracker/internal/config"
	"github.com/kozaktomas/variance-tracker/internal/database"
	"github.com/kozaktomas/variance-tracker/internal/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func init() {
	database.RegisterBackend("sqlite", func(ctx context.Context, cfg *config.DatabaseConfig) (database.Store, error) {
		return Open(ctx, cfg)
	})
}

// Store implements database.Store on a SQLite file.
type Store struct {
	db   *sql.DB
	caps database.SchemaCapabilities
	now  func() time.Time
}

var _ database.Store = (*Store)(nil)

// Open opens the database file, migrates it unless disabled, and probes the
// schema once.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (*Store, error) {
	db, err := OpenDB(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}

	if !cfg.SkipMigrations {
		if err := Migrate(db, 0); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return NewStore(ctx, db)
}

// OpenDB opens a SQLite file with foreign keys enabled.
func OpenDB(path string) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Migrate applies the embedded migrations up to version, or all of them when
// version is 0.
func Migrate(db *sql.DB, version uint) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if version == 0 {
		err = m.Up()
	} else {
		err = m.Migrate(version)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	current, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read migration version: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"backend": "sqlite",
		"version": current,
		"dirty":   dirty,
	}).Debug("migrations applied")
	return nil
}

// NewStore wraps an already migrated database.
func NewStore(ctx context.Context, db *sql.DB) (*Store, error) {
	caps, err := probeCapabilities(ctx, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("probe schema: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"backend":       "sqlite",
		"session_row":   caps.SessionRow.String(),
		"angle_quality": caps.AngleQuality,
		"analysis_logs": caps.AnalysisLogsTable,
	}).Info("schema capabilities detected")

	return &Store{db: db, caps: caps, now: time.Now}, nil
}

// SetClock overrides the clock used for created_at values.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Capabilities returns the schema capabilities probed at open time.
func (s *Store) Capabilities() database.SchemaCapabilities {
	return s.caps
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

func (s *Store) timestamp(t time.Time) string {
	if t.IsZero() {
		t = s.now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", v, err)
	}
	return t, nil
}

func probeCapabilities(ctx context.Context, db *sql.DB) (database.SchemaCapabilities, error) {
	sessionCols, err := tableColumns(ctx, db, "session_analysis")
	if err != nil {
		return database.SchemaCapabilities{}, err
	}
	angleCols, err := tableColumns(ctx, db, "angle_analysis")
	if err != nil {
		return database.SchemaCapabilities{}, err
	}
	logCols, err := tableColumns(ctx, db, "analysis_logs")
	if err != nil {
		return database.SchemaCapabilities{}, err
	}
	return database.CapabilitiesFromColumns(sessionCols, angleCols, len(logCols) > 0), nil
}

// tableColumns returns the column names of a table; empty when the table is missing.
func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan column of %s: %w", table, err)
		}
		cols[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns of %s: %w", table, err)
	}
	return cols, nil
}
