package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS energy_totals (
	device_id TEXT PRIMARY KEY,
	total_wh REAL NOT NULL,
	updated TEXT NOT NULL
)`

// SQLiteProvider implements the Database interface on a local SQLite file.
type SQLiteProvider struct {
	db   *sql.DB
	path string
}

func configuredSQLite() *SQLiteProvider {
	path := lflag.String("sqlite-path", "idracpower.db", "Path of the SQLite database file")

	s := &SQLiteProvider{}

	lflag.Do(func() {
		s.path = *path
	})

	return s
}

// NewSQLiteProvider returns a provider for the database at path. Init must be
// called before use.
func NewSQLiteProvider(path string) *SQLiteProvider {
	return &SQLiteProvider{path: path}
}

// Validate checks if the provider is properly configured.
func (s *SQLiteProvider) Validate() error {
	if s.path == "" {
		return errors.New("sqlite-path is required")
	}
	return nil
}

// Init opens the database and creates the schema.
func (s *SQLiteProvider) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database %s: %w", s.path, err)
	}
	// sqlite serializes writers anyway
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to connect to sqlite database %s: %w", s.path, err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return fmt.Errorf("failed to create sqlite schema: %w", err)
	}
	s.db = db
	return nil
}

// Close closes the database.
func (s *SQLiteProvider) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// GetEnergyTotal returns the stored total for deviceID.
func (s *SQLiteProvider) GetEnergyTotal(ctx context.Context, deviceID string) (float64, error) {
	if deviceID == "" {
		return 0, fmt.Errorf("deviceID cannot be empty")
	}
	var total float64
	err := s.db.QueryRowContext(ctx, `SELECT total_wh FROM energy_totals WHERE device_id = ?`, deviceID).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query energy total: %w", err)
	}
	return total, nil
}

// SetEnergyTotal upserts the total for deviceID.
func (s *SQLiteProvider) SetEnergyTotal(ctx context.Context, deviceID string, totalWattHours float64, ts time.Time) error {
	if deviceID == "" {
		return fmt.Errorf("deviceID cannot be empty")
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO energy_totals (device_id, total_wh, updated) VALUES (?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET total_wh = excluded.total_wh, updated = excluded.updated`,
		deviceID, totalWattHours, ts.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save energy total: %w", err)
	}
	return nil
}
