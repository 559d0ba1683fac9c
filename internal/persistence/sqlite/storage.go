package sqlite

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/booking-guard/internal/persistence/sqlite/migration"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// timestampLayout is fixed width so that TEXT comparisons order like instants.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// Storage bundles the SQLite connection pool with the repositories built on it.
type Storage struct {
	pool        *ConnectionPool
	submissions *SubmissionRepository
	scanResults *ScanResultRepository
}

// Open connects to the database described by config. Call Migrate before use
// on a fresh database.
func Open(config migration.SQLiteConfig) (*Storage, error) {
	pool, err := NewConnectionPool(config)
	if err != nil {
		return nil, err
	}
	return &Storage{
		pool:        pool,
		submissions: NewSubmissionRepository(pool),
		scanResults: NewScanResultRepository(pool),
	}, nil
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	return s.pool.Close()
}

// Ping verifies that the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate applies the embedded schema migrations.
func (s *Storage) Migrate(ctx context.Context, logger *slog.Logger) error {
	manager := migration.NewManagerWithLogger(
		migration.NewFSScanner(migrationFiles, "migrations"),
		migration.NewSQLiteExecutor(s.pool.DB()),
		logger,
	)
	if err := manager.RunMigrations(ctx); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

// Submissions returns the submission log repository.
func (s *Storage) Submissions() *SubmissionRepository {
	return s.submissions
}

// ScanResults returns the scan result repository.
func (s *Storage) ScanResults() *ScanResultRepository {
	return s.scanResults
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(column, value string) (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse %s: %w", column, err)
	}
	return parsed.UTC(), nil
}
