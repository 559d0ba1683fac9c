package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/example/booking-guard/internal/persistence"
)

func TestErrorMapper_MapError(t *testing.T) {
	mapper := NewErrorMapper()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "no rows", err: sql.ErrNoRows, want: persistence.ErrNotFound},
		{name: "unique", err: errors.New("constraint failed: UNIQUE constraint failed: submissions.id (1555)"), want: persistence.ErrDuplicate},
		{name: "check", err: errors.New("CHECK constraint failed: duration_minutes >= 0"), want: persistence.ErrConstraintViolation},
		{name: "foreign key", err: errors.New("FOREIGN KEY constraint failed"), want: persistence.ErrForeignKeyViolation},
		{name: "locked", err: errors.New("database is locked (5) (SQLITE_BUSY)"), want: persistence.ErrBusy},
		{name: "already mapped", err: fmt.Errorf("wrap: %w", persistence.ErrDuplicate), want: persistence.ErrDuplicate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapper.MapError(tt.err); !errors.Is(got, tt.want) {
				t.Fatalf("MapError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}

	if mapper.MapError(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
	plain := errors.New("disk I/O error")
	if got := mapper.MapError(plain); got != plain {
		t.Fatalf("expected unmapped error to pass through, got %v", got)
	}
}

func TestRetryHelper_WithRetry(t *testing.T) {
	helper := NewRetryHelper(RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2})

	t.Run("retries busy errors", func(t *testing.T) {
		attempts := 0
		err := helper.WithRetry(context.Background(), func() error {
			attempts++
			if attempts < 3 {
				return errors.New("database is locked")
			}
			return nil
		})
		if err != nil || attempts != 3 {
			t.Fatalf("expected success on third attempt, got %v after %d attempts", err, attempts)
		}
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		attempts := 0
		err := helper.WithRetry(context.Background(), func() error {
			attempts++
			return errors.New("database is locked")
		})
		if !errors.Is(err, persistence.ErrBusy) || attempts != 3 {
			t.Fatalf("expected ErrBusy after 3 attempts, got %v after %d", err, attempts)
		}
	})

	t.Run("does not retry other errors", func(t *testing.T) {
		attempts := 0
		err := helper.WithRetry(context.Background(), func() error {
			attempts++
			return errors.New("UNIQUE constraint failed: submissions.id")
		})
		if !errors.Is(err, persistence.ErrDuplicate) || attempts != 1 {
			t.Fatalf("expected single attempt with ErrDuplicate, got %v after %d", err, attempts)
		}
	})

	t.Run("honours cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := helper.WithRetry(ctx, func() error { return errors.New("database is locked") })
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})
}

func TestConnectionPool_WithTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t)

	boom := errors.New("boom")
	err := storage.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO scan_results (id, user_email, scanned_at) VALUES ('x', 'a@example.com', '2026-01-01T00:00:00.000000000Z')`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected original error, got %v", err)
	}

	var count int
	if err := storage.pool.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM scan_results").Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected rollback, found %d rows", count)
	}
}
