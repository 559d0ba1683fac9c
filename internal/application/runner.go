package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultScanConcurrency bounds concurrent user scans when none is configured.
const DefaultScanConcurrency = 4

// Scanner runs one user's scan.
type Scanner interface {
	Scan(ctx context.Context, user UserProfile) (ScanReport, error)
}

// RunSummary counts the outcomes of one pass over the roster.
type RunSummary struct {
	Scanned int
	Skipped int
	Failed  int
}

// ScanRunner scans every auto-booking user on a fixed cadence.
type ScanRunner struct {
	scanner     Scanner
	concurrency int
	logger      *slog.Logger
}

// NewScanRunner constructs a runner. A non-positive concurrency falls back to
// DefaultScanConcurrency.
func NewScanRunner(scanner Scanner, concurrency int, logger *slog.Logger) *ScanRunner {
	if concurrency <= 0 {
		concurrency = DefaultScanConcurrency
	}
	return &ScanRunner{scanner: scanner, concurrency: concurrency, logger: defaultLogger(logger)}
}

// RunOnce scans all auto-booking users concurrently. A failing user is logged
// and counted without cancelling the others; a user whose scan is already in
// progress is skipped.
func (r *ScanRunner) RunOnce(ctx context.Context, users []UserProfile) RunSummary {
	logger := serviceLogger(ctx, r.logger, "ScanRunner", "RunOnce")

	var (
		mu      sync.Mutex
		summary RunSummary
	)
	count := func(field *int) {
		mu.Lock()
		*field++
		mu.Unlock()
	}

	var group errgroup.Group
	group.SetLimit(r.concurrency)
	for _, user := range users {
		user := user
		if !user.AutoBooking {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		group.Go(func() error {
			_, err := r.scanner.Scan(ctx, user)
			switch {
			case err == nil:
				count(&summary.Scanned)
			case errors.Is(err, ErrScanInProgress):
				logger.InfoContext(ctx, "scan skipped, already running", "user", normalizeEmail(user.Email))
				count(&summary.Skipped)
			default:
				logger.ErrorContext(ctx, "user scan failed", "user", normalizeEmail(user.Email), "error", err, "error_kind", ErrorKind(err))
				count(&summary.Failed)
			}
			return nil
		})
	}
	_ = group.Wait()

	logger.InfoContext(ctx, "scan pass finished", "scanned", summary.Scanned, "skipped", summary.Skipped, "failed", summary.Failed)
	return summary
}

// Run performs a pass immediately and then on every interval tick until ctx
// is done.
func (r *ScanRunner) Run(ctx context.Context, interval time.Duration, users []UserProfile) error {
	if interval <= 0 {
		interval = time.Hour
	}

	r.RunOnce(ctx, users)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.RunOnce(ctx, users)
		}
	}
}
