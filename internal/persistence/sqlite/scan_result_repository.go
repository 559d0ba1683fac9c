package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/booking-guard/internal/persistence"
)

const defaultScanResultLimit = 20

// ScanResultRepository implements persistence.ScanResultRepository using SQLite
type ScanResultRepository struct {
	pool   *ConnectionPool
	mapper *ErrorMapper
	retry  *RetryHelper
}

// NewScanResultRepository creates a new SQLite scan result repository
func NewScanResultRepository(pool *ConnectionPool) *ScanResultRepository {
	return &ScanResultRepository{
		pool:   pool,
		mapper: NewErrorMapper(),
		retry:  NewRetryHelper(DefaultRetryConfig()),
	}
}

// CreateScanResult stores one scan summary.
func (r *ScanResultRepository) CreateScanResult(ctx context.Context, result persistence.ScanResult) error {
	if result.ID == "" || result.UserEmail == "" || result.ScannedAt.IsZero() {
		return persistence.ErrConstraintViolation
	}

	candidateIDs := result.CandidateIDs
	if candidateIDs == nil {
		candidateIDs = []string{}
	}
	encodedIDs, err := json.Marshal(candidateIDs)
	if err != nil {
		return fmt.Errorf("failed to encode candidate ids: %w", err)
	}

	conflicts := result.Conflicts
	if len(conflicts) == 0 {
		conflicts = json.RawMessage("[]")
	}
	if !json.Valid(conflicts) {
		return fmt.Errorf("%w: conflicts payload is not valid JSON", persistence.ErrConstraintViolation)
	}

	const query = `
		INSERT INTO scan_results (id, user_email, scanned_at, candidate_ids, conflicts, candidate_count, conflict_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	return r.retry.WithRetry(ctx, func() error {
		_, err := r.pool.DB().ExecContext(ctx, query,
			result.ID,
			result.UserEmail,
			formatTimestamp(result.ScannedAt),
			string(encodedIDs),
			string(conflicts),
			result.CandidateCount,
			result.ConflictCount,
		)
		return err
	})
}

// ListScanResults returns the most recent scans for a user, newest first.
// A non-positive limit falls back to the default page size.
func (r *ScanResultRepository) ListScanResults(ctx context.Context, userEmail string, limit int) ([]persistence.ScanResult, error) {
	if limit <= 0 {
		limit = defaultScanResultLimit
	}

	const query = `
		SELECT id, user_email, scanned_at, candidate_ids, conflicts, candidate_count, conflict_count
		FROM scan_results
		WHERE user_email = ? COLLATE NOCASE
		ORDER BY scanned_at DESC, id DESC
		LIMIT ?
	`

	var results []persistence.ScanResult
	err := r.pool.WithReadOnlyTransaction(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, userEmail, limit)
		if err != nil {
			return r.mapper.MapError(err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				result       persistence.ScanResult
				scannedAt    string
				candidateIDs string
				conflicts    string
			)
			if err := rows.Scan(
				&result.ID,
				&result.UserEmail,
				&scannedAt,
				&candidateIDs,
				&conflicts,
				&result.CandidateCount,
				&result.ConflictCount,
			); err != nil {
				return r.mapper.MapError(err)
			}

			if result.ScannedAt, err = parseTimestamp("scanned_at", scannedAt); err != nil {
				return err
			}
			if err := json.Unmarshal([]byte(candidateIDs), &result.CandidateIDs); err != nil {
				return fmt.Errorf("failed to decode candidate_ids: %w", err)
			}
			result.Conflicts = json.RawMessage(conflicts)

			results = append(results, result)
		}
		return r.mapper.MapError(rows.Err())
	})
	if err != nil {
		return nil, err
	}

	return results, nil
}

// DeleteScanResultsBefore removes scan results strictly older than cutoff.
func (r *ScanResultRepository) DeleteScanResultsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := r.retry.WithRetry(ctx, func() error {
		result, err := r.pool.DB().ExecContext(ctx, "DELETE FROM scan_results WHERE scanned_at < ?", formatTimestamp(cutoff))
		if err != nil {
			return err
		}
		deleted, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}
