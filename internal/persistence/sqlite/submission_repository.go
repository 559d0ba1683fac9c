package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/example/booking-guard/internal/persistence"
)

// SubmissionRepository implements persistence.SubmissionRepository using SQLite
type SubmissionRepository struct {
	pool   *ConnectionPool
	mapper *ErrorMapper
	retry  *RetryHelper
}

// NewSubmissionRepository creates a new SQLite submission repository
func NewSubmissionRepository(pool *ConnectionPool) *SubmissionRepository {
	return &SubmissionRepository{
		pool:   pool,
		mapper: NewErrorMapper(),
		retry:  NewRetryHelper(DefaultRetryConfig()),
	}
}

// InsertSubmissions stores all submissions in one transaction. Either every
// row is written or none is.
func (r *SubmissionRepository) InsertSubmissions(ctx context.Context, submissions []persistence.Submission) error {
	if len(submissions) == 0 {
		return nil
	}
	for _, submission := range submissions {
		if submission.ID == "" || submission.UserEmail == "" || submission.SubmittedAt.IsZero() {
			return persistence.ErrConstraintViolation
		}
	}

	const query = `
		INSERT INTO submissions (id, submitted_at, user_email, session_id, title, school, teacher, ticket_id, start_time, duration_minutes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	return r.retry.WithRetry(ctx, func() error {
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			stmt, err := tx.PrepareContext(ctx, query)
			if err != nil {
				return r.mapper.MapError(err)
			}
			defer stmt.Close()

			for _, submission := range submissions {
				var start sql.NullString
				if submission.Start != nil {
					start = sql.NullString{String: formatTimestamp(*submission.Start), Valid: true}
				}

				if _, err := stmt.ExecContext(ctx,
					submission.ID,
					formatTimestamp(submission.SubmittedAt),
					submission.UserEmail,
					submission.SessionID,
					submission.Title,
					submission.School,
					submission.Teacher,
					submission.TicketID,
					start,
					submission.DurationMinutes,
				); err != nil {
					return r.mapper.MapError(err)
				}
			}
			return nil
		})
	})
}

// ListSubmissions returns matching submissions, newest first.
func (r *SubmissionRepository) ListSubmissions(ctx context.Context, filter persistence.SubmissionFilter) ([]persistence.Submission, error) {
	query, args := r.buildListQuery(filter)

	var submissions []persistence.Submission
	err := r.pool.WithReadOnlyTransaction(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return r.mapper.MapError(err)
		}
		defer rows.Close()

		for rows.Next() {
			submission, err := scanSubmission(rows)
			if err != nil {
				return err
			}
			submissions = append(submissions, submission)
		}
		return r.mapper.MapError(rows.Err())
	})
	if err != nil {
		return nil, err
	}

	return submissions, nil
}

// DeleteSubmissionsBefore removes submissions strictly older than cutoff and
// reports how many rows were deleted.
func (r *SubmissionRepository) DeleteSubmissionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := r.retry.WithRetry(ctx, func() error {
		result, err := r.pool.DB().ExecContext(ctx, "DELETE FROM submissions WHERE submitted_at < ?", formatTimestamp(cutoff))
		if err != nil {
			return err
		}
		deleted, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func (r *SubmissionRepository) buildListQuery(filter persistence.SubmissionFilter) (string, []interface{}) {
	query := `
		SELECT id, submitted_at, user_email, session_id, title, school, teacher, ticket_id, start_time, duration_minutes
		FROM submissions
	`

	var conditions []string
	var args []interface{}

	if email := strings.TrimSpace(filter.UserEmail); email != "" {
		conditions = append(conditions, "user_email = ? COLLATE NOCASE")
		args = append(args, email)
	}

	if !filter.SubmittedSince.IsZero() {
		conditions = append(conditions, "submitted_at >= ?")
		args = append(args, formatTimestamp(filter.SubmittedSince))
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY submitted_at DESC, id DESC"

	return query, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (persistence.Submission, error) {
	var (
		submission  persistence.Submission
		submittedAt string
		start       sql.NullString
	)

	if err := row.Scan(
		&submission.ID,
		&submittedAt,
		&submission.UserEmail,
		&submission.SessionID,
		&submission.Title,
		&submission.School,
		&submission.Teacher,
		&submission.TicketID,
		&start,
		&submission.DurationMinutes,
	); err != nil {
		return persistence.Submission{}, err
	}

	var err error
	if submission.SubmittedAt, err = parseTimestamp("submitted_at", submittedAt); err != nil {
		return persistence.Submission{}, err
	}
	if start.Valid {
		parsed, err := parseTimestamp("start_time", start.String)
		if err != nil {
			return persistence.Submission{}, err
		}
		submission.Start = &parsed
	}

	return submission, nil
}
