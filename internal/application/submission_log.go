package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/booking-guard/internal/scheduler"
)

// DefaultRetentionDays is the rolling window applied when none is configured.
const DefaultRetentionDays = 30

// SubmissionRepository captures the persistence operations needed by the submission log.
type SubmissionRepository interface {
	InsertSubmissions(ctx context.Context, entries []LogEntry) error
	ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]LogEntry, error)
	DeleteSubmissionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ExpiringStore is any record store pruned with the same retention window as
// the submission log.
type ExpiringStore interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SubmissionLog is the durable record of completed ticket submissions, bounded
// by a rolling retention window. Append and Prune hold the write lock; Query
// prunes under the write lock and reads under the read lock so readers never
// observe a partial mutation.
type SubmissionLog struct {
	repo        SubmissionRepository
	companions  []ExpiringStore
	retention   time.Duration
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger

	mu sync.RWMutex
}

// NewSubmissionLog constructs a submission log with the provided dependencies.
func NewSubmissionLog(repo SubmissionRepository, now func() time.Time, retentionDays int) *SubmissionLog {
	return NewSubmissionLogWithLogger(repo, nil, now, retentionDays, nil)
}

// NewSubmissionLogWithLogger constructs a submission log with a specified logger.
// A nil idGenerator falls back to random UUIDs and a non-positive retention to
// DefaultRetentionDays.
func NewSubmissionLogWithLogger(repo SubmissionRepository, idGenerator func() string, now func() time.Time, retentionDays int, logger *slog.Logger) *SubmissionLog {
	if idGenerator == nil {
		idGenerator = uuid.NewString
	}
	if now == nil {
		now = time.Now
	}
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &SubmissionLog{
		repo:        repo,
		retention:   time.Duration(retentionDays) * 24 * time.Hour,
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
	}
}

// PruneAlongside registers a store whose records expire with the log's entries.
func (l *SubmissionLog) PruneAlongside(store ExpiringStore) {
	if l == nil || store == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.companions = append(l.companions, store)
}

// Retention returns the configured retention window.
func (l *SubmissionLog) Retention() time.Duration {
	return l.retention
}

func (l *SubmissionLog) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, l.logger, "SubmissionLog", operation, attrs...)
}

// Append records one entry per completed submission, all stamped with the
// current UTC time. The batch is written atomically; write errors are returned.
func (l *SubmissionLog) Append(ctx context.Context, user string, submissions []NewSubmission) ([]LogEntry, error) {
	return l.append(ctx, "Append", user, submissions, false)
}

// AppendOnce is Append for at-least-once delivery: a submission carrying a
// ticket id that the user's retained log already holds for the same session is
// skipped, as is a repeat within the batch. Only the new entries are returned.
func (l *SubmissionLog) AppendOnce(ctx context.Context, user string, submissions []NewSubmission) ([]LogEntry, error) {
	return l.append(ctx, "AppendOnce", user, submissions, true)
}

func (l *SubmissionLog) append(ctx context.Context, operation, user string, submissions []NewSubmission, once bool) (entries []LogEntry, err error) {
	if l == nil {
		err = fmt.Errorf("SubmissionLog is nil")
		return
	}

	user = normalizeEmail(user)
	logger := l.loggerWith(ctx, operation, "user", user, "count", len(submissions))
	skipped := 0
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to append submissions", "error", err, "error_kind", ErrorKind(err))
			return
		}
		if skipped > 0 {
			logger.InfoContext(ctx, "skipped already recorded submissions", "skipped", skipped)
		}
		if len(entries) > 0 {
			logger.InfoContext(ctx, "submissions appended")
		}
	}()

	if user == "" {
		vErr := &ValidationError{}
		vErr.add("user", "user is required")
		err = vErr
		return
	}
	if len(submissions) == 0 {
		return
	}
	if l.repo == nil {
		err = fmt.Errorf("submission repository not configured")
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if once {
		var recorded map[string]struct{}
		if recorded, err = l.recordedTicketsLocked(ctx, user, now); err != nil {
			err = fmt.Errorf("list recorded submissions: %w", err)
			return
		}
		fresh := make([]NewSubmission, 0, len(submissions))
		for _, submission := range submissions {
			if submission.TicketID != "" {
				key := ticketKey(submission.SessionID, submission.TicketID)
				if _, ok := recorded[key]; ok {
					skipped++
					continue
				}
				recorded[key] = struct{}{}
			}
			fresh = append(fresh, submission)
		}
		if len(fresh) == 0 {
			return
		}
		submissions = fresh
	}

	submittedAt := now.UTC()
	built := make([]LogEntry, 0, len(submissions))
	for _, submission := range submissions {
		built = append(built, l.buildEntry(user, submittedAt, submission))
	}

	if err = l.repo.InsertSubmissions(ctx, built); err != nil {
		err = fmt.Errorf("insert submissions: %w", err)
		return
	}

	entries = built
	return
}

func (l *SubmissionLog) recordedTicketsLocked(ctx context.Context, user string, now time.Time) (map[string]struct{}, error) {
	existing, err := l.repo.ListSubmissions(ctx, SubmissionFilter{UserEmail: user, SubmittedSince: l.cutoff(now)})
	if err != nil {
		return nil, err
	}
	recorded := make(map[string]struct{}, len(existing))
	for _, entry := range existing {
		recorded[ticketKey(entry.SessionID, entry.TicketID)] = struct{}{}
	}
	return recorded, nil
}

func ticketKey(sessionID, ticketID string) string {
	return sessionID + "\x00" + ticketID
}

func (l *SubmissionLog) buildEntry(user string, submittedAt time.Time, submission NewSubmission) LogEntry {
	entry := LogEntry{
		ID:              l.idGenerator(),
		SubmittedAt:     submittedAt,
		SubmittedBy:     user,
		SessionID:       submission.SessionID,
		Title:           defaultString(submission.Title, UnknownTitle),
		School:          defaultString(submission.School, UnknownSchool),
		Teacher:         defaultString(submission.Teacher, UnknownTeacher),
		TicketID:        defaultString(submission.TicketID, UnknownTicket),
		DurationMinutes: submission.DurationMinutes,
	}
	if entry.DurationMinutes < 0 {
		entry.DurationMinutes = 0
	}
	if start := scheduler.ParseISO(submission.Start); !start.IsZero() {
		start = start.UTC()
		entry.Start = &start
	}
	return entry
}

// Prune removes entries older than the retention window, along with any
// registered companion records. Entries exactly at the cutoff are kept.
func (l *SubmissionLog) Prune(ctx context.Context) (deleted int64, err error) {
	if l == nil {
		err = fmt.Errorf("SubmissionLog is nil")
		return
	}

	logger := l.loggerWith(ctx, "Prune")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to prune submission log", "error", err, "error_kind", ErrorKind(err))
			return
		}
		if deleted > 0 {
			logger.InfoContext(ctx, "submission log pruned", "deleted", deleted)
		}
	}()

	l.mu.Lock()
	defer l.mu.Unlock()

	deleted, err = l.pruneLocked(ctx, l.cutoff(l.now()))
	return
}

func (l *SubmissionLog) pruneLocked(ctx context.Context, cutoff time.Time) (int64, error) {
	if l.repo == nil {
		return 0, fmt.Errorf("submission repository not configured")
	}

	deleted, err := l.repo.DeleteSubmissionsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired submissions: %w", err)
	}

	var companionErrs []error
	for _, store := range l.companions {
		if _, cerr := store.DeleteBefore(ctx, cutoff); cerr != nil {
			companionErrs = append(companionErrs, cerr)
		}
	}
	if len(companionErrs) > 0 {
		return deleted, fmt.Errorf("delete expired companion records: %w", errors.Join(companionErrs...))
	}
	return deleted, nil
}

// Query prunes expired entries and returns the remaining ones matching opts,
// newest first. A failed prune is logged and the read still excludes entries
// past the retention cutoff.
func (l *SubmissionLog) Query(ctx context.Context, opts QueryOptions) (entries []LogEntry, err error) {
	if l == nil {
		err = fmt.Errorf("SubmissionLog is nil")
		return
	}

	logger := l.loggerWith(ctx, "Query", "user", normalizeEmail(opts.User))
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to query submission log", "error", err, "error_kind", ErrorKind(err))
		}
	}()

	if l.repo == nil {
		err = fmt.Errorf("submission repository not configured")
		return
	}

	now := l.now()
	cutoff := l.cutoff(now)

	l.mu.Lock()
	if _, perr := l.pruneLocked(ctx, cutoff); perr != nil {
		logger.WarnContext(ctx, "prune before read failed", "error", perr, "error_kind", ErrorKind(perr))
	}
	l.mu.Unlock()

	since := cutoff
	if opts.WindowPastDays > 0 {
		if window := now.UTC().AddDate(0, 0, -opts.WindowPastDays); window.After(since) {
			since = window
		}
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	entries, err = l.repo.ListSubmissions(ctx, SubmissionFilter{
		UserEmail:      normalizeEmail(opts.User),
		SubmittedSince: since,
	})
	if err != nil {
		err = fmt.Errorf("list submissions: %w", err)
		entries = nil
	}
	return
}

// History returns the user's non-expired entries in the detector's shape. It
// is the read path of a scan and degrades to no history on storage errors.
func (l *SubmissionLog) History(ctx context.Context, user string) []scheduler.HistoryEntry {
	if l == nil {
		return nil
	}
	entries, err := l.Query(ctx, QueryOptions{User: user})
	if err != nil {
		l.loggerWith(ctx, "History", "user", normalizeEmail(user)).
			WarnContext(ctx, "submission history unavailable, scanning without it", "error", err, "error_kind", ErrorKind(err))
		return nil
	}

	history := make([]scheduler.HistoryEntry, 0, len(entries))
	for _, entry := range entries {
		history = append(history, entry.HistoryEntry())
	}
	return history
}

func (l *SubmissionLog) cutoff(now time.Time) time.Time {
	return now.UTC().Add(-l.retention)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
