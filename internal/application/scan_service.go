package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/booking-guard/internal/persistence"
	"github.com/example/booking-guard/internal/scheduler"
)

// ExistingStatusFilter is the status set requested for committed sessions.
var ExistingStatusFilter = []string{"Booked"}

// SessionSource supplies normalized sessions for a scan.
type SessionSource interface {
	Candidates(ctx context.Context, user UserProfile) ([]scheduler.Session, error)
	Existing(ctx context.Context, user UserProfile, schools []string, statuses []string) ([]scheduler.Session, error)
}

// Notifier receives the annotated candidates of a scan that found conflicts.
type Notifier interface {
	NotifyConflicts(ctx context.Context, user UserProfile, scannedAt time.Time, sessions []scheduler.Session) error
}

// SubmissionExecutor submits tickets for unflagged candidates. It returns the
// submissions it completed synchronously; asynchronous executors return none
// and report completions through RecordCompletedSubmissions later.
type SubmissionExecutor interface {
	Submit(ctx context.Context, user UserProfile, sessions []scheduler.Session) ([]NewSubmission, error)
}

// ScanRecorder persists scan summaries.
type ScanRecorder interface {
	RecordScan(ctx context.Context, record ScanRecord) error
	ListScans(ctx context.Context, user string, limit int) ([]ScanRecord, error)
}

// ScanDependencies groups the collaborators of a ScanService. Source and Log
// are required; Notifier and Executor fall back to logging implementations,
// Guard to a LocalGuard, and a nil Recorder skips persisting summaries.
type ScanDependencies struct {
	Source   SessionSource
	Log      *SubmissionLog
	Notifier Notifier
	Executor SubmissionExecutor
	Recorder ScanRecorder
	Guard    ExecutionGuard
}

// ScanService runs the conflict scan for one user and branches to notification
// or submission.
type ScanService struct {
	deps        ScanDependencies
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewScanService constructs a scan service with the provided dependencies.
func NewScanService(deps ScanDependencies, now func() time.Time) *ScanService {
	return NewScanServiceWithLogger(deps, nil, now, nil)
}

// NewScanServiceWithLogger constructs a scan service with a specified logger.
func NewScanServiceWithLogger(deps ScanDependencies, idGenerator func() string, now func() time.Time, logger *slog.Logger) *ScanService {
	if idGenerator == nil {
		idGenerator = uuid.NewString
	}
	if now == nil {
		now = time.Now
	}
	logger = defaultLogger(logger)
	if deps.Notifier == nil {
		deps.Notifier = NewLogNotifier(logger)
	}
	if deps.Executor == nil {
		deps.Executor = NewDryRunExecutor(logger)
	}
	if deps.Guard == nil {
		deps.Guard = NewLocalGuard()
	}
	return &ScanService{deps: deps, idGenerator: idGenerator, now: now, logger: logger}
}

func (s *ScanService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "ScanService", operation, attrs...)
}

// Scan fetches the user's candidates, runs the detector against committed
// sessions and submission history, records a summary, and then either
// notifies about conflicts or hands the candidates to the executor.
func (s *ScanService) Scan(ctx context.Context, user UserProfile) (report ScanReport, err error) {
	if s == nil {
		err = fmt.Errorf("ScanService is nil")
		return
	}

	email := normalizeEmail(user.Email)
	logger := s.loggerWith(ctx, "Scan", "user", email)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "scan failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "scan completed",
			"scan_id", report.ID,
			"outcome", string(report.Outcome),
			"candidates", len(report.Sessions),
			"conflicts", report.Conflicts,
			"submitted", len(report.Submitted),
		)
	}()

	if email == "" {
		vErr := &ValidationError{}
		vErr.add("email", "user email is required")
		err = vErr
		return
	}
	if s.deps.Source == nil {
		err = fmt.Errorf("session source not configured")
		return
	}

	var release func()
	release, err = s.deps.Guard.Acquire(ctx, ScanGuardKey(email))
	if err != nil {
		return
	}
	defer release()

	report = ScanReport{ID: s.idGenerator(), User: email}

	var candidates []scheduler.Session
	candidates, err = s.deps.Source.Candidates(ctx, user)
	if err != nil {
		err = fmt.Errorf("fetch candidates: %w", err)
		return
	}

	if len(candidates) > 0 {
		var existing []scheduler.Session
		if schools := schoolNames(candidates); len(schools) > 0 {
			existing, err = s.deps.Source.Existing(ctx, user, schools, ExistingStatusFilter)
			if err != nil {
				err = fmt.Errorf("fetch existing sessions: %w", err)
				return
			}
		}
		report.Sessions = scheduler.Detect(candidates, existing, s.deps.Log.History(ctx, email))
	}

	conflicts := scheduler.Conflicted(report.Sessions)
	report.Conflicts = len(conflicts)
	report.ScannedAt = s.now().UTC()

	if err = s.record(ctx, report, conflicts); err != nil {
		return
	}

	switch {
	case len(report.Sessions) == 0:
		report.Outcome = ScanOutcomeNoCandidates
	case len(conflicts) > 0:
		report.Outcome = ScanOutcomeConflicts
		if err = s.deps.Notifier.NotifyConflicts(ctx, user, report.ScannedAt, report.Sessions); err != nil {
			err = fmt.Errorf("notify conflicts: %w", err)
		}
	default:
		report.Submitted, err = s.submit(ctx, user, report.Sessions)
		report.Outcome = ScanOutcomeSubmissionRequested
		if len(report.Submitted) > 0 {
			report.Outcome = ScanOutcomeSubmitted
		}
	}
	return
}

func (s *ScanService) record(ctx context.Context, report ScanReport, conflicts []scheduler.Session) error {
	if s.deps.Recorder == nil {
		return nil
	}

	payload, err := json.Marshal(conflicts)
	if err != nil {
		return fmt.Errorf("encode conflicts: %w", err)
	}

	candidateIDs := make([]string, 0, len(report.Sessions))
	for _, session := range report.Sessions {
		candidateIDs = append(candidateIDs, session.ID)
	}

	record := ScanRecord{
		ID:             report.ID,
		User:           report.User,
		ScannedAt:      report.ScannedAt,
		CandidateIDs:   candidateIDs,
		Conflicts:      payload,
		CandidateCount: len(report.Sessions),
		ConflictCount:  len(conflicts),
	}
	if err := s.deps.Recorder.RecordScan(ctx, record); err != nil {
		return fmt.Errorf("record scan: %w", err)
	}
	return nil
}

func (s *ScanService) submit(ctx context.Context, user UserProfile, sessions []scheduler.Session) ([]LogEntry, error) {
	completed, err := s.deps.Executor.Submit(ctx, user, scheduler.Unflagged(sessions))
	if err != nil {
		return nil, fmt.Errorf("submit sessions: %w", err)
	}
	if len(completed) == 0 {
		return nil, nil
	}

	entries, err := s.deps.Log.Append(ctx, user.Email, completed)
	if err != nil {
		return nil, &SubmissionLogError{User: normalizeEmail(user.Email), Submissions: completed, Err: err}
	}
	return entries, nil
}

// CheckConflicts runs the detector for user against caller supplied sessions
// and the user's submission history. It has no side effects.
func (s *ScanService) CheckConflicts(ctx context.Context, user string, candidates, existing []scheduler.Session) (annotated []scheduler.Session, err error) {
	if s == nil {
		err = fmt.Errorf("ScanService is nil")
		return
	}

	email := normalizeEmail(user)
	logger := s.loggerWith(ctx, "CheckConflicts", "user", email, "candidates", len(candidates))
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "conflict check failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.DebugContext(ctx, "conflict check completed", "conflicts", len(scheduler.Conflicted(annotated)))
	}()

	if email == "" {
		vErr := &ValidationError{}
		vErr.add("user", "user is required")
		err = vErr
		return
	}

	annotated = scheduler.Detect(candidates, existing, s.deps.Log.History(ctx, email))
	return
}

// RecordCompletedSubmissions appends submissions completed outside a scan,
// such as those reported by an asynchronous executor. Redelivered completions
// already in the log are skipped.
func (s *ScanService) RecordCompletedSubmissions(ctx context.Context, user string, submissions []NewSubmission) ([]LogEntry, error) {
	if s == nil {
		return nil, fmt.Errorf("ScanService is nil")
	}
	return s.deps.Log.AppendOnce(ctx, user, submissions)
}

// QuerySubmissions returns non-expired submission log entries.
func (s *ScanService) QuerySubmissions(ctx context.Context, opts QueryOptions) ([]LogEntry, error) {
	if s == nil {
		return nil, fmt.Errorf("ScanService is nil")
	}
	return s.deps.Log.Query(ctx, opts)
}

// ListScans returns the most recent scan summaries for user.
func (s *ScanService) ListScans(ctx context.Context, user string, limit int) (records []ScanRecord, err error) {
	if s == nil {
		err = fmt.Errorf("ScanService is nil")
		return
	}
	if s.deps.Recorder == nil {
		return nil, nil
	}

	email := normalizeEmail(user)
	records, err = s.deps.Recorder.ListScans(ctx, email, limit)
	if err != nil {
		err = mapRepoError(err)
		s.loggerWith(ctx, "ListScans", "user", email).
			ErrorContext(ctx, "failed to list scans", "error", err, "error_kind", ErrorKind(err))
	}
	return
}

// schoolNames returns the distinct candidate schools in first-seen order,
// skipping blanks and the unknown-school placeholder. Names are kept verbatim
// because the detector compares schools exactly.
func schoolNames(candidates []scheduler.Session) []string {
	seen := make(map[string]struct{}, len(candidates))
	var schools []string
	for _, candidate := range candidates {
		school := candidate.School
		if trimmed := strings.TrimSpace(school); trimmed == "" || trimmed == UnknownSchool {
			continue
		}
		if _, ok := seen[school]; ok {
			continue
		}
		seen[school] = struct{}{}
		schools = append(schools, school)
	}
	return schools
}

func mapRepoError(err error) error {
	if errors.Is(err, persistence.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
