package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/booking-guard/internal/scheduler"
)

// LogNotifier writes conflict notifications to the log. It is used when no
// message broker is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: defaultLogger(logger)}
}

// NotifyConflicts logs one warning per flagged session.
func (n *LogNotifier) NotifyConflicts(ctx context.Context, user UserProfile, scannedAt time.Time, sessions []scheduler.Session) error {
	logger := serviceLogger(ctx, n.logger, "LogNotifier", "NotifyConflicts", "user", normalizeEmail(user.Email))
	for _, session := range scheduler.Conflicted(sessions) {
		logger.WarnContext(ctx, "booking conflict detected",
			"session_id", session.ID,
			"title", session.Title,
			"school", session.School,
			"conflict_type", string(session.Conflict.Kind),
			"details", session.Conflict.Detail,
			"scanned_at", scannedAt,
		)
	}
	return nil
}

// DryRunExecutor logs the sessions it would submit and completes none of them.
type DryRunExecutor struct {
	logger *slog.Logger
}

// NewDryRunExecutor constructs a DryRunExecutor.
func NewDryRunExecutor(logger *slog.Logger) *DryRunExecutor {
	return &DryRunExecutor{logger: defaultLogger(logger)}
}

// Submit logs each session and returns no completed submissions.
func (e *DryRunExecutor) Submit(ctx context.Context, user UserProfile, sessions []scheduler.Session) ([]NewSubmission, error) {
	logger := serviceLogger(ctx, e.logger, "DryRunExecutor", "Submit",
		"user", normalizeEmail(user.Email),
		"buffer_before", user.BufferBefore,
		"buffer_after", user.BufferAfter,
	)
	for _, session := range sessions {
		logger.InfoContext(ctx, "ticket submission skipped (dry run)", "session_id", session.ID, "title", session.Title)
	}
	return nil, nil
}
