package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/booking-guard/internal/persistence"
	"github.com/example/booking-guard/internal/scheduler"
)

var (
	sessionCounter    uint64
	submissionCounter uint64
)

var referenceTime = time.Date(2026, time.January, 10, 15, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// ---------------------------- Session fixtures ----------------------------

// SessionOption configures the generated session.
type SessionOption func(*scheduler.Session)

// NewSession returns a deterministic booked session starting at ReferenceTime
// with the default length. Options override individual fields.
func NewSession(opts ...SessionOption) scheduler.Session {
	idx := atomic.AddUint64(&sessionCounter, 1)
	session := scheduler.Session{
		ID:              fmt.Sprintf("session-%03d", idx),
		Title:           fmt.Sprintf("Session %03d", idx),
		School:          "School A",
		Teacher:         fmt.Sprintf("Teacher %03d", idx),
		Start:           referenceTime,
		DurationMinutes: scheduler.DefaultDurationMinutes,
		Status:          "Booked",
	}
	for _, opt := range opts {
		opt(&session)
	}
	return session
}

// WithSessionID overrides the session identifier.
func WithSessionID(id string) SessionOption {
	return func(s *scheduler.Session) {
		s.ID = id
	}
}

// WithTitle overrides the session title.
func WithTitle(title string) SessionOption {
	return func(s *scheduler.Session) {
		s.Title = title
	}
}

// WithSchool overrides the school.
func WithSchool(school string) SessionOption {
	return func(s *scheduler.Session) {
		s.School = school
	}
}

// WithTeacher overrides the teacher.
func WithTeacher(teacher string) SessionOption {
	return func(s *scheduler.Session) {
		s.Teacher = teacher
	}
}

// WithStart sets the start time and length in minutes.
func WithStart(start time.Time, minutes int) SessionOption {
	return func(s *scheduler.Session) {
		s.Start = start
		s.DurationMinutes = minutes
	}
}

// WithoutStart clears the start time.
func WithoutStart() SessionOption {
	return func(s *scheduler.Session) {
		s.Start = time.Time{}
	}
}

// WithStatus overrides the free text status.
func WithStatus(status string) SessionOption {
	return func(s *scheduler.Session) {
		s.Status = status
	}
}

// WithTicketRequested marks whether a ticket was already requested.
func WithTicketRequested(requested bool) SessionOption {
	return func(s *scheduler.Session) {
		s.TicketRequested = requested
	}
}

// -------------------------- Submission fixtures ---------------------------

// SubmissionOption configures the generated submission row.
type SubmissionOption func(*persistence.Submission)

// NewSubmission returns a deterministic persisted submission for user, stamped
// at ReferenceTime.
func NewSubmission(user string, opts ...SubmissionOption) persistence.Submission {
	idx := atomic.AddUint64(&submissionCounter, 1)
	start := referenceTime.Add(48 * time.Hour)
	submission := persistence.Submission{
		ID:              fmt.Sprintf("submission-%03d", idx),
		SubmittedAt:     referenceTime,
		UserEmail:       user,
		SessionID:       fmt.Sprintf("session-%03d", idx),
		Title:           fmt.Sprintf("Session %03d", idx),
		School:          "School A",
		Teacher:         fmt.Sprintf("Teacher %03d", idx),
		TicketID:        fmt.Sprintf("REQ%05d", idx),
		Start:           &start,
		DurationMinutes: scheduler.DefaultDurationMinutes,
	}
	for _, opt := range opts {
		opt(&submission)
	}
	return submission
}

// WithSubmittedAt overrides the submission timestamp.
func WithSubmittedAt(t time.Time) SubmissionOption {
	return func(s *persistence.Submission) {
		s.SubmittedAt = t
	}
}

// WithTicketID overrides the externally issued ticket id.
func WithTicketID(id string) SubmissionOption {
	return func(s *persistence.Submission) {
		s.TicketID = id
	}
}

// WithSubmissionStart sets the recorded session start and length. A nil start
// records a missing start time.
func WithSubmissionStart(start *time.Time, minutes int) SubmissionOption {
	return func(s *persistence.Submission) {
		s.Start = start
		s.DurationMinutes = minutes
	}
}
