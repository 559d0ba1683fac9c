package application

import (
	"encoding/json"
	"time"

	"github.com/example/booking-guard/internal/scheduler"
)

// Default fallbacks recorded when a completed submission omits a field.
const (
	UnknownTitle   = "Unknown Session"
	UnknownSchool  = "Unknown School"
	UnknownTeacher = "Unknown Teacher"
	UnknownTicket  = "Unknown"
)

// UserProfile is one roster entry whose sessions are scanned.
type UserProfile struct {
	Email            string
	AutoBooking      bool
	WindowPastDays   int
	WindowFutureDays int
	BufferBefore     int
	BufferAfter      int
}

// NewSubmission is a completed ticket submission reported by an executor.
// Start carries the raw recorded start time; it is parsed when appended.
type NewSubmission struct {
	SessionID       string
	Title           string
	School          string
	Teacher         string
	TicketID        string
	Start           string
	DurationMinutes int
}

// LogEntry is one record of the submission log.
type LogEntry struct {
	ID              string
	SubmittedAt     time.Time
	SubmittedBy     string
	SessionID       string
	Title           string
	School          string
	Teacher         string
	TicketID        string
	Start           *time.Time
	DurationMinutes int
}

// HistoryEntry converts the log entry into the shape the detector compares against.
func (e LogEntry) HistoryEntry() scheduler.HistoryEntry {
	entry := scheduler.HistoryEntry{
		SessionID:       e.SessionID,
		Title:           e.Title,
		School:          e.School,
		TicketID:        e.TicketID,
		DurationMinutes: e.DurationMinutes,
	}
	if e.Start != nil {
		entry.Start = *e.Start
	}
	return entry
}

// QueryOptions narrows a submission log query. An empty User returns entries
// for every user; a non-positive WindowPastDays applies only the retention cutoff.
type QueryOptions struct {
	User           string
	WindowPastDays int
}

// SubmissionFilter is the storage level filter derived from QueryOptions.
type SubmissionFilter struct {
	UserEmail      string
	SubmittedSince time.Time
}

// ScanOutcome describes how a scan ended.
type ScanOutcome string

const (
	// ScanOutcomeNoCandidates means the source returned no candidate sessions.
	ScanOutcomeNoCandidates ScanOutcome = "no_candidates"
	// ScanOutcomeConflicts means at least one candidate was flagged and the notifier was called.
	ScanOutcomeConflicts ScanOutcome = "conflicts_detected"
	// ScanOutcomeSubmitted means the executor completed submissions synchronously.
	ScanOutcomeSubmitted ScanOutcome = "submitted"
	// ScanOutcomeSubmissionRequested means the executor accepted the sessions without completing them yet.
	ScanOutcomeSubmissionRequested ScanOutcome = "submission_requested"
)

// ScanReport is the result of one scan for one user.
type ScanReport struct {
	ID        string
	User      string
	ScannedAt time.Time
	Outcome   ScanOutcome
	Sessions  []scheduler.Session
	Conflicts int
	Submitted []LogEntry
}

// ScanRecord is the persisted summary of a scan. Conflicts holds the flagged
// sessions rendered as JSON.
type ScanRecord struct {
	ID             string
	User           string
	ScannedAt      time.Time
	CandidateIDs   []string
	Conflicts      json.RawMessage
	CandidateCount int
	ConflictCount  int
}
