package persistence

import (
	"encoding/json"
	"time"
)

// Submission is one completed ticket submission stored in the submission log.
type Submission struct {
	ID              string
	SubmittedAt     time.Time
	UserEmail       string
	SessionID       string
	Title           string
	School          string
	Teacher         string
	TicketID        string
	Start           *time.Time
	DurationMinutes int
}

// ScanResult summarises one scan of a user's candidate sessions.
type ScanResult struct {
	ID             string
	UserEmail      string
	ScannedAt      time.Time
	CandidateIDs   []string
	Conflicts      json.RawMessage
	CandidateCount int
	ConflictCount  int
}
