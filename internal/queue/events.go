// Package queue carries scan notifications and ticket submissions over
// RabbitMQ and consumes the completions reported back by submission workers.
package queue

import (
	"time"

	"github.com/example/booking-guard/internal/scheduler"
)

// Queue names. All queues are durable and use the default exchange.
const (
	ConflictsQueue       = "booking.conflicts"
	SubmitQueue          = "ticket.submit"
	SubmissionsDoneQueue = "ticket.submitted"
)

// ConflictsDetected is published when a scan flags at least one candidate.
// Sessions holds every annotated candidate of the scan.
type ConflictsDetected struct {
	User      string              `json:"user"`
	ScannedAt time.Time           `json:"scanned_at"`
	Sessions  []scheduler.Session `json:"sessions"`
}

// SubmissionRequested asks a submission worker to file tickets for sessions.
type SubmissionRequested struct {
	User         string              `json:"user"`
	Sessions     []scheduler.Session `json:"sessions"`
	BufferBefore int                 `json:"buffer_before"`
	BufferAfter  int                 `json:"buffer_after"`
	RequestedAt  time.Time           `json:"requested_at"`
}

// SubmissionCompleted is reported by a submission worker for every ticket it
// filed successfully.
type SubmissionCompleted struct {
	User      string `json:"user" validate:"required,email"`
	SessionID string `json:"session_id" validate:"required"`
	Title     string `json:"title"`
	School    string `json:"school"`
	Teacher   string `json:"teacher"`
	TicketID  string `json:"ticket_id"`
	StartTime string `json:"start_time"`
	Length    int    `json:"length"`
}
