package scheduler

import (
	"encoding/json"
	"strings"
	"time"
)

// DefaultDurationMinutes is applied when a normalized session omits its length.
const DefaultDurationMinutes = 60

// StatusBooked is the status value, compared case-insensitively, of a committed booking.
const StatusBooked = "booked"

// ConflictKind describes why a candidate session was flagged.
type ConflictKind string

const (
	// ConflictNone marks a session without a detected conflict.
	ConflictNone ConflictKind = ""
	// ConflictTime indicates a temporal overlap with another session.
	ConflictTime ConflictKind = "time"
	// ConflictGhostTicket indicates an overlap with a previously submitted ticket
	// whose session no longer sits at that time.
	ConflictGhostTicket ConflictKind = "ghost_ticket"
)

// Conflict is the annotation the detector attaches to a candidate session.
// The window describes the other interval involved in the conflict.
type Conflict struct {
	IsConflict  bool
	Kind        ConflictKind
	Detail      string
	WindowStart time.Time
	WindowEnd   time.Time
}

// Session is one scheduled booking, either a candidate for ticket submission or
// an already committed session fetched for comparison.
type Session struct {
	ID              string
	Title           string
	School          string
	Teacher         string
	Start           time.Time
	DurationMinutes int
	Status          string
	TicketRequested bool

	Conflict Conflict
}

// HasStart reports whether the session carries a usable start time.
func (s Session) HasStart() bool {
	return !s.Start.IsZero()
}

// Duration returns the session length; negative lengths collapse to zero.
func (s Session) Duration() time.Duration {
	if s.DurationMinutes <= 0 {
		return 0
	}
	return time.Duration(s.DurationMinutes) * time.Minute
}

// End returns start plus duration. It is the zero time when the start is absent.
func (s Session) End() time.Time {
	if !s.HasStart() {
		return time.Time{}
	}
	return s.Start.Add(s.Duration())
}

// IsBooked reports whether the status equals "booked" ignoring case and padding.
func (s Session) IsBooked() bool {
	return normalizeKey(s.Status) == StatusBooked
}

// Conflicted returns the sessions that carry a conflict flag, preserving order.
func Conflicted(sessions []Session) []Session {
	out := make([]Session, 0)
	for _, session := range sessions {
		if session.Conflict.IsConflict {
			out = append(out, session)
		}
	}
	return out
}

// Unflagged returns the sessions without a conflict flag, preserving order.
func Unflagged(sessions []Session) []Session {
	out := make([]Session, 0, len(sessions))
	for _, session := range sessions {
		if !session.Conflict.IsConflict {
			out = append(out, session)
		}
	}
	return out
}

// HistoryEntry is the slice of a submission log record the detector needs.
// A zero Start means the recorded start time was missing or unparsable.
type HistoryEntry struct {
	SessionID       string
	Title           string
	School          string
	TicketID        string
	Start           time.Time
	DurationMinutes int
}

type sessionJSON struct {
	ID                  string       `json:"session_id"`
	Title               string       `json:"title"`
	School              string       `json:"school"`
	Teacher             string       `json:"teacher"`
	StartTime           string       `json:"start_time,omitempty"`
	Length              *int         `json:"length,omitempty"`
	Status              string       `json:"status"`
	TicketRequested     bool         `json:"ticket_requested"`
	IsConflict          bool         `json:"is_conflict"`
	ConflictType        ConflictKind `json:"conflict_type,omitempty"`
	ConflictDetails     string       `json:"conflict_details,omitempty"`
	ConflictWindowStart string       `json:"conflict_start_iso,omitempty"`
	ConflictWindowEnd   string       `json:"conflict_end_iso,omitempty"`
}

// MarshalJSON renders the session in the normalized wire shape shared with the
// session source and the notification payloads.
func (s Session) MarshalJSON() ([]byte, error) {
	length := s.DurationMinutes
	out := sessionJSON{
		ID:              s.ID,
		Title:           s.Title,
		School:          s.School,
		Teacher:         s.Teacher,
		Length:          &length,
		Status:          s.Status,
		TicketRequested: s.TicketRequested,
		IsConflict:      s.Conflict.IsConflict,
		ConflictType:    s.Conflict.Kind,
		ConflictDetails: s.Conflict.Detail,
	}
	if s.HasStart() {
		out.StartTime = FormatISO(s.Start)
	}
	if !s.Conflict.WindowStart.IsZero() {
		out.ConflictWindowStart = FormatISO(s.Conflict.WindowStart)
	}
	if !s.Conflict.WindowEnd.IsZero() {
		out.ConflictWindowEnd = FormatISO(s.Conflict.WindowEnd)
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the normalized wire shape. An unparsable start time
// leaves the session without a start instead of failing, and a missing length
// falls back to DefaultDurationMinutes. Conflict annotations are never read
// back from input.
func (s *Session) UnmarshalJSON(data []byte) error {
	var in sessionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*s = Session{
		ID:              in.ID,
		Title:           in.Title,
		School:          in.School,
		Teacher:         in.Teacher,
		Start:           ParseISO(in.StartTime),
		DurationMinutes: DefaultDurationMinutes,
		Status:          in.Status,
		TicketRequested: in.TicketRequested,
	}
	if in.Length != nil {
		s.DurationMinutes = *in.Length
	}
	return nil
}

// isoLayouts covers the ISO 8601 forms the session normalizer and ticket
// executor emit: date only, minute or second precision with optional
// fraction, and offsets written as Z, +hh:mm or +hhmm.
var isoLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04Z0700",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseISO parses an ISO 8601 timestamp. The date and time may be separated by
// 'T' or a space. Naive timestamps are read as UTC. It returns the zero time on
// empty or malformed input.
func ParseISO(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	if len(value) > 10 && value[10] == ' ' {
		value = value[:10] + "T" + value[11:]
	}
	for _, layout := range isoLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed
		}
	}
	return time.Time{}
}

// FormatISO renders a timestamp as RFC 3339 preserving its zone offset.
func FormatISO(t time.Time) string {
	return t.Format(time.RFC3339)
}

func normalizeKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
