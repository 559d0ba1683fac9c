package scheduler

import (
	"fmt"
	"time"
)

const (
	unknownTicketID = "Unknown"
	unknownTitle    = "Unknown Session"
)

// Detect annotates candidate sessions with conflict information and returns the
// annotated copies in input order. Inputs are never modified, so concurrent
// callers may share existing sessions and history freely.
//
// Candidates are checked against committed sessions first, then against
// historical ticket submissions, then against each other by school and finally
// by teacher. The first pass that flags a candidate wins.
func Detect(candidates []Session, existing []Session, history []HistoryEntry) []Session {
	out := make([]Session, len(candidates))
	candidateIDs := make(map[string]struct{}, len(candidates))
	for i, candidate := range candidates {
		candidate.Conflict = Conflict{}
		out[i] = candidate
		candidateIDs[candidate.ID] = struct{}{}
	}

	for i := range out {
		candidate := &out[i]
		if !candidate.HasStart() {
			continue
		}
		if matchCommitted(candidate, existing, candidateIDs) {
			continue
		}
		matchHistory(candidate, history)
	}

	timed := make([]*Session, 0, len(out))
	for i := range out {
		if out[i].HasStart() {
			timed = append(timed, &out[i])
		}
	}

	matchBatch(timed, bookedPair, "Conflicts with another booked session '%s'.")
	matchBatch(timed, teacherPair, "Conflicts with another in-progress session '%s'.")

	return out
}

func matchCommitted(candidate *Session, existing []Session, candidateIDs map[string]struct{}) bool {
	for _, other := range existing {
		if _, ok := candidateIDs[other.ID]; ok {
			continue
		}
		if candidate.School != other.School {
			continue
		}
		if !other.IsBooked() || !other.TicketRequested || !other.HasStart() {
			continue
		}
		if !overlaps(candidate.Start, candidate.End(), other.Start, other.End()) {
			continue
		}
		candidate.Conflict = Conflict{
			IsConflict:  true,
			Kind:        ConflictTime,
			Detail:      fmt.Sprintf("Conflicts with previously booked session '%s'.", other.Title),
			WindowStart: other.Start,
			WindowEnd:   other.End(),
		}
		return true
	}
	return false
}

func matchHistory(candidate *Session, history []HistoryEntry) bool {
	school := normalizeKey(candidate.School)
	for _, entry := range history {
		if entry.SessionID == candidate.ID {
			continue
		}
		if normalizeKey(entry.School) != school {
			continue
		}
		if entry.Start.IsZero() {
			continue
		}
		start, end := entry.Interval()
		if !overlaps(candidate.Start, candidate.End(), start, end) {
			continue
		}
		ticketID := entry.TicketID
		if ticketID == "" {
			ticketID = unknownTicketID
		}
		title := entry.Title
		if title == "" {
			title = unknownTitle
		}
		candidate.Conflict = Conflict{
			IsConflict:  true,
			Kind:        ConflictGhostTicket,
			Detail:      fmt.Sprintf("Rebooked/ghost ticket conflict with submitted ticket %s for '%s'.", ticketID, title),
			WindowStart: start,
			WindowEnd:   end,
		}
		return true
	}
	return false
}

// pairRule decides whether two timed candidates belong to the same conflict group.
// eligible filters outer candidates and partners alike.
type pairRule struct {
	eligible func(s *Session) bool
	sameKey  func(a, b *Session) bool
}

var bookedPair = pairRule{
	eligible: func(s *Session) bool { return s.IsBooked() && !s.TicketRequested },
	sameKey:  func(a, b *Session) bool { return a.School == b.School },
}

var teacherPair = pairRule{
	eligible: func(s *Session) bool { return normalizeKey(s.Teacher) != "" },
	sameKey:  func(a, b *Session) bool { return normalizeKey(a.Teacher) == normalizeKey(b.Teacher) },
}

// matchBatch flags the first later partner that overlaps each unflagged
// candidate, marking both sides. Scanning for a candidate stops at its first
// partner.
func matchBatch(timed []*Session, rule pairRule, detailFormat string) {
	for i, candidate := range timed {
		if candidate.Conflict.IsConflict || !rule.eligible(candidate) {
			continue
		}
		for _, other := range timed[i+1:] {
			if other.Conflict.IsConflict || !rule.eligible(other) {
				continue
			}
			if !rule.sameKey(candidate, other) {
				continue
			}
			if !overlaps(candidate.Start, candidate.End(), other.Start, other.End()) {
				continue
			}
			candidate.Conflict = Conflict{
				IsConflict:  true,
				Kind:        ConflictTime,
				Detail:      fmt.Sprintf(detailFormat, other.Title),
				WindowStart: other.Start,
				WindowEnd:   other.End(),
			}
			other.Conflict = Conflict{
				IsConflict:  true,
				Kind:        ConflictTime,
				Detail:      fmt.Sprintf(detailFormat, candidate.Title),
				WindowStart: candidate.Start,
				WindowEnd:   candidate.End(),
			}
			break
		}
	}
}

// Interval returns the recorded start and its end after the recorded length.
// Negative lengths are treated as zero.
func (h HistoryEntry) Interval() (time.Time, time.Time) {
	if h.Start.IsZero() {
		return time.Time{}, time.Time{}
	}
	minutes := h.DurationMinutes
	if minutes < 0 {
		minutes = 0
	}
	return h.Start, h.Start.Add(time.Duration(minutes) * time.Minute)
}

// overlaps applies strict half-open overlap: [aStart,aEnd) and [bStart,bEnd)
// overlap iff aStart < bEnd and bStart < aEnd.
func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}
