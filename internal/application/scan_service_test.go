package application

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/example/booking-guard/internal/persistence"
	"github.com/example/booking-guard/internal/scheduler"
	"github.com/example/booking-guard/internal/testfixtures"
)

type sessionSourceStub struct {
	candidates    []scheduler.Session
	candidatesErr error

	existing    []scheduler.Session
	existingErr error

	existingCalls int
	schools       []string
	statuses      []string
}

func (s *sessionSourceStub) Candidates(ctx context.Context, user UserProfile) ([]scheduler.Session, error) {
	if s.candidatesErr != nil {
		return nil, s.candidatesErr
	}
	return s.candidates, nil
}

func (s *sessionSourceStub) Existing(ctx context.Context, user UserProfile, schools []string, statuses []string) ([]scheduler.Session, error) {
	s.existingCalls++
	s.schools = schools
	s.statuses = statuses
	if s.existingErr != nil {
		return nil, s.existingErr
	}
	return s.existing, nil
}

type notifierStub struct {
	calls    int
	sessions []scheduler.Session
	err      error
}

func (n *notifierStub) NotifyConflicts(ctx context.Context, user UserProfile, scannedAt time.Time, sessions []scheduler.Session) error {
	n.calls++
	n.sessions = sessions
	return n.err
}

type executorStub struct {
	calls     int
	sessions  []scheduler.Session
	completed []NewSubmission
	err       error
}

func (e *executorStub) Submit(ctx context.Context, user UserProfile, sessions []scheduler.Session) ([]NewSubmission, error) {
	e.calls++
	e.sessions = sessions
	if e.err != nil {
		return nil, e.err
	}
	return e.completed, nil
}

type recorderStub struct {
	records []ScanRecord
	err     error
	listErr error
}

func (r *recorderStub) RecordScan(ctx context.Context, record ScanRecord) error {
	if r.err != nil {
		return r.err
	}
	r.records = append(r.records, record)
	return nil
}

func (r *recorderStub) ListScans(ctx context.Context, user string, limit int) ([]ScanRecord, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	return r.records, nil
}

type scanHarness struct {
	clock    *testfixtures.Clock
	repo     *memorySubmissionRepo
	source   *sessionSourceStub
	notifier *notifierStub
	executor *executorStub
	recorder *recorderStub
	service  *ScanService
}

func newScanHarness(source *sessionSourceStub) *scanHarness {
	h := &scanHarness{
		clock:    testfixtures.NewClock(),
		repo:     &memorySubmissionRepo{},
		source:   source,
		notifier: &notifierStub{},
		executor: &executorStub{},
		recorder: &recorderStub{},
	}
	log := newTestLog(h.repo, h.clock)
	h.service = NewScanServiceWithLogger(ScanDependencies{
		Source:   h.source,
		Log:      log,
		Notifier: h.notifier,
		Executor: h.executor,
		Recorder: h.recorder,
	}, testfixtures.Sequence("scan"), h.clock.Now, nil)
	return h
}

var lead = UserProfile{Email: "Lead@Example.org", AutoBooking: true, BufferBefore: 10, BufferAfter: 10}

func TestScanService_Scan(t *testing.T) {
	ctx := context.Background()
	base := testfixtures.ReferenceTime()

	t.Run("no candidates records an empty scan", func(t *testing.T) {
		h := newScanHarness(&sessionSourceStub{})

		report, err := h.service.Scan(ctx, lead)
		if err != nil {
			t.Fatalf("Scan returned error: %v", err)
		}
		if report.Outcome != ScanOutcomeNoCandidates || report.User != "lead@example.org" {
			t.Fatalf("unexpected report %#v", report)
		}
		if h.source.existingCalls != 0 || h.notifier.calls != 0 || h.executor.calls != 0 {
			t.Fatalf("expected no downstream calls")
		}
		if len(h.recorder.records) != 1 || h.recorder.records[0].CandidateCount != 0 || string(h.recorder.records[0].Conflicts) != "[]" {
			t.Fatalf("unexpected scan record %#v", h.recorder.records)
		}
	})

	t.Run("conflicts notify and block submission", func(t *testing.T) {
		h := newScanHarness(&sessionSourceStub{
			candidates: []scheduler.Session{
				testfixtures.NewSession(testfixtures.WithSessionID("c1"), testfixtures.WithTitle("Math"), testfixtures.WithStart(base, 60)),
				testfixtures.NewSession(testfixtures.WithSessionID("c2"), testfixtures.WithTitle("Art"), testfixtures.WithStart(base.Add(30*time.Minute), 60)),
				testfixtures.NewSession(testfixtures.WithSessionID("c3"), testfixtures.WithSchool(UnknownSchool), testfixtures.WithStart(base.Add(5*time.Hour), 60)),
			},
		})

		report, err := h.service.Scan(ctx, lead)
		if err != nil {
			t.Fatalf("Scan returned error: %v", err)
		}
		if report.Outcome != ScanOutcomeConflicts || report.Conflicts != 2 {
			t.Fatalf("expected two conflicts, got %#v", report)
		}
		if h.notifier.calls != 1 || len(h.notifier.sessions) != 3 {
			t.Fatalf("expected notifier to receive the annotated candidates, got %d calls", h.notifier.calls)
		}
		if h.executor.calls != 0 {
			t.Fatalf("expected no submission when conflicts exist")
		}
		if len(h.source.schools) != 1 || h.source.schools[0] != "School A" || h.source.statuses[0] != "Booked" {
			t.Fatalf("unexpected existing lookup %v %v", h.source.schools, h.source.statuses)
		}

		record := h.recorder.records[0]
		if record.ID != "scan-1" || record.CandidateCount != 3 || record.ConflictCount != 2 || len(record.CandidateIDs) != 3 {
			t.Fatalf("unexpected scan record %#v", record)
		}
		var payload []map[string]any
		if err := json.Unmarshal(record.Conflicts, &payload); err != nil || len(payload) != 2 || payload[0]["conflict_type"] != "time" {
			t.Fatalf("unexpected conflicts payload %s (%v)", record.Conflicts, err)
		}
	})

	t.Run("history produces ghost ticket conflicts", func(t *testing.T) {
		h := newScanHarness(&sessionSourceStub{
			candidates: []scheduler.Session{
				testfixtures.NewSession(testfixtures.WithSessionID("cand-1"), testfixtures.WithStart(base, 60)),
			},
		})
		if _, err := h.service.RecordCompletedSubmissions(ctx, "lead@example.org", []NewSubmission{{
			SessionID:       "different-session",
			Title:           "Original booked time",
			School:          "School A",
			TicketID:        "REQ12345",
			Start:           base.Add(30 * time.Minute).Format(time.RFC3339),
			DurationMinutes: 60,
		}}); err != nil {
			t.Fatalf("RecordCompletedSubmissions returned error: %v", err)
		}

		report, err := h.service.Scan(ctx, lead)
		if err != nil {
			t.Fatalf("Scan returned error: %v", err)
		}
		got := report.Sessions[0].Conflict
		if got.Kind != scheduler.ConflictGhostTicket || !got.WindowStart.Equal(base.Add(30*time.Minute)) || !got.WindowEnd.Equal(base.Add(90*time.Minute)) {
			t.Fatalf("expected ghost ticket conflict, got %#v", got)
		}
	})

	t.Run("clean scan submits and logs completions", func(t *testing.T) {
		h := newScanHarness(&sessionSourceStub{
			candidates: []scheduler.Session{
				testfixtures.NewSession(testfixtures.WithSessionID("c1"), testfixtures.WithStart(base, 60)),
			},
		})
		h.executor.completed = []NewSubmission{{SessionID: "c1", School: "School A", TicketID: "REQ1", Start: base.Format(time.RFC3339), DurationMinutes: 60}}

		report, err := h.service.Scan(ctx, lead)
		if err != nil {
			t.Fatalf("Scan returned error: %v", err)
		}
		if report.Outcome != ScanOutcomeSubmitted || len(report.Submitted) != 1 || report.Submitted[0].TicketID != "REQ1" {
			t.Fatalf("unexpected report %#v", report)
		}
		if h.executor.calls != 1 || len(h.executor.sessions) != 1 {
			t.Fatalf("expected executor to receive the unflagged candidate")
		}
		if h.repo.count() != 1 {
			t.Fatalf("expected submission to be logged")
		}
	})

	t.Run("asynchronous executor leaves the log untouched", func(t *testing.T) {
		h := newScanHarness(&sessionSourceStub{
			candidates: []scheduler.Session{testfixtures.NewSession(testfixtures.WithStart(base, 60))},
		})

		report, err := h.service.Scan(ctx, lead)
		if err != nil {
			t.Fatalf("Scan returned error: %v", err)
		}
		if report.Outcome != ScanOutcomeSubmissionRequested || h.repo.count() != 0 {
			t.Fatalf("unexpected outcome %q with %d log entries", report.Outcome, h.repo.count())
		}
	})

	t.Run("log write failure is returned with the submissions", func(t *testing.T) {
		h := newScanHarness(&sessionSourceStub{
			candidates: []scheduler.Session{testfixtures.NewSession(testfixtures.WithStart(base, 60))},
		})
		h.executor.completed = []NewSubmission{{SessionID: "c1", TicketID: "REQ1"}}
		h.repo.insertErr = persistence.ErrBusy

		_, err := h.service.Scan(ctx, lead)
		var logErr *SubmissionLogError
		if !errors.As(err, &logErr) || len(logErr.Submissions) != 1 || !errors.Is(err, persistence.ErrBusy) {
			t.Fatalf("expected SubmissionLogError wrapping ErrBusy, got %v", err)
		}
	})

	t.Run("history read failure does not block the scan", func(t *testing.T) {
		h := newScanHarness(&sessionSourceStub{
			candidates: []scheduler.Session{testfixtures.NewSession(testfixtures.WithStart(base, 60))},
		})
		h.repo.listErr = errors.New("disk I/O error")

		report, err := h.service.Scan(ctx, lead)
		if err != nil || report.Outcome != ScanOutcomeSubmissionRequested {
			t.Fatalf("expected scan to proceed without history, got %#v, %v", report, err)
		}
	})

	t.Run("source and recorder failures are returned", func(t *testing.T) {
		boom := errors.New("source unavailable")
		h := newScanHarness(&sessionSourceStub{candidatesErr: boom})
		if _, err := h.service.Scan(ctx, lead); !errors.Is(err, boom) {
			t.Fatalf("expected source error, got %v", err)
		}

		h = newScanHarness(&sessionSourceStub{
			candidates:  []scheduler.Session{testfixtures.NewSession()},
			existingErr: boom,
		})
		if _, err := h.service.Scan(ctx, lead); !errors.Is(err, boom) {
			t.Fatalf("expected existing lookup error, got %v", err)
		}

		h = newScanHarness(&sessionSourceStub{candidates: []scheduler.Session{testfixtures.NewSession()}})
		h.recorder.err = persistence.ErrConstraintViolation
		if _, err := h.service.Scan(ctx, lead); !errors.Is(err, persistence.ErrConstraintViolation) {
			t.Fatalf("expected recorder error, got %v", err)
		}
		if h.executor.calls != 0 {
			t.Fatalf("expected no submission after a failed record")
		}
	})

	t.Run("requires an email", func(t *testing.T) {
		h := newScanHarness(&sessionSourceStub{})
		_, err := h.service.Scan(ctx, UserProfile{})
		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})

	t.Run("concurrent scans for a user are rejected", func(t *testing.T) {
		h := newScanHarness(&sessionSourceStub{})
		release, err := h.service.deps.Guard.Acquire(ctx, ScanGuardKey(lead.Email))
		if err != nil {
			t.Fatalf("Acquire returned error: %v", err)
		}
		defer release()

		if _, err := h.service.Scan(ctx, lead); !errors.Is(err, ErrScanInProgress) {
			t.Fatalf("expected ErrScanInProgress, got %v", err)
		}
	})
}

func TestScanService_CheckConflicts(t *testing.T) {
	ctx := context.Background()
	base := testfixtures.ReferenceTime()
	h := newScanHarness(&sessionSourceStub{})

	candidates := []scheduler.Session{testfixtures.NewSession(testfixtures.WithSessionID("c1"), testfixtures.WithStart(base, 60))}
	existing := []scheduler.Session{testfixtures.NewSession(
		testfixtures.WithSessionID("e1"),
		testfixtures.WithTitle("Committed"),
		testfixtures.WithStart(base.Add(15*time.Minute), 30),
		testfixtures.WithTicketRequested(true),
	)}

	annotated, err := h.service.CheckConflicts(ctx, "lead@example.org", candidates, existing)
	if err != nil {
		t.Fatalf("CheckConflicts returned error: %v", err)
	}
	if !annotated[0].Conflict.IsConflict || annotated[0].Conflict.Kind != scheduler.ConflictTime {
		t.Fatalf("expected time conflict, got %#v", annotated[0].Conflict)
	}
	if candidates[0].Conflict.IsConflict {
		t.Fatalf("expected caller's candidates to stay unannotated")
	}
	if len(h.recorder.records) != 0 || h.notifier.calls != 0 || h.executor.calls != 0 {
		t.Fatalf("expected no side effects")
	}

	if _, err := h.service.CheckConflicts(ctx, "", candidates, nil); ErrorKind(err) != "validation" {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestScanService_ListScans(t *testing.T) {
	ctx := context.Background()
	h := newScanHarness(&sessionSourceStub{})
	if _, err := h.service.Scan(ctx, lead); err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}

	records, err := h.service.ListScans(ctx, lead.Email, 10)
	if err != nil || len(records) != 1 {
		t.Fatalf("expected one record, got %d, %v", len(records), err)
	}

	h.recorder.listErr = persistence.ErrNotFound
	if _, err := h.service.ListScans(ctx, lead.Email, 10); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestScanService_ExistingLookupKeepsSchoolNamesVerbatim(t *testing.T) {
	h := newScanHarness(&sessionSourceStub{
		candidates: []scheduler.Session{
			testfixtures.NewSession(testfixtures.WithSessionID("c1"), testfixtures.WithSchool("School A ")),
			testfixtures.NewSession(testfixtures.WithSessionID("c2"), testfixtures.WithSchool("  "), testfixtures.WithStart(testfixtures.ReferenceTime().Add(3*time.Hour), 60)),
			testfixtures.NewSession(testfixtures.WithSessionID("c3"), testfixtures.WithSchool(" "+UnknownSchool), testfixtures.WithStart(testfixtures.ReferenceTime().Add(6*time.Hour), 60)),
		},
	})

	if _, err := h.service.Scan(context.Background(), lead); err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if len(h.source.schools) != 1 || h.source.schools[0] != "School A " {
		t.Fatalf("expected the padded school to be requested as written, got %q", h.source.schools)
	}
}

func TestScanService_RecordCompletedSubmissionsIgnoresRedelivery(t *testing.T) {
	h := newScanHarness(&sessionSourceStub{})
	completion := []NewSubmission{{SessionID: "s1", TicketID: "REQ1", Start: "2026-01-12T15:00:00Z"}}

	for i := 0; i < 3; i++ {
		if _, err := h.service.RecordCompletedSubmissions(context.Background(), "lead@example.org", completion); err != nil {
			t.Fatalf("delivery %d: RecordCompletedSubmissions returned error: %v", i+1, err)
		}
	}
	if h.repo.count() != 1 {
		t.Fatalf("expected one log entry after redeliveries, got %d", h.repo.count())
	}
}
