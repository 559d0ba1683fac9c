package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/example/booking-guard/internal/persistence"
)

func TestScanResultRepository(t *testing.T) {
	ctx := context.Background()
	repo := newTestStorage(t).ScanResults()

	for i := 0; i < 3; i++ {
		result := persistence.ScanResult{
			ID:             fmt.Sprintf("scan-%d", i),
			UserEmail:      "lead@example.com",
			ScannedAt:      reference.Add(time.Duration(i) * time.Hour),
			CandidateIDs:   []string{"c1", "c2"},
			Conflicts:      json.RawMessage(`[{"session_id":"c1","conflict_type":"time"}]`),
			CandidateCount: 2,
			ConflictCount:  1,
		}
		if err := repo.CreateScanResult(ctx, result); err != nil {
			t.Fatalf("CreateScanResult failed: %v", err)
		}
	}
	if err := repo.CreateScanResult(ctx, persistence.ScanResult{ID: "other", UserEmail: "other@example.com", ScannedAt: reference}); err != nil {
		t.Fatalf("CreateScanResult failed: %v", err)
	}

	t.Run("lists newest first with limit", func(t *testing.T) {
		results, err := repo.ListScanResults(ctx, "LEAD@example.com", 2)
		if err != nil {
			t.Fatalf("ListScanResults failed: %v", err)
		}
		if len(results) != 2 || results[0].ID != "scan-2" || results[1].ID != "scan-1" {
			t.Fatalf("unexpected results %#v", results)
		}
		if len(results[0].CandidateIDs) != 2 || results[0].ConflictCount != 1 {
			t.Fatalf("unexpected payload %#v", results[0])
		}
		var conflicts []map[string]any
		if err := json.Unmarshal(results[0].Conflicts, &conflicts); err != nil || len(conflicts) != 1 {
			t.Fatalf("expected conflicts JSON to round-trip, got %s (%v)", results[0].Conflicts, err)
		}
	})

	t.Run("defaults empty payloads", func(t *testing.T) {
		results, err := repo.ListScanResults(ctx, "other@example.com", 0)
		if err != nil {
			t.Fatalf("ListScanResults failed: %v", err)
		}
		if len(results) != 1 || len(results[0].CandidateIDs) != 0 || string(results[0].Conflicts) != "[]" {
			t.Fatalf("unexpected defaults %#v", results)
		}
	})

	t.Run("rejects duplicates and invalid payloads", func(t *testing.T) {
		err := repo.CreateScanResult(ctx, persistence.ScanResult{ID: "scan-0", UserEmail: "lead@example.com", ScannedAt: reference})
		if !errors.Is(err, persistence.ErrDuplicate) {
			t.Fatalf("expected persistence.ErrDuplicate, got %v", err)
		}

		err = repo.CreateScanResult(ctx, persistence.ScanResult{ID: "bad", UserEmail: "lead@example.com", ScannedAt: reference, Conflicts: json.RawMessage("{")})
		if !errors.Is(err, persistence.ErrConstraintViolation) {
			t.Fatalf("expected persistence.ErrConstraintViolation, got %v", err)
		}
	})

	t.Run("deletes before cutoff", func(t *testing.T) {
		deleted, err := repo.DeleteScanResultsBefore(ctx, reference.Add(90*time.Minute))
		if err != nil {
			t.Fatalf("DeleteScanResultsBefore failed: %v", err)
		}
		if deleted != 3 {
			t.Fatalf("expected 3 deleted rows, got %d", deleted)
		}
		results, err := repo.ListScanResults(ctx, "lead@example.com", 10)
		if err != nil {
			t.Fatalf("ListScanResults failed: %v", err)
		}
		if len(results) != 1 || results[0].ID != "scan-2" {
			t.Fatalf("unexpected remaining results %#v", results)
		}
	})
}
