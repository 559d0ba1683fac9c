package main

import (
	"context"
	"time"

	"github.com/example/booking-guard/internal/application"
	"github.com/example/booking-guard/internal/persistence"
)

type submissionRepositoryAdapter struct {
	repo persistence.SubmissionRepository
}

func newSubmissionRepositoryAdapter(repo persistence.SubmissionRepository) *submissionRepositoryAdapter {
	return &submissionRepositoryAdapter{repo: repo}
}

func (a *submissionRepositoryAdapter) InsertSubmissions(ctx context.Context, entries []application.LogEntry) error {
	models := make([]persistence.Submission, 0, len(entries))
	for _, entry := range entries {
		models = append(models, toPersistenceSubmission(entry))
	}
	return a.repo.InsertSubmissions(ctx, models)
}

func (a *submissionRepositoryAdapter) ListSubmissions(ctx context.Context, filter application.SubmissionFilter) ([]application.LogEntry, error) {
	models, err := a.repo.ListSubmissions(ctx, persistence.SubmissionFilter{
		UserEmail:      filter.UserEmail,
		SubmittedSince: filter.SubmittedSince,
	})
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, nil
	}
	entries := make([]application.LogEntry, 0, len(models))
	for _, model := range models {
		entries = append(entries, toApplicationLogEntry(model))
	}
	return entries, nil
}

func (a *submissionRepositoryAdapter) DeleteSubmissionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return a.repo.DeleteSubmissionsBefore(ctx, cutoff)
}

type scanResultAdapter struct {
	repo persistence.ScanResultRepository
}

func newScanResultAdapter(repo persistence.ScanResultRepository) *scanResultAdapter {
	return &scanResultAdapter{repo: repo}
}

func (a *scanResultAdapter) RecordScan(ctx context.Context, record application.ScanRecord) error {
	return a.repo.CreateScanResult(ctx, persistence.ScanResult{
		ID:             record.ID,
		UserEmail:      record.User,
		ScannedAt:      record.ScannedAt,
		CandidateIDs:   append([]string(nil), record.CandidateIDs...),
		Conflicts:      record.Conflicts,
		CandidateCount: record.CandidateCount,
		ConflictCount:  record.ConflictCount,
	})
}

func (a *scanResultAdapter) ListScans(ctx context.Context, user string, limit int) ([]application.ScanRecord, error) {
	models, err := a.repo.ListScanResults(ctx, user, limit)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, nil
	}
	records := make([]application.ScanRecord, 0, len(models))
	for _, model := range models {
		records = append(records, application.ScanRecord{
			ID:             model.ID,
			User:           model.UserEmail,
			ScannedAt:      model.ScannedAt,
			CandidateIDs:   model.CandidateIDs,
			Conflicts:      model.Conflicts,
			CandidateCount: model.CandidateCount,
			ConflictCount:  model.ConflictCount,
		})
	}
	return records, nil
}

// DeleteBefore lets the submission log prune scan results on its retention cutoff.
func (a *scanResultAdapter) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return a.repo.DeleteScanResultsBefore(ctx, cutoff)
}

func toPersistenceSubmission(entry application.LogEntry) persistence.Submission {
	return persistence.Submission{
		ID:              entry.ID,
		SubmittedAt:     entry.SubmittedAt,
		UserEmail:       entry.SubmittedBy,
		SessionID:       entry.SessionID,
		Title:           entry.Title,
		School:          entry.School,
		Teacher:         entry.Teacher,
		TicketID:        entry.TicketID,
		Start:           cloneTime(entry.Start),
		DurationMinutes: entry.DurationMinutes,
	}
}

func toApplicationLogEntry(model persistence.Submission) application.LogEntry {
	return application.LogEntry{
		ID:              model.ID,
		SubmittedAt:     model.SubmittedAt,
		SubmittedBy:     model.UserEmail,
		SessionID:       model.SessionID,
		Title:           model.Title,
		School:          model.School,
		Teacher:         model.Teacher,
		TicketID:        model.TicketID,
		Start:           cloneTime(model.Start),
		DurationMinutes: model.DurationMinutes,
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	value := *t
	return &value
}
