package persistence

import (
	"context"
	"time"
)

// SubmissionFilter narrows submission log queries. Zero values disable a filter.
type SubmissionFilter struct {
	// UserEmail matches the submitting user case-insensitively.
	UserEmail string
	// SubmittedSince keeps entries submitted at or after the instant.
	SubmittedSince time.Time
}

// SubmissionRepository stores the append-only submission log.
type SubmissionRepository interface {
	InsertSubmissions(ctx context.Context, submissions []Submission) error
	ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]Submission, error)
	DeleteSubmissionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ScanResultRepository stores scan summaries.
type ScanResultRepository interface {
	CreateScanResult(ctx context.Context, result ScanResult) error
	ListScanResults(ctx context.Context, userEmail string, limit int) ([]ScanResult, error)
	DeleteScanResultsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
