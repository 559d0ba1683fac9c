// Package source reads normalized session snapshots from disk.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/example/booking-guard/internal/application"
	"github.com/example/booking-guard/internal/logging"
	"github.com/example/booking-guard/internal/scheduler"
)

// Snapshot is the on-disk document for one user.
type Snapshot struct {
	Candidates []scheduler.Session `json:"candidates"`
	Existing   []scheduler.Session `json:"existing"`
}

// FileSource is an application.SessionSource reading <dir>/<user>.json files
// written by the external normalizer.
type FileSource struct {
	dir    string
	logger *slog.Logger
}

// NewFileSource constructs a source rooted at dir.
func NewFileSource(dir string, logger *slog.Logger) *FileSource {
	return &FileSource{dir: dir, logger: logging.Component(logger, "source.file")}
}

// Candidates returns the user's candidate sessions. A missing snapshot means
// there is nothing to scan.
func (s *FileSource) Candidates(ctx context.Context, user application.UserProfile) ([]scheduler.Session, error) {
	snapshot, err := s.load(ctx, user.Email)
	if err != nil {
		return nil, err
	}
	return snapshot.Candidates, nil
}

// Existing returns committed sessions from the user's snapshot whose school is
// one of schools and whose status matches one of statuses, ignoring case.
func (s *FileSource) Existing(ctx context.Context, user application.UserProfile, schools []string, statuses []string) ([]scheduler.Session, error) {
	snapshot, err := s.load(ctx, user.Email)
	if err != nil {
		return nil, err
	}

	wantSchool := make(map[string]struct{}, len(schools))
	for _, school := range schools {
		wantSchool[school] = struct{}{}
	}

	var out []scheduler.Session
	for _, session := range snapshot.Existing {
		if _, ok := wantSchool[session.School]; !ok {
			continue
		}
		if len(statuses) > 0 && !matchesStatus(session.Status, statuses) {
			continue
		}
		out = append(out, session)
	}
	return out, nil
}

func (s *FileSource) load(ctx context.Context, email string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	path := s.Path(email)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.DebugContext(ctx, "no session snapshot", "path", path)
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	return snapshot, nil
}

// Path returns the snapshot path for email.
func (s *FileSource) Path(email string) string {
	return filepath.Join(s.dir, SanitizeUser(email)+".json")
}

// SanitizeUser maps an email to a file name: lower-cased, with every byte
// outside [a-z0-9._-] replaced by '_'.
func SanitizeUser(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	var b strings.Builder
	b.Grow(len(email))
	for i := 0; i < len(email); i++ {
		c := email[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '.', c == '_', c == '-':
			b.WriteByte(c)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

func matchesStatus(status string, statuses []string) bool {
	status = strings.TrimSpace(status)
	for _, want := range statuses {
		if strings.EqualFold(status, strings.TrimSpace(want)) {
			return true
		}
	}
	return false
}
