package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/example/booking-guard/internal/application"
	"github.com/example/booking-guard/internal/scheduler"
)

const (
	defaultScanListLimit = 20
	maxScanListLimit     = 200
)

// ScanAPI is the subset of application.ScanService the handlers call.
type ScanAPI interface {
	Scan(ctx context.Context, user application.UserProfile) (application.ScanReport, error)
	CheckConflicts(ctx context.Context, user string, candidates, existing []scheduler.Session) ([]scheduler.Session, error)
	QuerySubmissions(ctx context.Context, opts application.QueryOptions) ([]application.LogEntry, error)
	ListScans(ctx context.Context, user string, limit int) ([]application.ScanRecord, error)
}

// UserDirectory resolves roster users by email.
type UserDirectory interface {
	Lookup(email string) (application.UserProfile, bool)
}

// ScanHandler serves the scan, conflict check and submission log endpoints.
type ScanHandler struct {
	service ScanAPI
	users   UserDirectory
	resp    responder
}

// NewScanHandler constructs a ScanHandler.
func NewScanHandler(service ScanAPI, users UserDirectory, logger *slog.Logger) *ScanHandler {
	return &ScanHandler{service: service, users: users, resp: newResponder(logger)}
}

type checkConflictsRequest struct {
	User       string              `json:"user" validate:"required,email"`
	Candidates []scheduler.Session `json:"candidates" validate:"required"`
	Existing   []scheduler.Session `json:"existing"`
}

type checkConflictsResponse struct {
	Sessions  []scheduler.Session `json:"sessions"`
	Conflicts int                 `json:"conflicts"`
}

type scanReportDTO struct {
	ID        string              `json:"id"`
	User      string              `json:"user"`
	ScannedAt time.Time           `json:"scanned_at"`
	Outcome   string              `json:"outcome"`
	Conflicts int                 `json:"conflicts"`
	Sessions  []scheduler.Session `json:"sessions"`
	Submitted []logEntryDTO       `json:"submitted"`
}

type logEntryDTO struct {
	ID              string     `json:"id"`
	SubmittedAt     time.Time  `json:"submitted_at"`
	SubmittedBy     string     `json:"submitted_by"`
	SessionID       string     `json:"session_id"`
	Title           string     `json:"title"`
	School          string     `json:"school"`
	Teacher         string     `json:"teacher"`
	TicketID        string     `json:"ticket_id"`
	Start           *time.Time `json:"start_time"`
	DurationMinutes int        `json:"length"`
}

type scanRecordDTO struct {
	ID             string          `json:"id"`
	User           string          `json:"user"`
	ScannedAt      time.Time       `json:"scanned_at"`
	CandidateIDs   []string        `json:"candidate_ids"`
	CandidateCount int             `json:"candidate_count"`
	ConflictCount  int             `json:"conflict_count"`
	Conflicts      json.RawMessage `json:"conflicts"`
}

// Scan runs a scan for the user named in the path.
func (h *ScanHandler) Scan(c echo.Context) error {
	ctx := c.Request().Context()
	email := strings.TrimSpace(c.Param("email"))
	logger := h.resp.operationLogger(c, "scan", "user", email)

	user, ok := h.users.Lookup(email)
	if !ok {
		logger.InfoContext(ctx, "scan requested for unknown user")
		return h.resp.handleServiceError(c, application.ErrNotFound)
	}

	report, err := h.service.Scan(ctx, user)
	if err != nil {
		return h.resp.handleServiceError(c, err)
	}
	logger.InfoContext(ctx, "scan completed", "outcome", report.Outcome, "conflicts", report.Conflicts)
	return c.JSON(http.StatusOK, toScanReportDTO(report))
}

// CheckConflicts annotates the posted candidates without recording anything.
func (h *ScanHandler) CheckConflicts(c echo.Context) error {
	var req checkConflictsRequest
	if err := c.Bind(&req); err != nil {
		return h.resp.writeError(c, http.StatusBadRequest, errBadRequestBody)
	}
	if err := c.Validate(&req); err != nil {
		return h.resp.handleServiceError(c, validationError(err))
	}

	annotated, err := h.service.CheckConflicts(c.Request().Context(), req.User, req.Candidates, req.Existing)
	if err != nil {
		return h.resp.handleServiceError(c, err)
	}
	if annotated == nil {
		annotated = []scheduler.Session{}
	}
	return c.JSON(http.StatusOK, checkConflictsResponse{
		Sessions:  annotated,
		Conflicts: len(scheduler.Conflicted(annotated)),
	})
}

// QuerySubmissions lists submission log entries.
func (h *ScanHandler) QuerySubmissions(c echo.Context) error {
	opts := application.QueryOptions{User: strings.TrimSpace(c.QueryParam("user"))}
	if raw := c.QueryParam("window_past_days"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days < 0 {
			return h.resp.writeError(c, http.StatusBadRequest, errInvalidQuery)
		}
		opts.WindowPastDays = days
	}

	entries, err := h.service.QuerySubmissions(c.Request().Context(), opts)
	if err != nil {
		return h.resp.handleServiceError(c, err)
	}
	out := make([]logEntryDTO, 0, len(entries))
	for _, entry := range entries {
		out = append(out, toLogEntryDTO(entry))
	}
	return c.JSON(http.StatusOK, out)
}

// ListScans lists the most recent scan records for the user named in the path.
func (h *ScanHandler) ListScans(c echo.Context) error {
	limit := defaultScanListLimit
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return h.resp.writeError(c, http.StatusBadRequest, errInvalidQuery)
		}
		limit = min(parsed, maxScanListLimit)
	}

	records, err := h.service.ListScans(c.Request().Context(), strings.TrimSpace(c.Param("email")), limit)
	if err != nil {
		return h.resp.handleServiceError(c, err)
	}
	out := make([]scanRecordDTO, 0, len(records))
	for _, record := range records {
		out = append(out, toScanRecordDTO(record))
	}
	return c.JSON(http.StatusOK, out)
}

func toScanReportDTO(report application.ScanReport) scanReportDTO {
	dto := scanReportDTO{
		ID:        report.ID,
		User:      report.User,
		ScannedAt: report.ScannedAt.UTC(),
		Outcome:   string(report.Outcome),
		Conflicts: report.Conflicts,
		Sessions:  report.Sessions,
		Submitted: make([]logEntryDTO, 0, len(report.Submitted)),
	}
	if dto.Sessions == nil {
		dto.Sessions = []scheduler.Session{}
	}
	for _, entry := range report.Submitted {
		dto.Submitted = append(dto.Submitted, toLogEntryDTO(entry))
	}
	return dto
}

func toLogEntryDTO(entry application.LogEntry) logEntryDTO {
	return logEntryDTO{
		ID:              entry.ID,
		SubmittedAt:     entry.SubmittedAt.UTC(),
		SubmittedBy:     entry.SubmittedBy,
		SessionID:       entry.SessionID,
		Title:           entry.Title,
		School:          entry.School,
		Teacher:         entry.Teacher,
		TicketID:        entry.TicketID,
		Start:           entry.Start,
		DurationMinutes: entry.DurationMinutes,
	}
}

func toScanRecordDTO(record application.ScanRecord) scanRecordDTO {
	dto := scanRecordDTO{
		ID:             record.ID,
		User:           record.User,
		ScannedAt:      record.ScannedAt.UTC(),
		CandidateIDs:   record.CandidateIDs,
		CandidateCount: record.CandidateCount,
		ConflictCount:  record.ConflictCount,
		Conflicts:      record.Conflicts,
	}
	if dto.CandidateIDs == nil {
		dto.CandidateIDs = []string{}
	}
	if len(dto.Conflicts) == 0 {
		dto.Conflicts = json.RawMessage("[]")
	}
	return dto
}

// requestValidator adapts validator to echo.Validator.
type requestValidator struct {
	validate *validator.Validate
}

func (v *requestValidator) Validate(i any) error {
	return v.validate.Struct(i)
}

func validationError(err error) error {
	vErr := &application.ValidationError{FieldErrors: map[string]string{}}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		vErr.FieldErrors["body"] = err.Error()
		return vErr
	}
	for _, fe := range fieldErrs {
		vErr.FieldErrors[fieldName(fe)] = fe.Tag()
	}
	return vErr
}

func fieldName(fe validator.FieldError) string {
	switch fe.Field() {
	case "User":
		return "user"
	case "Candidates":
		return "candidates"
	default:
		return strings.ToLower(fe.Field())
	}
}
