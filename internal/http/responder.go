package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/example/booking-guard/internal/application"
	"github.com/example/booking-guard/internal/logging"
)

var (
	errBadRequestBody  = errors.New("無効なリクエスト形式です。")
	errInvalidQuery    = errors.New("クエリパラメータの値が不正です。")
	errMissingAPIToken = errors.New("認証トークンを指定してください")
)

type responder struct {
	logger *slog.Logger
}

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

func newResponder(logger *slog.Logger) responder {
	return responder{logger: defaultLogger(logger)}
}

func (r responder) writeError(c echo.Context, status int, err error) error {
	message := localizedStatusMessage(status)
	if err != nil {
		if msg := err.Error(); msg != "" {
			message = msg
		}
		r.loggerFor(c).WarnContext(c.Request().Context(), "request failed", "status", status, "error", err)
	}
	return c.JSON(status, errorResponse{Message: message})
}

func (r responder) handleServiceError(c echo.Context, err error) error {
	ctx := c.Request().Context()
	logger := r.loggerFor(c)

	switch {
	case err == nil:
		return r.writeError(c, http.StatusInternalServerError, errors.New("unknown error"))
	case errors.Is(err, application.ErrUnauthorized):
		return c.JSON(http.StatusUnauthorized, errorResponse{ErrorCode: "AUTH_REQUIRED", Message: localizedStatusMessage(http.StatusUnauthorized)})
	case errors.Is(err, application.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Message: "指定されたユーザーが見つかりません。"})
	case errors.Is(err, application.ErrScanInProgress):
		return c.JSON(http.StatusConflict, errorResponse{ErrorCode: "SCAN_IN_PROGRESS", Message: "このユーザーのスキャンは実行中です。"})
	}

	var vErr *application.ValidationError
	if errors.As(err, &vErr) {
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{
			Message: localizedStatusMessage(http.StatusUnprocessableEntity),
			Errors:  vErr.FieldErrors,
		})
	}

	logger.ErrorContext(ctx, "service call failed", "error", err, "error_kind", application.ErrorKind(err))
	return c.JSON(http.StatusInternalServerError, errorResponse{Message: localizedStatusMessage(http.StatusInternalServerError)})
}

func (r responder) loggerFor(c echo.Context) *slog.Logger {
	if logger := logging.FromContext(c.Request().Context()); logger != nil {
		return logger
	}
	return r.logger
}

// operationLogger tags the request logger with the route and the API operation.
func (r responder) operationLogger(c echo.Context, operation string, attrs ...any) *slog.Logger {
	pairs := append([]any{"route", c.Path(), "operation", operation}, attrs...)
	return r.loggerFor(c).With(pairs...)
}

func localizedStatusMessage(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "リクエスト内容が正しくありません。"
	case http.StatusUnauthorized:
		return "認証が必要です。"
	case http.StatusNotFound:
		return "指定されたリソースが見つかりません。"
	case http.StatusConflict:
		return "要求はリソースの現在の状態と競合しています。"
	case http.StatusUnprocessableEntity:
		return "入力内容に誤りがあります。"
	default:
		return "サーバー内部でエラーが発生しました。"
	}
}

type errorResponse struct {
	ErrorCode string            `json:"error_code,omitempty"`
	Message   string            `json:"message"`
	Errors    map[string]string `json:"errors,omitempty"`
}
