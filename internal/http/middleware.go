package http

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/booking-guard/internal/logging"
)

// RequireToken rejects requests whose bearer token does not match tokenHash.
// A verified token is remembered so bcrypt runs once per distinct token.
func RequireToken(tokenHash string, logger *slog.Logger) echo.MiddlewareFunc {
	responder := newResponder(logger)
	var (
		mu       sync.RWMutex
		verified []byte
	)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := bearerToken(c.Request())
			if token == "" {
				return responder.writeError(c, http.StatusUnauthorized, errMissingAPIToken)
			}

			mu.RLock()
			known := verified != nil && subtle.ConstantTimeCompare(verified, []byte(token)) == 1
			mu.RUnlock()

			if !known {
				if err := bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(token)); err != nil {
					return c.JSON(http.StatusUnauthorized, errorResponse{ErrorCode: "AUTH_INVALID", Message: "認証トークンが無効です。"})
				}
				mu.Lock()
				verified = []byte(token)
				mu.Unlock()
			}
			return next(c)
		}
	}
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get(echo.HeaderAuthorization))
	if len(header) < len("Bearer ") || !strings.EqualFold(header[:len("Bearer ")], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(header[len("Bearer "):])
}

// RequestLogger attaches a request scoped logger to the request context and
// logs the outcome of every request.
func RequestLogger(base *slog.Logger) echo.MiddlewareFunc {
	base = defaultLogger(base)
	var counter atomic.Uint64

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			logger := base.With(
				"request_id", counter.Add(1),
				"method", req.Method,
				"path", req.URL.Path,
			)

			ctx := logging.ContextWithLogger(req.Context(), logger)
			c.SetRequest(req.WithContext(ctx))

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			logger.InfoContext(ctx, "request completed",
				"status", c.Response().Status,
				"duration", time.Since(start),
			)
			return nil
		}
	}
}
