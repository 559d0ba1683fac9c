package http

import (
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// RouterConfig carries the dependencies of NewRouter.
type RouterConfig struct {
	Service      ScanAPI
	Users        UserDirectory
	APITokenHash string
	Logger       *slog.Logger
}

// NewRouter builds the echo instance serving the API.
func NewRouter(cfg RouterConfig) *echo.Echo {
	logger := defaultLogger(cfg.Logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &requestValidator{validate: validator.New()}
	e.Use(RequestLogger(logger))

	e.GET("/healthz", health)

	scans := NewScanHandler(cfg.Service, cfg.Users, logger)
	v1 := e.Group("/v1", RequireToken(cfg.APITokenHash, logger))
	v1.POST("/users/:email/scans", scans.Scan)
	v1.GET("/users/:email/scans", scans.ListScans)
	v1.POST("/conflicts/check", scans.CheckConflicts)
	v1.GET("/submissions", scans.QuerySubmissions)

	return e
}

func health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}
