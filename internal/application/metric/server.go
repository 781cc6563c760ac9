package metric

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/takato23/sparkrelay/internal/application/constant"
)

const readyTimeout = 2 * time.Second

// Check - проверка готовности, nil означает готов
type Check func(ctx context.Context) error

// NewServer создает сервер метрик. /ready опрашивает checks
func NewServer(checks map[string]Check) *echo.Echo {
	e := echo.New()

	e.HideBanner = true
	e.HidePort = true

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	e.GET("/ready", func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), readyTimeout)
		defer cancel()

		resp := map[string]string{"status": "ready"}
		status := http.StatusOK

		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				slog.Warn("readiness check failed", slog.String(constant.Check, name), slog.Any(constant.Error, err))

				resp[name] = err.Error()
				resp["status"] = "unavailable"
				status = http.StatusServiceUnavailable
			}
		}

		resp["sessions"] = strconv.FormatInt(sessionsNow.Load(), 10)

		return c.JSON(status, resp)
	})

	return e
}
