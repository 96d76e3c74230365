package handler // declare the package name; contains HTTP handlers

import (
	"context"  // context bounds each dependency probe
	"net/http" // net/http provides status codes and response helpers
	"time"

	"github.com/labstack/echo/v4" // echo is the web framework used for this project
)

// Pinger probes one dependency, e.g. db.PingContext.
type Pinger func(ctx context.Context) error

// Health is a health-check endpoint used by load balancers and monitoring
// systems.  Each named check is probed with a short timeout; the response
// is 200 "ok" when all pass and 503 with the failing checks otherwise.
// With no checks it only reports that the process is serving.
func Health(checks map[string]Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		failed := map[string]string{}
		for name, ping := range checks {
			ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
			if err := ping(ctx); err != nil {
				failed[name] = err.Error()
			}
			cancel()
		}
		if len(failed) > 0 {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "degraded", "failed": failed})
		}
		return c.String(http.StatusOK, "ok")
	}
}
