package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing

	"github.com/iliyamo/seat-reservation-engine/internal/handler"    // handlers translating HTTP to service calls
	"github.com/iliyamo/seat-reservation-engine/internal/middleware" // JWT authentication and rate limiting
)

// RegisterRoutes registers routes that do not require authentication.
// Currently it exposes only the health check.
func RegisterRoutes(e *echo.Echo, health echo.HandlerFunc) {
	e.GET("/healthz", health)
}

// RegisterPublic registers unauthenticated session browsing.  Guests can
// inspect a session's seat map before logging in.
func RegisterPublic(e *echo.Echo, s *handler.SessionHandler) {
	g := e.Group("/v1/sessions")
	g.GET("", s.List)
	g.GET("/:id", s.Get)
	g.GET("/:id/seats", s.Seats)
	g.GET("/:id/seats/available", s.AvailableSeats)
}

// RegisterBuyer registers the buyer endpoints under /v1.  Every route
// requires a valid JWT; reservation creation is additionally rate limited
// per buyer.
func RegisterBuyer(e *echo.Echo, r *handler.ReservationHandler, p *handler.PaymentHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group("/v1", middleware.JWTAuth(jwtSecret))

	g.POST("/reservations", r.Create, limiter)
	g.PATCH("/reservations/:id/cancel", r.Cancel)
	// /my is static and wins over /:id
	g.GET("/reservations/my", r.Mine)
	g.GET("/reservations/:id", r.Get)

	g.POST("/payments/confirm", p.Confirm)
	g.GET("/payments/history", p.History)
	g.GET("/payments/:id", p.Get)
}
