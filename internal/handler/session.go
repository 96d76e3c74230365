package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-reservation-engine/internal/model"
)

// SessionAPI is the read side of service.SessionService.
type SessionAPI interface {
	Get(ctx context.Context, id string) (*model.Session, error)
	List(ctx context.Context, limit, offset int) ([]model.Session, error)
	Seats(ctx context.Context, sessionID string) ([]model.Seat, error)
	AvailableSeats(ctx context.Context, sessionID string) ([]model.Seat, error)
}

// SessionHandler exposes public, unauthenticated session browsing.
type SessionHandler struct {
	Sessions SessionAPI
}

func NewSessionHandler(svc SessionAPI) *SessionHandler {
	if svc == nil {
		panic("nil service passed to NewSessionHandler")
	}
	return &SessionHandler{Sessions: svc}
}

// List handles GET /v1/sessions?limit=&offset=.
func (h *SessionHandler) List(c echo.Context) error {
	limit, offset := pagination(c)
	items, err := h.Sessions.List(c.Request().Context(), limit, offset)
	if err != nil {
		return respondError(c, err)
	}
	if items == nil {
		items = []model.Session{}
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items, "limit": limit, "offset": offset})
}

// Get handles GET /v1/sessions/:id.
func (h *SessionHandler) Get(c echo.Context) error {
	s, err := h.Sessions.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, s)
}

// Seats handles GET /v1/sessions/:id/seats.
func (h *SessionHandler) Seats(c echo.Context) error {
	seats, err := h.Sessions.Seats(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"session_id": c.Param("id"), "items": seats})
}

// AvailableSeats handles GET /v1/sessions/:id/seats/available.  It reads
// through the availability cache.
func (h *SessionHandler) AvailableSeats(c echo.Context) error {
	seats, err := h.Sessions.AvailableSeats(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	if seats == nil {
		seats = []model.Seat{}
	}
	return c.JSON(http.StatusOK, echo.Map{"session_id": c.Param("id"), "items": seats})
}
