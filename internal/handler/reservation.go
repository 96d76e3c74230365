package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-reservation-engine/internal/model"
	"github.com/iliyamo/seat-reservation-engine/internal/service"
)

// ReservationAPI is the part of service.ReservationService the handler
// needs.
type ReservationAPI interface {
	Create(ctx context.Context, in service.CreateReservationInput) (*model.Reservation, error)
	Cancel(ctx context.Context, reservationID, userID string) (*model.Reservation, error)
	FindByID(ctx context.Context, reservationID, userID string) (*model.Reservation, error)
	FindByUser(ctx context.Context, userID string) ([]model.Reservation, error)
}

// ReservationHandler serves the buyer's reservation endpoints.  All routes
// sit behind JWTAuth.
type ReservationHandler struct {
	Reservations ReservationAPI
}

// NewReservationHandler panics on a nil service, like the other handler
// constructors.
func NewReservationHandler(svc ReservationAPI) *ReservationHandler {
	if svc == nil {
		panic("nil service passed to NewReservationHandler")
	}
	return &ReservationHandler{Reservations: svc}
}

type createReservationRequest struct {
	SessionID string   `json:"session_id" validate:"required,uuid"`
	SeatIDs   []string `json:"seat_ids" validate:"required,min=1,max=50,dive,uuid"`
}

// Create handles POST /v1/reservations.  The optional Idempotency-Key header
// makes retries return the original reservation.  Responds 201 with the
// PENDING reservation.
func (h *ReservationHandler) Create(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	var req createReservationRequest
	if err := bindAndValidate(c, &req); err != nil {
		return respondError(c, err)
	}
	res, err := h.Reservations.Create(c.Request().Context(), service.CreateReservationInput{
		UserID:         userID,
		SessionID:      req.SessionID,
		SeatIDs:        req.SeatIDs,
		IdempotencyKey: c.Request().Header.Get("Idempotency-Key"),
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

// Cancel handles PATCH /v1/reservations/:id/cancel.
func (h *ReservationHandler) Cancel(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	res, err := h.Reservations.Cancel(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Mine handles GET /v1/reservations/my.
func (h *ReservationHandler) Mine(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	list, err := h.Reservations.FindByUser(c.Request().Context(), userID)
	if err != nil {
		return respondError(c, err)
	}
	if list == nil {
		list = []model.Reservation{}
	}
	return c.JSON(http.StatusOK, echo.Map{"items": list})
}

// Get handles GET /v1/reservations/:id.
func (h *ReservationHandler) Get(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	res, err := h.Reservations.FindByID(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
