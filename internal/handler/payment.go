package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-reservation-engine/internal/model"
)

// PaymentAPI is the part of service.PaymentService the handler needs.
type PaymentAPI interface {
	Confirm(ctx context.Context, reservationID, userID string) (*model.Sale, error)
	FindSalesByUser(ctx context.Context, userID string) ([]model.Sale, error)
	FindSaleByID(ctx context.Context, saleID, userID string) (*model.Sale, error)
}

// PaymentHandler turns a PENDING reservation into a sale and lists sales.
type PaymentHandler struct {
	Payments PaymentAPI
}

func NewPaymentHandler(svc PaymentAPI) *PaymentHandler {
	if svc == nil {
		panic("nil service passed to NewPaymentHandler")
	}
	return &PaymentHandler{Payments: svc}
}

type confirmPaymentRequest struct {
	ReservationID string `json:"reservation_id" validate:"required,uuid"`
}

// Confirm handles POST /v1/payments/confirm and responds 201 with the sale.
func (h *PaymentHandler) Confirm(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	var req confirmPaymentRequest
	if err := bindAndValidate(c, &req); err != nil {
		return respondError(c, err)
	}
	sale, err := h.Payments.Confirm(c.Request().Context(), req.ReservationID, userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, sale)
}

// History handles GET /v1/payments/history.
func (h *PaymentHandler) History(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	sales, err := h.Payments.FindSalesByUser(c.Request().Context(), userID)
	if err != nil {
		return respondError(c, err)
	}
	if sales == nil {
		sales = []model.Sale{}
	}
	return c.JSON(http.StatusOK, echo.Map{"items": sales})
}

// Get handles GET /v1/payments/:id.
func (h *PaymentHandler) Get(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	sale, err := h.Payments.FindSaleByID(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, sale)
}
