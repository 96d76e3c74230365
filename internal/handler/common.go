package handler // handler defines http handlers

import (
	"errors"   // errors provides errors.Is for mapping sentinels
	"net/http" // net/http provides status codes
	"strconv"  // strconv parses pagination parameters

	"github.com/labstack/echo/v4" // echo defines request context types

	"github.com/iliyamo/seat-reservation-engine/internal/middleware"
	"github.com/iliyamo/seat-reservation-engine/internal/repository"
	"github.com/iliyamo/seat-reservation-engine/internal/service"
)

var errNoUser = errors.New("invalid user_id in context")

// getUserID extracts the buyer id stored by middleware.JWTAuth.
func getUserID(c echo.Context) (string, error) {
	if s, ok := c.Get(middleware.UserIDKey).(string); ok && s != "" {
		return s, nil
	}
	return "", errNoUser
}

// errorMapping pairs a sentinel with its status and machine readable code.
// Order matters: specific conflicts precede the generic ErrConflict.
var errorMapping = []struct {
	err    error
	status int
	code   string
}{
	{service.ErrValidation, http.StatusBadRequest, "VALIDATION_ERROR"},
	{repository.ErrSeatNotInSession, http.StatusBadRequest, "SEAT_NOT_IN_SESSION"},
	{repository.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{repository.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
	{repository.ErrSeatUnavailable, http.StatusConflict, "SEAT_UNAVAILABLE"},
	{service.ErrSessionBusy, http.StatusConflict, "SESSION_BUSY"},
	{service.ErrIdempotencyKeyReused, http.StatusConflict, "IDEMPOTENCY_KEY_REUSED"},
	{repository.ErrNotCancellable, http.StatusConflict, "NOT_CANCELLABLE"},
	{repository.ErrNotPending, http.StatusConflict, "NOT_PENDING"},
	{repository.ErrReservationExpired, http.StatusConflict, "RESERVATION_EXPIRED"},
	{repository.ErrConflict, http.StatusConflict, "CONFLICT"},
}

// respondError writes err as {"error", "code"}.  Unknown errors are logged
// and reported as 500 without leaking details.
func respondError(c echo.Context, err error) error {
	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			if m.err == service.ErrSessionBusy {
				c.Response().Header().Set("Retry-After", "1")
			}
			return c.JSON(m.status, echo.Map{"error": err.Error(), "code": m.code})
		}
	}
	c.Logger().Errorf("%s %s: %v", c.Request().Method, c.Path(), err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error", "code": "INTERNAL"})
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "code": "UNAUTHORIZED"})
}

// bindAndValidate decodes the body into dst and runs the registered
// validator.  Both failures are validation errors.
func bindAndValidate(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return validationError("invalid request body")
	}
	if err := c.Validate(dst); err != nil {
		if errors.Is(err, service.ErrValidation) {
			return err
		}
		return validationError(err.Error())
	}
	return nil
}

// pagination reads ?limit and ?offset.  limit defaults to 50 and is capped
// at 100.
func pagination(c echo.Context) (limit, offset int) {
	limit, offset = 50, 0
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil && v > 0 {
		limit = v
	}
	if limit > 100 {
		limit = 100
	}
	if v, err := strconv.Atoi(c.QueryParam("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}
