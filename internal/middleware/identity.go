package middleware

// identity.go defines the context key under which JWTAuth stores the
// authenticated buyer and a helper shared by the rate limiter.

import (
	"github.com/labstack/echo/v4"
)

// UserIDKey is the echo context key holding the buyer id (string).
const UserIDKey = "user_id"

// userID returns the authenticated buyer or "anon" when the request went
// through no JWT middleware.
func userID(c echo.Context) string {
	if s, ok := c.Get(UserIDKey).(string); ok && s != "" {
		return s
	}
	return "anon"
}
