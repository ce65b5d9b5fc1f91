package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// HeaderUserID carries the authenticated user, set by the upstream auth
// proxy. The sync service trusts it; authentication itself lives outside
// this service.
const HeaderUserID = "X-Versus-User-ID"

// UserMiddleware extracts the authenticated user from the request headers.
func UserMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := c.Request().Header.Get(HeaderUserID)
			userID, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || userID <= 0 {
				return Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid user identity")
			}
			c.Set("user_id", userID)
			return next(c)
		}
	}
}

// GetUserID returns the authenticated user ID from the request context.
func GetUserID(c echo.Context) int64 {
	if id, ok := c.Get("user_id").(int64); ok {
		return id
	}
	return 0
}
