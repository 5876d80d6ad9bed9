package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// BearerAuth requires the Authorization header to carry "Bearer
// <apiKey>" when apiKey is non-empty (spec §4.8). An empty apiKey
// disables auth entirely, matching the teacher's own PSK
// fail-open-when-unconfigured-for-dev pattern.
func BearerAuth(apiKey string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if apiKey == "" {
				return next(c)
			}
			header := c.Request().Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(header, prefix) {
				return c.JSON(http.StatusUnauthorized, fail("missing bearer token"))
			}
			token := strings.TrimPrefix(header, prefix)
			if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
				return c.JSON(http.StatusUnauthorized, fail("invalid bearer token"))
			}
			return next(c)
		}
	}
}
