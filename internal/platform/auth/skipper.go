package auth

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// publicPaths are infrastructure endpoints reachable without credentials.
var publicPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
	"/metrics":   true,
}

// PublicPrefix is the patient-facing booking form.
const PublicPrefix = "/api/v1/public/"

// AuthSkipper returns true for requests that bypass authentication. Pass it
// as JWTConfig.Skipper or to DevAuthMiddleware.
func AuthSkipper(c echo.Context) bool {
	if p := c.Path(); p != "" && IsPublicPath(p) {
		return true
	}
	return IsPublicPath(c.Request().URL.Path)
}

// IsPublicPath reports whether path bypasses auth.
func IsPublicPath(path string) bool {
	return publicPaths[path] || strings.HasPrefix(path, PublicPrefix)
}
