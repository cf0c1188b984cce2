package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Staff roles carried in token claims.
const (
	RoleAdmin        = "admin"
	RoleDentist      = "dentist"
	RoleHygienist    = "hygienist"
	RoleReceptionist = "receptionist"
)

// RequireRole returns middleware that checks if the user has at least one of
// the specified roles. Admin passes every check.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			for _, required := range roles {
				if HasRole(ctx, required) {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}
