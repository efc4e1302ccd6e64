package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	RoleAdmin      = "admin"
	RoleClinician  = "clinician"
	RoleNurse      = "nurse"
	RolePharmacist = "pharmacist"
)

// ReadRoles may view protocols and treatment sets. Only clinicians order or
// discontinue treatments.
var (
	ReadRoles  = []string{RoleClinician, RoleNurse, RolePharmacist}
	WriteRoles = []string{RoleClinician}
)

// HasRole reports whether granted contains one of required. Admin holds
// every role.
func HasRole(granted []string, required ...string) bool {
	for _, has := range granted {
		if has == RoleAdmin {
			return true
		}
		for _, r := range required {
			if has == r {
				return true
			}
		}
	}
	return false
}

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasRole(RolesFromContext(c.Request().Context()), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}
