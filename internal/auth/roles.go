package auth

import (
	"github.com/gofiber/fiber/v2"

	apperrors "github.com/ShapArt/outlook-exporter/pkg/util/errorutil"
)

// Role grants access to the operator API. Operators can do everything
// viewers can.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
)

var roleRank = map[Role]int{
	RoleViewer:   1,
	RoleOperator: 2,
}

// ParseRole validates a role name.
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	_, ok := roleRank[r]
	return r, ok
}

// Allows reports whether r includes the rights of min.
func (r Role) Allows(min Role) bool {
	return roleRank[r] >= roleRank[min] && roleRank[min] > 0
}

// RequireRole ensures the principal holds at least min.
func RequireRole(min Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if !principal.Role.Allows(min) {
			return apperrors.NewForbidden("insufficient role")
		}
		return c.Next()
	}
}
