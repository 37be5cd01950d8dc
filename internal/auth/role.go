package auth

import (
	"slices"

	"github.com/sakif/user-manager/internal/apperror"
	"github.com/sakif/user-manager/internal/model"
)

// RequireRole is the single capability check behind every gated operation.
// Nil claims fail with Unauthenticated; a role outside allowed fails with
// Forbidden.
func RequireRole(c *Claims, allowed ...model.Role) error {
	if c == nil {
		return apperror.Unauthenticated("Access token required")
	}
	if !slices.Contains(allowed, c.Role) {
		return apperror.Forbidden("Insufficient permissions")
	}
	return nil
}

// RequireSelfOrRole passes when the caller owns the record identified by
// userID, and otherwise defers to RequireRole.
func RequireSelfOrRole(c *Claims, userID int64, allowed ...model.Role) error {
	if c != nil && c.UserID == userID {
		return nil
	}
	return RequireRole(c, allowed...)
}
