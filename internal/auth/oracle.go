// Package auth answers permission questions for the guarded API. Credential
// checking happens elsewhere; this package only trusts validated tokens.
package auth

import (
	"context"
	"slices"

	"github.com/sugreev38/v0-hospital-emr-software/pkg/types"
)

// Oracle decides which operations the current caller may invoke
type Oracle interface {
	IsAuthenticated() bool
	HasPermission(permission string) bool
	HasRole(roles ...types.UserRole) bool
}

// Principal is an Oracle for one user. The zero value is anonymous.
type Principal struct {
	User *types.User
}

// NewPrincipal wraps user
func NewPrincipal(user *types.User) Principal {
	return Principal{User: user}
}

// IsAuthenticated reports whether a user is present
func (p Principal) IsAuthenticated() bool {
	return p.User != nil
}

// HasPermission reports whether the user holds permission. Admins hold
// every permission.
func (p Principal) HasPermission(permission string) bool {
	if p.User == nil {
		return false
	}
	if p.User.Role == types.RoleAdmin {
		return true
	}
	return slices.Contains(p.User.Permissions, permission)
}

// HasRole reports whether the user has any of roles
func (p Principal) HasRole(roles ...types.UserRole) bool {
	if p.User == nil {
		return false
	}
	return slices.Contains(roles, p.User.Role)
}

// ID returns the user id, or an empty string when anonymous
func (p Principal) ID() string {
	if p.User == nil {
		return ""
	}
	return p.User.ID
}

type principalKey struct{}

// WithPrincipal stores p in ctx
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored in ctx, or an anonymous one
func PrincipalFrom(ctx context.Context) Principal {
	p, _ := ctx.Value(principalKey{}).(Principal)
	return p
}

// Require returns ErrUnauthorized unless o holds permission
func Require(o Oracle, permission string) error {
	if !o.IsAuthenticated() {
		return types.NewAuthenticationError(types.ErrCodeAuthenticationFailed, "authentication required")
	}
	if !o.HasPermission(permission) {
		return types.ErrUnauthorized
	}
	return nil
}
