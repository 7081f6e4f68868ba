package auth

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/caremeds/internal/domain/fault"
)

// Role is the closed set of actor roles on the marketplace.
type Role uint8

const (
	roleInvalid Role = iota
	RoleBuyer
	RoleSeller
	RoleAdmin
)

var (
	// ErrUnauthenticated is returned when a request carries no valid credential.
	ErrUnauthenticated error = fault.New(fault.KindUnauthenticated, "authentication required")
	// ErrForbidden is returned when the principal's role does not permit the operation.
	ErrForbidden error = fault.New(fault.KindAuthorization, "not authorized for this operation")
	// ErrUnknownRole is returned by ParseRole for unrecognised role names.
	ErrUnknownRole = errors.New("unknown role")
)

// ParseRole converts the wire name of a role. "user" is accepted as the
// legacy name of RoleBuyer.
func ParseRole(s string) (Role, error) {
	switch s {
	case "buyer", "user":
		return RoleBuyer, nil
	case "seller":
		return RoleSeller, nil
	case "admin":
		return RoleAdmin, nil
	default:
		return roleInvalid, errors.Wrapf(ErrUnknownRole, "%q", s)
	}
}

func (r Role) String() string {
	switch r {
	case RoleBuyer:
		return "buyer"
	case RoleSeller:
		return "seller"
	case RoleAdmin:
		return "admin"
	default:
		return "invalid"
	}
}

// Valid reports whether r is one of the declared roles.
func (r Role) Valid() bool {
	return r >= RoleBuyer && r <= RoleAdmin
}

// Principal is an authenticated actor.
type Principal struct {
	ID   string
	Name string
	Role Role
}

// Require returns ErrForbidden unless the principal holds one of roles.
func (p Principal) Require(roles ...Role) error {
	for _, r := range roles {
		if p.Role == r {
			return nil
		}
	}
	return errors.Wrapf(ErrForbidden, "%s role", p.Role)
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored by WithPrincipal.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
