package service

import (
	"context"
	"strings"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

// Role is the caller's authority level.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole maps a header value to a Role. Unknown values are plain users.
func ParseRole(s string) Role {
	if strings.EqualFold(strings.TrimSpace(s), string(RoleAdmin)) {
		return RoleAdmin
	}
	return RoleUser
}

// Caller identifies who issued a request.
type Caller struct {
	UserID string
	Role   Role
}

// IsAdmin reports whether c may act on any auction.
func (c Caller) IsAdmin() bool { return c.Role == RoleAdmin }

// Anonymous reports whether no user id was presented.
func (c Caller) Anonymous() bool { return c.UserID == "" }

type callerKey struct{}

// WithCaller stores c in ctx.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller stored in ctx, or an anonymous caller.
func CallerFrom(ctx context.Context) Caller {
	c, _ := ctx.Value(callerKey{}).(Caller)
	return c
}

func requireUser(c Caller) error {
	if c.Anonymous() {
		return domain.ErrUnauthorized
	}
	return nil
}

func requireAdmin(c Caller) error {
	if err := requireUser(c); err != nil {
		return err
	}
	if !c.IsAdmin() {
		return domain.ErrForbidden
	}
	return nil
}
