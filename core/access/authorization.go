/*
Package access provides authentication and access control.

An Authorization describes the authenticated caller. It is added to the request context
by the JWT middleware and retrieved by handlers with

	auth := access.AuthorizationFromContext(ctx)

Access decisions are explicit functions of the caller's role, whether the caller owns the
record, and the requested operation. See Authorize, CanView and AuthorizeAccount.
*/
package access

import (
	"context"

	"github.com/google/uuid"
	"github.com/relabs-tech/geocatalog/core"
)

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

// the predefined context key
const (
	contextKeyAuthorization contextKey = "_authorization_"
)

// Authorization is a context object which stores the authenticated caller
type Authorization struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email"`
	Role   core.Role `json:"role"`
}

// IsAdmin returns true if the authorization carries the ADMIN role
func (a *Authorization) IsAdmin() bool {
	return a != nil && a.Role == core.RoleAdmin
}

// Owns returns true if the caller is the owner identified by ownerID
func (a *Authorization) Owns(ownerID uuid.UUID) bool {
	return a != nil && a.UserID != uuid.Nil && a.UserID == ownerID
}

// ContextWithAuthorization returns a new context with this authorization added to it
func (a *Authorization) ContextWithAuthorization(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKeyAuthorization, a)
}

// AuthorizationFromContext retrieves an authorization from the context
func AuthorizationFromContext(ctx context.Context) *Authorization {
	a, ok := ctx.Value(contextKeyAuthorization).(*Authorization)
	if ok {
		return a
	}
	return nil
}
