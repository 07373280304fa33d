package auth

import (
	"context"
	"strings"

	firebaseauth "firebase.google.com/go/v4/auth"

	domain "github.com/hanko-field/ordercore/internal/domain"
)

// Role constants used when checking authorisation boundaries.
const (
	RoleUser  = "user"
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

// Identity captures the authenticated principal extracted from a Firebase ID token.
type Identity struct {
	UID   string
	Email string
	Roles []string

	token *firebaseauth.Token
}

// Token exposes the decoded Firebase ID token associated with this identity.
func (i *Identity) Token() *firebaseauth.Token {
	if i == nil {
		return nil
	}
	return i.token
}

// HasRole reports whether the identity includes the requested role (case-insensitive).
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	if role == "" {
		return false
	}
	for _, r := range i.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the identity includes any of the provided roles.
func (i *Identity) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if i.HasRole(role) {
			return true
		}
	}
	return false
}

type contextKey string

const (
	identityContextKey contextKey = "github.com/hanko-field/ordercore/internal/platform/auth/identity"
	guestContextKey    contextKey = "github.com/hanko-field/ordercore/internal/platform/auth/guest"
)

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

// WithGuestSession stores the anonymous session key presented by the caller.
func WithGuestSession(ctx context.Context, sessionKey string) context.Context {
	return context.WithValue(ctx, guestContextKey, strings.TrimSpace(sessionKey))
}

// GuestSessionFromContext returns the guest session key, if any.
func GuestSessionFromContext(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(guestContextKey).(string)
	if !ok || key == "" {
		return "", false
	}
	return key, true
}

// CartIdentity resolves the cart owner for the request. A verified user wins over a guest session
// so that a signed-in caller never writes to an anonymous cart by accident.
func CartIdentity(ctx context.Context) (domain.CartIdentity, bool) {
	if identity, ok := IdentityFromContext(ctx); ok && identity.UID != "" {
		return domain.UserIdentity(identity.UID), true
	}
	if key, ok := GuestSessionFromContext(ctx); ok {
		return domain.GuestIdentity(key), true
	}
	return domain.CartIdentity{}, false
}

// ActorID labels the caller in order status history.
func ActorID(ctx context.Context) string {
	if identity, ok := IdentityFromContext(ctx); ok && identity.UID != "" {
		return "user:" + identity.UID
	}
	if key, ok := GuestSessionFromContext(ctx); ok {
		return "guest:" + key
	}
	return "anonymous"
}
