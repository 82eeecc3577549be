package auth

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrUnauthorized indicates authentication failed or no valid credentials were supplied.
var ErrUnauthorized = errors.New("unauthorized")

// ErrInsufficientScope indicates the caller authenticated but lacks required scope.
var ErrInsufficientScope = errors.New("insufficient scope")

// UserInfo represents an authenticated principal.
// Implementations should be lightweight and safe for concurrent use.
type UserInfo interface {
	// UserID returns the unique identifier for the user.
	UserID() string
	// Claims unmarshalls the user's claims into the provided struct reference.
	Claims(ref any) error
}

// Authenticator validates bearer tokens and returns associated user info.
// It should return ErrUnauthorized for invalid credentials.
type Authenticator interface {
	CheckAuthentication(ctx context.Context, tok string) (UserInfo, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, tok string) (UserInfo, error)

func (f AuthenticatorFunc) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	return f(ctx, tok)
}

// claimsUser is the UserInfo backing validated JWTs.
type claimsUser struct {
	sub    string
	claims map[string]any
}

func (u *claimsUser) UserID() string { return u.sub }

func (u *claimsUser) Claims(ref any) error {
	b, err := json.Marshal(u.claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}

// StaticUser is a UserInfo with an id and no claims.
type StaticUser string

func (s StaticUser) UserID() string     { return string(s) }
func (StaticUser) Claims(ref any) error { return nil }

type userKey struct{}

// WithUser returns a context carrying ui.
func WithUser(ctx context.Context, ui UserInfo) context.Context {
	return context.WithValue(ctx, userKey{}, ui)
}

// UserFromContext returns the principal authenticated by Middleware.
func UserFromContext(ctx context.Context) (UserInfo, bool) {
	ui, ok := ctx.Value(userKey{}).(UserInfo)
	return ui, ok
}
