package stdio

import (
	"os/user"
)

// UserProvider names the principal behind the stdio peer. The stdio binding
// carries no credentials, so the identity is ambient.
type UserProvider interface {
	CurrentUserID() (string, error)
}

// OSUserProvider resolves the user ID using the operating system's current user.
// The returned ID is user.Username when available; falling back to user.Uid.
type OSUserProvider struct{}

func (OSUserProvider) CurrentUserID() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	if u.Username != "" {
		return u.Username, nil
	}
	return u.Uid, nil
}

// StaticUser is a fixed user ID.
type StaticUser string

func (s StaticUser) CurrentUserID() (string, error) { return string(s), nil }
