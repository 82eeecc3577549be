// Package authtest provides an in-process OIDC issuer and a permissive
// authenticator for tests of code guarded by auth.Middleware.
package authtest

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ggoodman/mcp-everything-go/auth"
	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

// NoAuth accepts every token as the configured user.
type NoAuth struct {
	UserID string
}

// NewNoAuth creates a NoAuth authenticator. An empty userID defaults to
// "test-user".
func NewNoAuth(userID string) *NoAuth {
	if userID == "" {
		userID = "test-user"
	}
	return &NoAuth{UserID: userID}
}

// CheckAuthentication always succeeds.
func (n *NoAuth) CheckAuthentication(context.Context, string) (auth.UserInfo, error) {
	return auth.StaticUser(n.UserID), nil
}

const keyID = "authtest-key"

// Issuer is a minimal OIDC provider serving discovery metadata and a JWKS
// backed by a freshly generated RSA key.
type Issuer struct {
	URL string

	key *rsa.PrivateKey
	srv *httptest.Server
}

// NewIssuer starts an issuer that is shut down with the test.
func NewIssuer(t testing.TB) *Issuer {
	t.Helper()

	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	iss := &Issuer{key: pk}

	jwks, err := json.Marshal(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &pk.PublicKey,
		KeyID:     keyID,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}}})
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                   iss.URL,
			"jwks_uri":                 iss.URL + "/keys",
			"authorization_endpoint":   iss.URL + "/oauth2/auth",
			"token_endpoint":           iss.URL + "/oauth2/token",
			"response_types_supported": []string{"code"},
			"scopes_supported":         []string{"mcp:read", "mcp:write"},
		})
	})
	mux.HandleFunc("GET /keys", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(jwks)
	})

	iss.srv = httptest.NewServer(mux)
	iss.URL = iss.srv.URL
	t.Cleanup(iss.srv.Close)
	return iss
}

// JWKSURL returns the location of the issuer's key set.
func (i *Issuer) JWKSURL() string { return i.URL + "/keys" }

// MintToken signs an RFC 9068 access token for sub and audience. Extra
// claims override the defaults (iss, sub, aud, iat, exp one hour out).
func (i *Issuer) MintToken(t testing.TB, sub, audience string, extra jwt.MapClaims) string {
	t.Helper()
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": i.URL,
		"sub": sub,
		"aud": audience,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
	for k, v := range extra {
		claims[k] = v
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = keyID
	tok.Header["typ"] = "at+jwt"
	s, err := tok.SignedString(i.key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}
