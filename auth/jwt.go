package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// Config controls validation behavior for access tokens.
type Config struct {
	Issuer string
	// Audiences lists accepted "aud" values. A token must carry at least one.
	Audiences      []string
	RequiredScopes []string
	ScopeModeAny   bool // if true, any of RequiredScopes is sufficient; else all are required
	AllowedAlgs    []string
	Leeway         time.Duration
	// RequireTyp enforces the RFC 9068 "at+jwt" header.
	RequireTyp bool
}

// Option configures a JWTAuthenticator.
type Option func(*Config)

// WithRequiredScopes requires all of the provided scopes to be present in the
// space-delimited "scope" claim.
func WithRequiredScopes(scopes ...string) Option {
	return func(c *Config) {
		c.RequiredScopes = append([]string(nil), scopes...)
		c.ScopeModeAny = false
	}
}

// WithAnyRequiredScope requires at least one of the provided scopes to be present.
func WithAnyRequiredScope(scopes ...string) Option {
	return func(c *Config) {
		c.RequiredScopes = append([]string(nil), scopes...)
		c.ScopeModeAny = true
	}
}

// WithAllowedAlgs restricts allowed JWS algorithms. "none" is never allowed.
// Defaults to ["RS256"].
func WithAllowedAlgs(algs ...string) Option {
	return func(c *Config) {
		c.AllowedAlgs = slices.DeleteFunc(append([]string(nil), algs...), func(a string) bool { return a == "none" })
	}
}

// WithLeeway sets clock skew tolerance for time-based claims.
func WithLeeway(d time.Duration) Option {
	return func(c *Config) { c.Leeway = d }
}

// WithAdditionalAudiences accepts further "aud" values, typically for local
// deployments whose public URL differs from production.
func WithAdditionalAudiences(aud ...string) Option {
	return func(c *Config) { c.Audiences = append(c.Audiences, aud...) }
}

// WithoutTypCheck accepts tokens lacking the "at+jwt" typ header.
func WithoutTypCheck() Option {
	return func(c *Config) { c.RequireTyp = false }
}

func defaultConfig(issuer, audience string) *Config {
	return &Config{
		Issuer:      issuer,
		Audiences:   []string{audience},
		AllowedAlgs: []string{"RS256"},
		Leeway:      60 * time.Second,
		RequireTyp:  true,
	}
}

// JWTAuthenticator validates RFC 9068 JWT access tokens against a JWKS that
// is refreshed in the background.
type JWTAuthenticator struct {
	cfg     *Config
	keyfunc jwt.Keyfunc

	jwksURI               string
	authorizationEndpoint string
	tokenEndpoint         string
	scopesSupported       []string
}

var _ Authenticator = (*JWTAuthenticator)(nil)

// NewFromDiscovery performs OIDC discovery on issuer to obtain its jwks_uri
// and returns an authenticator accepting tokens issued for audience.
func NewFromDiscovery(ctx context.Context, issuer, audience string, opts ...Option) (*JWTAuthenticator, error) {
	if issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if audience == "" {
		return nil, errors.New("audience is required")
	}
	cfg := defaultConfig(issuer, audience)
	for _, opt := range opts {
		opt(cfg)
	}

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery failed: %w", err)
	}
	var meta struct {
		JwksURI       string   `json:"jwks_uri"`
		Authorization string   `json:"authorization_endpoint"`
		Token         string   `json:"token_endpoint"`
		Scopes        []string `json:"scopes_supported"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("invalid discovery metadata: %w", err)
	}
	if meta.JwksURI == "" {
		return nil, errors.New("discovery incomplete: missing jwks_uri")
	}

	a, err := newJWTAuthenticator(ctx, cfg, meta.JwksURI)
	if err != nil {
		return nil, err
	}
	a.authorizationEndpoint = meta.Authorization
	a.tokenEndpoint = meta.Token
	a.scopesSupported = meta.Scopes
	return a, nil
}

// NewStatic returns an authenticator for a known issuer and JWKS URL, without
// discovery.
func NewStatic(ctx context.Context, issuer, audience, jwksURI string, opts ...Option) (*JWTAuthenticator, error) {
	if issuer == "" || audience == "" || jwksURI == "" {
		return nil, errors.New("issuer, audience and jwks uri are required")
	}
	cfg := defaultConfig(issuer, audience)
	for _, opt := range opts {
		opt(cfg)
	}
	return newJWTAuthenticator(ctx, cfg, jwksURI)
}

func newJWTAuthenticator(ctx context.Context, cfg *Config, jwksURI string) (*JWTAuthenticator, error) {
	if len(cfg.AllowedAlgs) == 0 {
		cfg.AllowedAlgs = []string{"RS256"}
	}
	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}
	return &JWTAuthenticator{
		cfg:     cfg,
		jwksURI: jwksURI,
		keyfunc: func(t *jwt.Token) (any, error) {
			if alg := t.Method.Alg(); !slices.Contains(cfg.AllowedAlgs, alg) {
				return nil, fmt.Errorf("disallowed alg: %s", alg)
			}
			return kf.Keyfunc(t)
		},
	}, nil
}

// Issuer returns the expected "iss" value.
func (a *JWTAuthenticator) Issuer() string { return a.cfg.Issuer }

// Metadata describes the protected resource at resource for clients
// bootstrapping authorization.
func (a *JWTAuthenticator) Metadata(resource string) ProtectedResourceMetadata {
	return ProtectedResourceMetadata{
		Resource:               resource,
		AuthorizationServers:   []string{a.cfg.Issuer},
		JwksURI:                a.jwksURI,
		ScopesSupported:        a.scopesSupported,
		BearerMethodsSupported: []string{"header"},
	}
}

// CheckAuthentication implements Authenticator.
func (a *JWTAuthenticator) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(a.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(a.cfg.Issuer),
		jwt.WithLeeway(a.cfg.Leeway),
	)
	parsed, err := parser.Parse(tok, a.keyfunc)
	if err != nil {
		return nil, fmt.Errorf("%w: token parse/verify failed: %v", ErrUnauthorized, err)
	}

	if a.cfg.RequireTyp {
		if typ, _ := parsed.Header["typ"].(string); typ != "at+jwt" && typ != "application/at+jwt" {
			return nil, fmt.Errorf("%w: invalid typ; want at+jwt", ErrUnauthorized)
		}
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claims type", ErrUnauthorized)
	}
	if !audIntersects(claims["aud"], a.cfg.Audiences) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
	}
	if iatf, ok := claims["iat"].(float64); ok {
		if iat := time.Unix(int64(iatf), 0); iat.After(time.Now().Add(a.cfg.Leeway + 5*time.Minute)) {
			return nil, fmt.Errorf("%w: iat too far in future", ErrUnauthorized)
		}
	}
	if err := a.checkScopes(claims); err != nil {
		return nil, err
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrUnauthorized)
	}
	return &claimsUser{sub: sub, claims: claims}, nil
}

func (a *JWTAuthenticator) checkScopes(claims jwt.MapClaims) error {
	if len(a.cfg.RequiredScopes) == 0 {
		return nil
	}
	scopeStr, _ := claims["scope"].(string)
	have := strings.Fields(scopeStr)
	if a.cfg.ScopeModeAny {
		for _, want := range a.cfg.RequiredScopes {
			if slices.Contains(have, want) {
				return nil
			}
		}
		return fmt.Errorf("%w: need one of %s", ErrInsufficientScope, strings.Join(a.cfg.RequiredScopes, " "))
	}
	for _, want := range a.cfg.RequiredScopes {
		if !slices.Contains(have, want) {
			return fmt.Errorf("%w: missing %s", ErrInsufficientScope, want)
		}
	}
	return nil
}

func audIntersects(aud any, wants []string) bool {
	switch v := aud.(type) {
	case string:
		return slices.Contains(wants, v)
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok && slices.Contains(wants, s) {
				return true
			}
		}
	case []string:
		for _, s := range v {
			if slices.Contains(wants, s) {
				return true
			}
		}
	}
	return false
}
