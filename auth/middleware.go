package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

const (
	authorizationHeader   = "Authorization"
	wwwAuthenticateHeader = "WWW-Authenticate"
)

// ProtectedResourceMetadata is the RFC 9728 document describing how to
// obtain tokens for this resource.
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers,omitempty"`
	JwksURI                string   `json:"jwks_uri,omitempty"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
	ResourceName           string   `json:"resource_name,omitempty"`
}

// MetadataHandler serves doc as JSON with permissive CORS.
func MetadataHandler(doc ProtectedResourceMetadata) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization")
			w.Header().Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(doc); err != nil {
			http.Error(w, fmt.Sprintf("failed to encode protected resource metadata: %v", err), http.StatusInternalServerError)
		}
	})
}

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*middleware)

// WithRealm sets the realm advertised in challenges. Empty omits it.
func WithRealm(realm string) MiddlewareOption {
	return func(m *middleware) { m.realm = strings.TrimSpace(realm) }
}

// WithResourceMetadata advertises the protected resource metadata URL in
// challenges.
func WithResourceMetadata(url string) MiddlewareOption {
	return func(m *middleware) { m.resourceMetadata = url }
}

// WithLogger sets the logger for authentication outcomes.
func WithLogger(l *slog.Logger) MiddlewareOption {
	return func(m *middleware) {
		if l != nil {
			m.log = l
		}
	}
}

type middleware struct {
	authn            Authenticator
	realm            string
	resourceMetadata string
	log              *slog.Logger
}

// Middleware rejects requests without a valid bearer token and stores the
// authenticated principal in the request context.
//
//	missing header         -> 401, bare challenge
//	malformed header       -> 400 invalid_request
//	ErrUnauthorized        -> 401 invalid_token
//	ErrInsufficientScope   -> 403 insufficient_scope
//	anything else          -> 500
func Middleware(authn Authenticator, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	m := &middleware{authn: authn, log: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(m)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ui := m.check(w, r)
			if ui == nil {
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), ui)))
		})
	}
}

func (m *middleware) check(w http.ResponseWriter, r *http.Request) UserInfo {
	ctx := r.Context()
	authHeader := r.Header.Get(authorizationHeader)

	if authHeader == "" {
		// RFC 6750 §3.1: no error code when the request lacks credentials.
		m.log.InfoContext(ctx, "auth.check.missing")
		m.reject(w, http.StatusUnauthorized, nil)
		return nil
	}

	const bearerPrefix = "Bearer "
	if len(authHeader) <= len(bearerPrefix) || !strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
		m.log.InfoContext(ctx, "auth.check.invalid", slog.String("err", "malformed bearer authorization header"))
		m.reject(w, http.StatusBadRequest, map[string]string{"error": "invalid_request", "error_description": "malformed bearer authorization header"})
		return nil
	}
	tok := strings.TrimSpace(authHeader[len(bearerPrefix):])
	if tok == "" {
		m.log.InfoContext(ctx, "auth.check.invalid", slog.String("err", "empty bearer token"))
		m.reject(w, http.StatusBadRequest, map[string]string{"error": "invalid_request", "error_description": "empty bearer token"})
		return nil
	}

	ui, err := m.authn.CheckAuthentication(ctx, tok)
	switch {
	case err == nil:
		m.log.DebugContext(ctx, "auth.check.ok", slog.String("user_id", ui.UserID()))
		return ui
	case errors.Is(err, ErrInsufficientScope):
		m.log.InfoContext(ctx, "auth.check.fail", slog.String("err", err.Error()))
		m.reject(w, http.StatusForbidden, map[string]string{"error": "insufficient_scope", "error_description": err.Error()})
	case errors.Is(err, ErrUnauthorized):
		m.log.InfoContext(ctx, "auth.check.fail", slog.String("err", err.Error()))
		m.reject(w, http.StatusUnauthorized, map[string]string{"error": "invalid_token", "error_description": err.Error()})
	default:
		m.log.ErrorContext(ctx, "auth.check.err", slog.String("err", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
	}
	return nil
}

func (m *middleware) reject(w http.ResponseWriter, status int, params map[string]string) {
	w.Header().Add(wwwAuthenticateHeader, BearerChallenge(m.realm, m.resourceMetadata, params))
	w.WriteHeader(status)
}

// BearerChallenge builds a WWW-Authenticate value:
//
//	Bearer realm="<realm>", resource_metadata="<url>", error="...", error_description="..."
//
// Empty attributes are omitted; with none at all the value is "Bearer".
func BearerChallenge(realm, resourceMetadata string, params map[string]string) string {
	esc := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace
	var pieces []string
	add := func(k, v string) { pieces = append(pieces, fmt.Sprintf(`%s="%s"`, k, esc(v))) }
	if realm != "" {
		add("realm", realm)
	}
	if resourceMetadata != "" {
		add("resource_metadata", resourceMetadata)
	}
	for _, k := range []string{"error", "error_description", "scope"} {
		if v, ok := params[k]; ok {
			add(k, v)
		}
	}
	if len(pieces) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(pieces, ", ")
}
