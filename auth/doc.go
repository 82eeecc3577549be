// Package auth provides optional bearer token authentication for the HTTP
// bindings. Servers that delegate authorization to an external OAuth 2.0 /
// OIDC authorization server validate RFC 9068 JWT access tokens with a
// JWTAuthenticator and guard their handlers with Middleware.
//
// Example:
//
//	authn, err := auth.NewFromDiscovery(ctx, "https://issuer.example", "https://mcp.example/mcp",
//	    auth.WithRequiredScopes("mcp:read"),
//	)
//	if err != nil { log.Fatal(err) }
//	handler := auth.Middleware(authn, auth.WithResourceMetadata(prmURL))(mcpHandler)
//
// Inside handlers the principal is available through UserFromContext.
//
// # Scopes
//
// WithRequiredScopes enforces that all provided scopes are present in the
// token's space-delimited scope claim; WithAnyRequiredScope relaxes this so
// at least one matches.
//
// # Errors
//
// ErrUnauthorized signals the token is invalid (signature, expiry, audience,
// etc.) and maps to 401 invalid_token. ErrInsufficientScope signals a valid
// token missing required scope(s) and maps to 403 insufficient_scope.
package auth
