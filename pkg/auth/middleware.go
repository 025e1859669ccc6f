package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

// publicPaths are endpoints that do not require authentication.
var publicPaths = []string{
	"/health",
	"/v1/catalog/headers",
}

func isPublicPath(path string) bool {
	if strings.HasPrefix(path, "/v1/catalog/") {
		return true
	}
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// Middleware requires a bearer token on every non-public path and puts its
// Actor in the request context. A nil issuer rejects everything (fail
// closed).
func Middleware(issuer *TokenIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				unauthorized(w, r, "Missing Authorization header")
				return
			}
			scheme, token, ok := strings.Cut(header, " ")
			if !ok || scheme != "Bearer" || token == "" {
				unauthorized(w, r, "Invalid Authorization header format (expected 'Bearer <token>')")
				return
			}
			if issuer == nil {
				unauthorized(w, r, "Authentication not configured")
				return
			}

			actor, err := issuer.Parse(token)
			if err != nil {
				unauthorized(w, r, "Invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

// unauthorized writes a 401 problem+json body.
func unauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="valor"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":       "https://talesofvalor.dev/errors/unauthorized",
		"title":      "Unauthorized",
		"status":     http.StatusUnauthorized,
		"detail":     detail,
		"instance":   r.URL.Path,
		"request_id": GetRequestID(r.Context()),
	})
}
