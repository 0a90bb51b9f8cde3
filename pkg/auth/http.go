package auth

import (
	"net/http"
	"strings"
)

// HeaderAuthorization is the header carrying the bearer token.
const HeaderAuthorization = "Authorization"

// bearerPrefix is the standard "Bearer " prefix for authorization tokens.
const bearerPrefix = "Bearer "

// Generic deny bodies. The reason for a deny is logged, never returned.
const (
	msgUnauthorized = "unauthorized"
	msgForbidden    = "forbidden"
)

// ExtractBearerToken extracts the token from an authorization header value.
// It handles the "Bearer " prefix case-insensitively and returns "" if the
// header is empty or uses another scheme.
func ExtractBearerToken(authHeader string) string {
	if len(authHeader) <= len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(bearerPrefix):])
}

// HTTPMiddleware returns middleware that authorizes every request with a.
//
// On allow, the [AuthorizationContext] is stored in the request context and
// the request is passed on. On deny, the middleware answers 401 with a
// fixed body and a WWW-Authenticate challenge.
//
// Example:
//
//	mux := http.NewServeMux()
//	mux.Handle("/api/data", auth.RequirePermission("read")(dataHandler))
//	handler := auth.HTTPMiddleware(authorizer)(mux)
//	http.ListenAndServe(":8080", handler)
func HTTPMiddleware(a *Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz, err := AuthorizeRequest(a, r)
			if err != nil {
				WriteUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithAuthorization(r.Context(), authz)))
		})
	}
}

// AuthorizeRequest authorizes the bearer token on r. A missing header is a
// malformed-token deny, so it goes through the same logging path as every
// other deny.
func AuthorizeRequest(a *Authorizer, r *http.Request) (AuthorizationContext, error) {
	token := ExtractBearerToken(r.Header.Get(HeaderAuthorization))
	return a.Authorize(r.Context(), token)
}

// RequirePermission returns middleware that answers 403 unless the request
// context holds an authorization granting perm. It must run inside
// [HTTPMiddleware].
func RequirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz, ok := AuthorizationFromContext(r.Context())
			if !ok {
				WriteUnauthorized(w)
				return
			}
			if !authz.HasPermission(perm) {
				http.Error(w, msgForbidden, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WriteUnauthorized writes the generic 401 deny response.
func WriteUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer`)
	http.Error(w, msgUnauthorized, http.StatusUnauthorized)
}
