package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"list39.org/internal/auth"
)

const (
	authHeader    = "Authorization"
	bearer        = "Bearer "
	sessionCookie = "list39_session"
	stateCookie   = "list39_oauth_state"
)

// authenticate attaches the principal carried by a valid session cookie or
// bearer token. Invalid credentials leave the request anonymous; routes
// that need a caller use requireAuth.
func (a *API) authenticate(next http.Handler) http.Handler {
	if a.tokens == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := credentialFrom(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := a.tokens.Parse(token)
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidToken) {
				a.log.Error().Err(err).Msg("token verification failed")
			}
			next.ServeHTTP(w, r)
			return
		}
		ctx := auth.ContextWithPrincipal(r.Context(), auth.Principal{
			AccountID: claims.Subject,
			Email:     claims.Email,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAuth rejects anonymous requests.
func requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.PrincipalFromContext(r.Context()); !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="list39"`)
			writeJSON(w, http.StatusUnauthorized, envelope{Success: false, Message: "Authentication required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// credentialFrom prefers an explicit bearer token over the session cookie.
func credentialFrom(r *http.Request) string {
	if token, err := extractBearerToken(r.Header.Get(authHeader)); err == nil {
		return token
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
