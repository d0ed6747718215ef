package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"list39.org/internal/audit"
	"list39.org/internal/auth"
)

const stateTTL = 10 * time.Minute

type userView struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture string `json:"picture"`
}

type userResponse struct {
	Success bool      `json:"success"`
	User    *userView `json:"user"`
}

func (a *API) handleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	if a.provider == nil {
		writeError(w, r, http.StatusServiceUnavailable, "external sign-in is not configured")
		return
	}
	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/auth",
		MaxAge:   int(stateTTL.Seconds()),
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, a.provider.AuthCodeURL(state), http.StatusFound)
}

func (a *API) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	if a.provider == nil || a.resolver == nil || a.tokens == nil {
		writeError(w, r, http.StatusServiceUnavailable, "external sign-in is not configured")
		return
	}
	failure := a.baseURL + "/login"
	a.clearCookie(w, stateCookie, "/auth")

	if e := r.URL.Query().Get("error"); e != "" {
		a.log.Warn().Str("error", e).Msg("sign-in denied by identity provider")
		http.Redirect(w, r, failure, http.StatusFound)
		return
	}
	state, err := r.Cookie(stateCookie)
	got := r.URL.Query().Get("state")
	if err != nil || got == "" || subtle.ConstantTimeCompare([]byte(state.Value), []byte(got)) != 1 {
		a.log.Warn().Msg("sign-in state mismatch")
		http.Redirect(w, r, failure, http.StatusFound)
		return
	}

	assertion, err := a.provider.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		a.log.Error().Err(err).Msg("identity exchange failed")
		http.Redirect(w, r, failure, http.StatusFound)
		return
	}
	acct, err := a.resolver.Resolve(r.Context(), assertion)
	if err != nil {
		a.log.Error().Err(err).Msg("account resolution failed")
		http.Redirect(w, r, failure, http.StatusFound)
		return
	}
	token, expires, err := a.tokens.Issue(acct)
	if err != nil {
		a.log.Error().Err(err).Msg("session token issue failed")
		http.Redirect(w, r, failure, http.StatusFound)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		MaxAge:   int(time.Until(expires).Seconds()),
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	ctx := auth.ContextWithPrincipal(r.Context(), auth.Principal{AccountID: acct.ID, Email: acct.Email})
	_ = audit.LogEvent(ctx, "auth.login", map[string]any{
		"email":      acct.Email,
		"expires_at": expires.UTC().Format(time.RFC3339),
	})
	http.Redirect(w, r, a.baseURL+"/dashboard", http.StatusFound)
}

// handleCurrentUser answers 200 either way; anonymous callers get
// success=false and a null user.
func (a *API) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.AccountIDFromContext(r.Context())
	if !ok || a.resolver == nil {
		writeJSON(w, http.StatusOK, userResponse{Success: false})
		return
	}
	acct, err := a.resolver.Account(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, userResponse{Success: true, User: &userView{
			ID:      acct.ID,
			Name:    acct.Name,
			Email:   acct.Email,
			Picture: acct.Picture,
		}})
	case errors.Is(err, auth.ErrNotFound):
		writeJSON(w, http.StatusOK, userResponse{Success: false})
	default:
		a.log.Error().Err(err).Str("account_id", id).Msg("load current account failed")
		writeJSON(w, http.StatusInternalServerError, envelope{Success: false, Message: "Server error"})
	}
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.AccountIDFromContext(r.Context()); ok {
		_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	}
	a.clearCookie(w, sessionCookie, "/")
	http.Redirect(w, r, a.baseURL+"/", http.StatusFound)
}

func (a *API) clearCookie(w http.ResponseWriter, name, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
