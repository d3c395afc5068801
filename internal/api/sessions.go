package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/securecookie"

	wserrs "github.com/jdholdren/wishsync/internal/errors"
	"github.com/jdholdren/wishsync/internal/serverutil"
)

const sessionCookieName = "wishsync_session"

// Describes a user's sessionState that's persisted to their cookie.
type sessionState struct {
	UserID string
}

// Fetches the current session tied to the request.
func session(r *http.Request, secureCookie *securecookie.SecureCookie) sessionState {
	cookie, err := r.Cookie(sessionCookieName)
	if errors.Is(err, http.ErrNoCookie) {
		return sessionState{}
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "error fetching cookie", "err", err)
		return sessionState{}
	}

	value := sessionState{}
	if err := secureCookie.Decode(sessionCookieName, cookie.Value, &value); err != nil {
		slog.WarnContext(r.Context(), "error decoding cookie", "err", err)
		return sessionState{}
	}

	return value
}

// Sets the session on the request.
func setSession(w http.ResponseWriter, secureCookie *securecookie.SecureCookie, https bool, sess sessionState) {
	encoded, err := secureCookie.Encode(sessionCookieName, sess)
	if err != nil {
		slog.Error("error encoding cookie", "err", err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    encoded,
		Path:     "/",
		Secure:   https,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func requireSessionMiddleware(sc *securecookie.SecureCookie) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := session(r, sc)
			if state.UserID == "" {
				serverutil.WriteJSON(w, http.StatusUnauthorized, wserrs.E("unauthenticated", http.StatusUnauthorized))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type DebugLogin struct {
	UserID string `json:"user_id"`
}

func (s Server) handleDebugLogin(w http.ResponseWriter, r *http.Request) error {
	var body DebugLogin
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return wserrs.E(err, http.StatusBadRequest)
	}
	if body.UserID == "" {
		return wserrs.E("user_id is required", http.StatusBadRequest)
	}

	// Issue an update to their session so they're logged in
	setSession(w, s.secureCookie, s.httpsCookies, sessionState{UserID: body.UserID})
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s Server) getLogout(w http.ResponseWriter, r *http.Request) error {
	setSession(w, s.secureCookie, s.httpsCookies, sessionState{})
	w.WriteHeader(http.StatusNoContent)

	return nil
}
