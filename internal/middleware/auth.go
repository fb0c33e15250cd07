package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/dukerupert/hotspot/internal/auth"
	"github.com/dukerupert/hotspot/internal/model"
)

const SessionCookieName = "hotspot_session"

type SessionLookup interface {
	GetByToken(ctx context.Context, token string, now time.Time) (*model.Session, error)
}

type UserLookup interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
}

// RequireSession validates the session cookie and populates AuthContext.
// Missing, unknown and expired sessions get a JSON 401.
func RequireSession(sessions SessionLookup, users UserLookup, now func() time.Time) func(http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				unauthorized(w)
				return
			}

			sess, err := sessions.GetByToken(r.Context(), cookie.Value, now())
			if err != nil || sess == nil {
				unauthorized(w)
				return
			}

			u, err := users.GetByID(r.Context(), sess.UserID)
			if err != nil || u == nil {
				unauthorized(w)
				return
			}

			ac := auth.AuthContext{
				UserID:    u.ID,
				SessionID: sess.ID,
				IsAdmin:   u.IsAdmin,
			}

			ctx := auth.WithAuth(r.Context(), ac)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin checks that the authenticated user is an operator.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.IsAdmin(r.Context()) {
			writeError(w, http.StatusForbidden, "forbidden", "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func unauthorized(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "session_not_found", "no active session")
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": code})
}
