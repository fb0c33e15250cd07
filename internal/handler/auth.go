package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/hotspot/internal/middleware"
	"github.com/dukerupert/hotspot/internal/model"
	"github.com/dukerupert/hotspot/internal/portal"
	"github.com/dukerupert/hotspot/internal/verify"
)

const (
	codesPerContact = 3
	codeWindow      = 10 * time.Minute
)

// AuthHandler admits visitors: code request, code check and device resume.
type AuthHandler struct {
	machine      *portal.Machine
	limiter      *middleware.RateLimiter
	secureCookie bool
	logger       *slog.Logger
}

func NewAuthHandler(m *portal.Machine, limiter *middleware.RateLimiter, secureCookie bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		machine:      m,
		limiter:      limiter,
		secureCookie: secureCookie,
		logger:       logger,
	}
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, sess *model.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

// RequestCode issues a code for a phone number or email address. The
// response is the same whether or not the contact is already known.
func (h *AuthHandler) RequestCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Contact string `json:"contact"`
	}
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid JSON")
		return
	}
	req.Contact = strings.TrimSpace(req.Contact)
	if req.Contact == "" {
		badRequest(w, "contact is required")
		return
	}

	if contact, _, err := verify.NormalizeContact(req.Contact); err == nil {
		if ok, wait := h.limiter.Take("contact:"+contact, codesPerContact, codeWindow); !ok {
			middleware.TooManyRequests(w, wait)
			return
		}
	}

	ch, err := h.machine.RequestCode(r.Context(), req.Contact)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ch)
}

func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req portal.AdmitRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Contact) == "" || strings.TrimSpace(req.Code) == "" {
		badRequest(w, "contact and code are required")
		return
	}

	sess, view, err := h.machine.Admit(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.setSessionCookie(w, sess)
	writeJSON(w, http.StatusOK, view)
}

// Resume re-admits a device already bound to a user.
func (h *AuthHandler) Resume(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string `json:"device_id"`
	}
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.DeviceID) == "" {
		badRequest(w, "device_id is required")
		return
	}

	sess, view, err := h.machine.Resume(r.Context(), req.DeviceID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.setSessionCookie(w, sess)
	writeJSON(w, http.StatusOK, view)
}
