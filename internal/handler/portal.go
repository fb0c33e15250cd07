package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/hotspot/internal/auth"
	"github.com/dukerupert/hotspot/internal/model"
	"github.com/dukerupert/hotspot/internal/payment"
	"github.com/dukerupert/hotspot/internal/portal"
)

const (
	defaultLedgerLimit = 20
	maxLedgerLimit     = 100
)

type RewardLister interface {
	ListActive(ctx context.Context) ([]model.Reward, error)
}

type Checkout interface {
	Packages() []payment.Package
	Checkout(ctx context.Context, userID int64, packageID string) (url, id string, err error)
}

// PortalHandler drives the session state machine for the cookie's session.
type PortalHandler struct {
	machine  *portal.Machine
	rewards  RewardLister
	checkout Checkout
	logger   *slog.Logger
}

func NewPortalHandler(m *portal.Machine, rewards RewardLister, checkout Checkout, logger *slog.Logger) *PortalHandler {
	return &PortalHandler{machine: m, rewards: rewards, checkout: checkout, logger: logger}
}

func (h *PortalHandler) respond(w http.ResponseWriter, v *portal.View, err error) {
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *PortalHandler) Session(w http.ResponseWriter, r *http.Request) {
	v, err := h.machine.View(r.Context(), auth.SessionID(r.Context()))
	h.respond(w, v, err)
}

func (h *PortalHandler) CompleteEngagement(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid JSON")
		return
	}
	v, err := h.machine.CompleteEngagement(r.Context(), auth.SessionID(r.Context()), req.Token)
	h.respond(w, v, err)
}

func (h *PortalHandler) AbandonEngagement(w http.ResponseWriter, r *http.Request) {
	v, err := h.machine.AbandonEngagement(r.Context(), auth.SessionID(r.Context()))
	h.respond(w, v, err)
}

func (h *PortalHandler) Navigate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Step model.Step `json:"step"`
	}
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid JSON")
		return
	}
	if req.Step == "" {
		badRequest(w, "step is required")
		return
	}
	v, err := h.machine.Navigate(r.Context(), auth.SessionID(r.Context()), req.Step)
	h.respond(w, v, err)
}

func (h *PortalHandler) Return(w http.ResponseWriter, r *http.Request) {
	var a portal.Action
	if err := decode(r, &a); err != nil {
		badRequest(w, "invalid JSON")
		return
	}
	v, err := h.machine.Return(r.Context(), auth.SessionID(r.Context()), a)
	h.respond(w, v, err)
}

func (h *PortalHandler) Back(w http.ResponseWriter, r *http.Request) {
	v, err := h.machine.Back(r.Context(), auth.SessionID(r.Context()))
	h.respond(w, v, err)
}

// Ledger lists the visitor's recent ledger entries, newest first.
func (h *PortalHandler) Ledger(w http.ResponseWriter, r *http.Request) {
	limit := defaultLedgerLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			badRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLedgerLimit)
	}

	entries, err := h.machine.Entries(r.Context(), auth.SessionID(r.Context()), limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *PortalHandler) Rewards(w http.ResponseWriter, r *http.Request) {
	rewards, err := h.rewards.ListActive(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if rewards == nil {
		rewards = []model.Reward{}
	}
	writeJSON(w, http.StatusOK, rewards)
}

func (h *PortalHandler) Packages(w http.ResponseWriter, r *http.Request) {
	if h.checkout == nil {
		writeError(w, h.logger, payment.ErrNotConfigured)
		return
	}
	writeJSON(w, http.StatusOK, h.checkout.Packages())
}

// Checkout opens a Stripe checkout for a time package. The session must be
// on the payment screen.
func (h *PortalHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	if h.checkout == nil {
		writeError(w, h.logger, payment.ErrNotConfigured)
		return
	}
	var req struct {
		PackageID string `json:"package_id"`
	}
	if err := decode(r, &req); err != nil {
		badRequest(w, "invalid JSON")
		return
	}
	if req.PackageID == "" {
		badRequest(w, "package_id is required")
		return
	}

	v, err := h.machine.View(r.Context(), auth.SessionID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if v.Step != model.StepPayment {
		writeError(w, h.logger, model.ErrInvalidTransition)
		return
	}

	url, id, err := h.checkout.Checkout(r.Context(), v.UserID, req.PackageID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url, "id": id})
}
