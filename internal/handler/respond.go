package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dukerupert/hotspot/internal/model"
	"github.com/dukerupert/hotspot/internal/payment"
)

type apiError struct {
	status int
	code   string
}

// errorTable maps domain errors to HTTP statuses. Order matters: more
// specific errors come first.
var errorTable = []struct {
	err error
	apiError
}{
	{model.ErrNotFound, apiError{http.StatusNotFound, "not_found"}},
	{model.ErrExpired, apiError{http.StatusGone, "expired"}},
	{model.ErrAttemptsExceeded, apiError{http.StatusTooManyRequests, "attempts_exceeded"}},
	{model.ErrMismatch, apiError{http.StatusUnauthorized, "mismatch"}},
	{model.ErrInvalidContact, apiError{http.StatusBadRequest, "invalid_contact"}},
	{model.ErrDeliveryFailed, apiError{http.StatusBadGateway, "delivery_failed"}},

	{model.ErrInsufficientPoints, apiError{http.StatusPaymentRequired, "insufficient_points"}},
	{model.ErrInsufficientTime, apiError{http.StatusPaymentRequired, "insufficient_time"}},
	{model.ErrBalanceOverflow, apiError{http.StatusConflict, "balance_overflow"}},
	{model.ErrAlreadyClaimed, apiError{http.StatusConflict, "already_claimed"}},
	{model.ErrInvalidAmount, apiError{http.StatusBadRequest, "invalid_amount"}},
	{model.ErrUserNotFound, apiError{http.StatusNotFound, "user_not_found"}},
	{model.ErrRewardUnavailable, apiError{http.StatusNotFound, "reward_unavailable"}},

	{model.ErrQuotaExceeded, apiError{http.StatusTooManyRequests, "quota_exceeded"}},
	{model.ErrFamilyAtCapacity, apiError{http.StatusConflict, "family_at_capacity"}},
	{model.ErrOwnerImmutable, apiError{http.StatusForbidden, "owner_immutable"}},
	{model.ErrFamilyNotFound, apiError{http.StatusNotFound, "family_not_found"}},
	{model.ErrFamilyExists, apiError{http.StatusConflict, "family_exists"}},
	{model.ErrFamilyInactive, apiError{http.StatusGone, "family_inactive"}},
	{model.ErrMemberNotFound, apiError{http.StatusNotFound, "member_not_found"}},
	{model.ErrInvalidMember, apiError{http.StatusBadRequest, "invalid_member"}},

	{model.ErrSessionNotFound, apiError{http.StatusUnauthorized, "session_not_found"}},
	{model.ErrInvalidTransition, apiError{http.StatusConflict, "invalid_transition"}},
	{model.ErrInvalidCompletion, apiError{http.StatusBadRequest, "invalid_completion"}},
	{model.ErrForbidden, apiError{http.StatusForbidden, "forbidden"}},
	{model.ErrPaymentNotSettled, apiError{http.StatusPaymentRequired, "payment_not_settled"}},
	{model.ErrLeadAlreadyCaptured, apiError{http.StatusConflict, "lead_already_captured"}},

	{payment.ErrNotConfigured, apiError{http.StatusServiceUnavailable, "payments_disabled"}},
	{payment.ErrUnknownPackage, apiError{http.StatusBadRequest, "unknown_package"}},
}

func classify(err error) (apiError, bool) {
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			return e.apiError, true
		}
	}
	return apiError{http.StatusInternalServerError, "internal"}, false
}

// writeError renders err as {"error", "code"}. Unknown errors are logged and
// reported without detail.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	ae, known := classify(err)
	if !known {
		logger.Error("request failed", "error", err)
		writeJSON(w, ae.status, map[string]string{"error": "internal error", "code": ae.code})
		return
	}

	var quotaErr *model.QuotaExceededError
	if errors.As(err, &quotaErr) {
		if wait := time.Until(quotaErr.ResetsAt); wait > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(wait/time.Second)))
		}
	}
	writeJSON(w, ae.status, map[string]string{"error": err.Error(), "code": ae.code})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg, "code": "invalid_request"})
}

// decode reads a JSON body. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func parseIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
