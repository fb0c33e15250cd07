package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dukerupert/hotspot/internal/model"
	"github.com/dukerupert/hotspot/internal/payment"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{&model.MismatchError{Remaining: 2}, http.StatusUnauthorized, "mismatch"},
		{fmt.Errorf("redeem: %w", model.ErrInsufficientPoints), http.StatusPaymentRequired, "insufficient_points"},
		{fmt.Errorf("%w: twilio down", model.ErrDeliveryFailed), http.StatusBadGateway, "delivery_failed"},
		{&model.QuotaExceededError{Used: 3, Max: 3}, http.StatusTooManyRequests, "quota_exceeded"},
		{model.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
		{payment.ErrNotConfigured, http.StatusServiceUnavailable, "payments_disabled"},
		{errors.New("disk full"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		ae, _ := classify(tt.err)
		if ae.status != tt.status || ae.code != tt.code {
			t.Errorf("classify(%v) = %d %s, want %d %s", tt.err, ae.status, ae.code, tt.status, tt.code)
		}
	}
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, slog.New(slog.NewTextHandler(io.Discard, nil)), errors.New("sql: connection refused"))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "connection refused") {
		t.Errorf("body leaks internal error: %s", rec.Body.String())
	}
}

func TestWriteErrorQuotaRetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	err := &model.QuotaExceededError{Used: 3, Max: 3, ResetsAt: time.Now().Add(48 * time.Hour)}
	writeError(rec, slog.New(slog.NewTextHandler(io.Discard, nil)), err)

	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["code"] != "quota_exceeded" {
		t.Errorf("code = %q, want quota_exceeded", body["code"])
	}
}

func TestDecodeEmptyBody(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/back", nil)
	var v struct{ Step string }
	if err := decode(req, &v); err != nil {
		t.Errorf("decode empty body: %v", err)
	}

	req = httptest.NewRequest("POST", "/api/back", strings.NewReader("{"))
	if err := decode(req, &v); err == nil {
		t.Error("expected error for truncated JSON")
	}
}
