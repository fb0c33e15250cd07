package config

import (
	"strings"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
)

func load(t *testing.T, vars map[string]string) (Config, error) {
	t.Helper()
	return parse(env.Options{Prefix: "HOTSPOT_", Environment: vars})
}

func TestDefaults(t *testing.T) {
	cfg, err := load(t, map[string]string{"HOTSPOT_DEV": "true"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" || cfg.DBPath != "hotspot.db" {
		t.Errorf("port/db = %q/%q", cfg.Port, cfg.DBPath)
	}
	if cfg.BaseURL != "http://localhost:8080" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.Verify.CodeLength != 4 || cfg.Verify.TTL != 10*time.Minute || cfg.Verify.MaxAttempts != 3 {
		t.Errorf("verify = %+v", cfg.Verify)
	}
	if cfg.Family.MaxChanges != 3 || cfg.Family.TTL != 365*24*time.Hour {
		t.Errorf("family = %+v", cfg.Family)
	}
	if cfg.TokenSecret != devTokenSecret {
		t.Errorf("TokenSecret = %q, want dev secret", cfg.TokenSecret)
	}
	if cfg.Redis.Addr != "" || cfg.Redis.Prefix != "hotspot:verify" {
		t.Errorf("redis = %+v", cfg.Redis)
	}
}

func TestNestedPrefixes(t *testing.T) {
	cfg, err := load(t, map[string]string{
		"HOTSPOT_TOKEN_SECRET":           "s3cret",
		"HOTSPOT_BASE_URL":               "https://wifi.example.com/",
		"HOTSPOT_VERIFY_CODE_LENGTH":     "6",
		"HOTSPOT_TWILIO_ACCOUNT_SID":     "AC123",
		"HOTSPOT_POSTMARK_TOKEN":         "pm-token",
		"HOTSPOT_STRIPE_SECRET_KEY":      "sk_test",
		"HOTSPOT_REDIS_ADDR":             "localhost:6379",
		"HOTSPOT_REWARD_VIDEO_MINUTES":   "45",
		"HOTSPOT_REWARD_REFERRAL_POINTS": "80",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Verify.CodeLength != 6 {
		t.Errorf("code length = %d, want 6", cfg.Verify.CodeLength)
	}
	if cfg.Twilio.AccountSID != "AC123" || cfg.Postmark.Token != "pm-token" || cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("providers = %+v %+v %+v", cfg.Twilio, cfg.Postmark, cfg.Redis)
	}

	r := cfg.EngagementRewards()
	if r.Video.Minutes != 45 || r.Video.Points != 10 || r.Referral.Points != 80 {
		t.Errorf("rewards = %+v", r)
	}
	if _, ok := r.Game("memory"); !ok {
		t.Error("default game catalogue should be kept")
	}

	p := cfg.Payment()
	if p.SecretKey != "sk_test" || !strings.HasPrefix(p.SuccessURL, "https://wifi.example.com/?") {
		t.Errorf("payment = %+v", p)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
		want string
	}{
		{"missing secret", map[string]string{}, "HOTSPOT_TOKEN_SECRET"},
		{"short code", map[string]string{"HOTSPOT_DEV": "true", "HOTSPOT_VERIFY_CODE_LENGTH": "3"}, "CODE_LENGTH"},
		{"bad format", map[string]string{"HOTSPOT_DEV": "true", "HOTSPOT_LOG_FORMAT": "xml"}, "LOG_FORMAT"},
		{"zero attempts", map[string]string{"HOTSPOT_DEV": "true", "HOTSPOT_VERIFY_MAX_ATTEMPTS": "0"}, "MAX_ATTEMPTS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(t, tt.vars)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestParseError(t *testing.T) {
	_, err := load(t, map[string]string{"HOTSPOT_DEV": "true", "HOTSPOT_SESSION_TTL": "forever"})
	if err == nil || !strings.Contains(err.Error(), "parse env") {
		t.Errorf("err = %v, want parse env error", err)
	}
}

func TestAdminContacts(t *testing.T) {
	cfg, err := load(t, map[string]string{
		"HOTSPOT_DEV":            "true",
		"HOTSPOT_ADMIN_CONTACTS": "+221 77 123 45 67, Ops@Example.com",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"+221771234567", "ops@example.com"}
	if len(cfg.AdminContacts) != len(want) {
		t.Fatalf("admins = %v, want %v", cfg.AdminContacts, want)
	}
	for i := range want {
		if cfg.AdminContacts[i] != want[i] {
			t.Errorf("admins[%d] = %q, want %q", i, cfg.AdminContacts[i], want[i])
		}
	}

	if _, err := load(t, map[string]string{
		"HOTSPOT_DEV":            "true",
		"HOTSPOT_ADMIN_CONTACTS": "not a contact",
	}); err == nil {
		t.Error("expected error for an invalid admin contact")
	}
}
