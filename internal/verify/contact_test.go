package verify

import (
	"errors"
	"testing"

	"github.com/dukerupert/hotspot/internal/model"
)

func TestNormalizeContact(t *testing.T) {
	tests := []struct {
		in       string
		want     string
		wantKind model.ContactKind
	}{
		{"+221771234567", "+221771234567", model.ContactPhone},
		{" +221 77 123 45 67 ", "+221771234567", model.ContactPhone},
		{"+1 (201) 555-0123", "+12015550123", model.ContactPhone},
		{"Alice@Example.COM", "alice@example.com", model.ContactEmail},
		{"bob@example.com", "bob@example.com", model.ContactEmail},
	}
	for _, tt := range tests {
		got, kind, err := NormalizeContact(tt.in)
		if err != nil {
			t.Errorf("NormalizeContact(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeContact(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if kind != tt.wantKind {
			t.Errorf("NormalizeContact(%q) kind = %q, want %q", tt.in, kind, tt.wantKind)
		}
	}
}

func TestNormalizeContactInvalid(t *testing.T) {
	for _, in := range []string{
		"",
		"771234567",
		"+1234567",
		"+1234567890123456",
		"+0221771234567",
		"+22177abc4567",
		"+221123456789",
		"+15550109999",
		"Alice <alice@example.com>",
		"not-an-email@",
	} {
		if _, _, err := NormalizeContact(in); !errors.Is(err, model.ErrInvalidContact) {
			t.Errorf("NormalizeContact(%q) err = %v, want ErrInvalidContact", in, err)
		}
	}
}
