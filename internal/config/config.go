// Package config loads the hotspot's runtime configuration from HOTSPOT_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/dukerupert/hotspot/internal/engagement"
	"github.com/dukerupert/hotspot/internal/payment"
	"github.com/dukerupert/hotspot/internal/verify"
)

type Config struct {
	Port       string        `env:"PORT"        envDefault:"8080"`
	DBPath     string        `env:"DB_PATH"     envDefault:"hotspot.db"`
	BaseURL    string        `env:"BASE_URL"`
	LogLevel   string        `env:"LOG_LEVEL"   envDefault:"info"`
	LogFormat  string        `env:"LOG_FORMAT"  envDefault:"text"`
	Dev        bool          `env:"DEV"`
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"24h"`

	// TokenSecret signs engagement completion tokens. Engagement providers
	// share it.
	TokenSecret string `env:"TOKEN_SECRET"`

	// AdminContacts are phones or emails promoted to admin on admission.
	AdminContacts []string `env:"ADMIN_CONTACTS" envSeparator:","`

	Verify   VerifyConfig   `envPrefix:"VERIFY_"`
	Rewards  RewardsConfig  `envPrefix:"REWARD_"`
	Family   FamilyConfig   `envPrefix:"FAMILY_"`
	Twilio   TwilioConfig   `envPrefix:"TWILIO_"`
	Postmark PostmarkConfig `envPrefix:"POSTMARK_"`
	Stripe   StripeConfig   `envPrefix:"STRIPE_"`
	Redis    RedisConfig    `envPrefix:"REDIS_"`
}

type VerifyConfig struct {
	CodeLength  int           `env:"CODE_LENGTH"  envDefault:"4"`
	TTL         time.Duration `env:"TTL"          envDefault:"10m"`
	MaxAttempts int           `env:"MAX_ATTEMPTS" envDefault:"3"`
}

type RewardsConfig struct {
	VideoMinutes          int `env:"VIDEO_MINUTES"           envDefault:"30"`
	VideoPoints           int `env:"VIDEO_POINTS"            envDefault:"10"`
	ExtensionVideoMinutes int `env:"EXTENSION_VIDEO_MINUTES" envDefault:"15"`
	ExtensionVideoPoints  int `env:"EXTENSION_VIDEO_POINTS"  envDefault:"5"`
	RenewalMinutes        int `env:"RENEWAL_MINUTES"         envDefault:"30"`
	ReferralPoints        int `env:"REFERRAL_POINTS"         envDefault:"50"`
	LeadCapturePoints     int `env:"LEAD_CAPTURE_POINTS"     envDefault:"25"`
}

type FamilyConfig struct {
	TTL        time.Duration `env:"TTL"         envDefault:"8760h"`
	MaxChanges int           `env:"MAX_CHANGES" envDefault:"3"`
}

type TwilioConfig struct {
	AccountSID string `env:"ACCOUNT_SID"`
	AuthToken  string `env:"AUTH_TOKEN"`
	From       string `env:"FROM"`
}

type PostmarkConfig struct {
	Token string `env:"TOKEN"`
	From  string `env:"FROM"`
}

type StripeConfig struct {
	SecretKey string `env:"SECRET_KEY"`
}

// RedisConfig selects the Redis verification store when Addr is set.
type RedisConfig struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB"`
	Prefix   string `env:"PREFIX" envDefault:"hotspot:verify"`
}

// devTokenSecret lets local engagement providers sign completions without
// configuration. It is never used outside dev mode.
const devTokenSecret = "hotspot-dev-secret"

// Load parses the environment and validates the result.
func Load() (Config, error) {
	return parse(env.Options{Prefix: "HOTSPOT_"})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:" + cfg.Port
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Dev && cfg.TokenSecret == "" {
		cfg.TokenSecret = devTokenSecret
	}
	admins, err := normalizeContacts(cfg.AdminContacts)
	if err != nil {
		return Config{}, fmt.Errorf("HOTSPOT_ADMIN_CONTACTS: %w", err)
	}
	cfg.AdminContacts = admins
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func normalizeContacts(raw []string) ([]string, error) {
	var out []string
	for _, c := range raw {
		if strings.TrimSpace(c) == "" {
			continue
		}
		n, _, err := verify.NormalizeContact(c)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Verify.CodeLength < 4 || c.Verify.CodeLength > 8 {
		errs = append(errs, fmt.Errorf("HOTSPOT_VERIFY_CODE_LENGTH must be between 4 and 8, got %d", c.Verify.CodeLength))
	}
	if c.Verify.TTL <= 0 {
		errs = append(errs, errors.New("HOTSPOT_VERIFY_TTL must be positive"))
	}
	if c.Verify.MaxAttempts < 1 {
		errs = append(errs, errors.New("HOTSPOT_VERIFY_MAX_ATTEMPTS must be at least 1"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("HOTSPOT_SESSION_TTL must be positive"))
	}
	if c.Family.MaxChanges < 1 {
		errs = append(errs, errors.New("HOTSPOT_FAMILY_MAX_CHANGES must be at least 1"))
	}
	if c.TokenSecret == "" && !c.Dev {
		errs = append(errs, errors.New("HOTSPOT_TOKEN_SECRET is required outside dev mode"))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("HOTSPOT_LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// EngagementRewards builds the reward table, keeping the default quiz and
// mini-game catalogue.
func (c Config) EngagementRewards() engagement.Rewards {
	r := engagement.DefaultRewards()
	r.Video = engagement.Grant{Minutes: c.Rewards.VideoMinutes, Points: c.Rewards.VideoPoints}
	r.ExtensionVideo = engagement.Grant{Minutes: c.Rewards.ExtensionVideoMinutes, Points: c.Rewards.ExtensionVideoPoints}
	r.Renewal = engagement.Grant{Minutes: c.Rewards.RenewalMinutes}
	r.Referral = engagement.Grant{Points: c.Rewards.ReferralPoints}
	r.LeadCapture = engagement.Grant{Points: c.Rewards.LeadCapturePoints}
	return r
}

func (c Config) Payment() payment.Config {
	return payment.Config{
		SecretKey:  c.Stripe.SecretKey,
		SuccessURL: c.BaseURL + "/?checkout_id={CHECKOUT_SESSION_ID}",
		CancelURL:  c.BaseURL + "/",
		Packages:   payment.DefaultPackages(),
	}
}
