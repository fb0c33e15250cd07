// Package engagement holds the reward tables and the signed completion
// tokens engagement providers hand back when a visitor finishes an action.
package engagement

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dukerupert/hotspot/internal/model"
)

const DefaultTokenTTL = 10 * time.Minute

type Kind string

const (
	KindVideo          Kind = "video"
	KindQuiz           Kind = "quiz"
	KindGame           Kind = "game"
	KindExtensionVideo Kind = "extension_video"
)

// KindFor maps a session engagement type to the completion kind that pays it.
func KindFor(t model.EngagementType) Kind {
	switch t {
	case model.EngagementQuiz:
		return KindQuiz
	default:
		return KindVideo
	}
}

// Completion is the server-verified outcome of one engagement.
type Completion struct {
	ID        string
	SessionID int64
	Kind      Kind
	Ref       string
	Score     int
	Correct   int
	ExpiresAt time.Time
}

type completionClaims struct {
	jwt.RegisteredClaims
	SessionID int64  `json:"sid"`
	Kind      Kind   `json:"kind"`
	Ref       string `json:"ref,omitempty"`
	Score     int    `json:"score,omitempty"`
	Correct   int    `json:"correct,omitempty"`
}

// Tokens signs and verifies completion tokens with a shared HMAC secret.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokens(secret string, ttl time.Duration, now func() time.Time) *Tokens {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, now: now}
}

// Sign issues a token for c. A fresh jti is assigned when c.ID is empty.
// Engagement providers produce the same HS256 claims with the shared
// HOTSPOT_TOKEN_SECRET; the portal itself only verifies.
func (t *Tokens) Sign(c Completion) (string, error) {
	if len(t.secret) == 0 {
		return "", errors.New("completion token secret is not configured")
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := t.now().UTC()
	claims := completionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        c.ID,
			Subject:   strconv.FormatInt(c.SessionID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
		SessionID: c.SessionID,
		Kind:      c.Kind,
		Ref:       c.Ref,
		Score:     c.Score,
		Correct:   c.Correct,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign completion: %w", err)
	}
	return signed, nil
}

// Verify checks signature and expiry. Every failure wraps
// model.ErrInvalidCompletion.
func (t *Tokens) Verify(token string) (*Completion, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: token is required", model.ErrInvalidCompletion)
	}

	var parsed completionClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrInvalidCompletion, err)
	}

	if parsed.ID == "" {
		return nil, fmt.Errorf("%w: jti is required", model.ErrInvalidCompletion)
	}
	if parsed.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: exp is required", model.ErrInvalidCompletion)
	}
	exp := parsed.ExpiresAt.Time.UTC()
	if !exp.After(t.now().UTC()) {
		return nil, fmt.Errorf("%w: token is expired", model.ErrInvalidCompletion)
	}
	switch parsed.Kind {
	case KindVideo, KindQuiz, KindGame, KindExtensionVideo:
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", model.ErrInvalidCompletion, parsed.Kind)
	}

	return &Completion{
		ID:        parsed.ID,
		SessionID: parsed.SessionID,
		Kind:      parsed.Kind,
		Ref:       parsed.Ref,
		Score:     parsed.Score,
		Correct:   parsed.Correct,
		ExpiresAt: exp,
	}, nil
}

// Expect verifies the token and checks it was issued for this session and kind.
func (t *Tokens) Expect(token string, sessionID int64, kind Kind) (*Completion, error) {
	c, err := t.Verify(token)
	if err != nil {
		return nil, err
	}
	if c.SessionID != sessionID {
		return nil, fmt.Errorf("%w: issued for another session", model.ErrInvalidCompletion)
	}
	if c.Kind != kind {
		return nil, fmt.Errorf("%w: got %s completion, want %s", model.ErrInvalidCompletion, c.Kind, kind)
	}
	return c, nil
}
