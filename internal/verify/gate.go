// Package verify issues and checks one-time access codes. One live code
// exists per contact; it expires after a fixed lifetime, tolerates a bounded
// number of attempts and is consumed by the first correct attempt.
package verify

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/hotspot/internal/model"
	"github.com/dukerupert/hotspot/internal/notify"
)

const (
	DefaultCodeLength  = 4
	DefaultTTL         = 15 * time.Minute
	DefaultMaxAttempts = 3
)

// Store persists verification records. Delete and IncrementAttempts act on
// the specific record passed in, so a record replaced by a newer issue is
// never touched through a stale handle.
type Store interface {
	Upsert(ctx context.Context, rec *model.VerificationRecord) (*model.VerificationRecord, error)
	Get(ctx context.Context, contact string) (*model.VerificationRecord, error)
	IncrementAttempts(ctx context.Context, rec *model.VerificationRecord) (int, error)
	Delete(ctx context.Context, rec *model.VerificationRecord) (bool, error)
	MarkDeliveryFailed(ctx context.Context, rec *model.VerificationRecord) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// Challenge describes an issued code without revealing it.
type Challenge struct {
	Contact        string            `json:"contact"`
	Kind           model.ContactKind `json:"kind"`
	ExpiresAt      time.Time         `json:"expires_at"`
	DeliveryFailed bool              `json:"delivery_failed"`
}

type Gate struct {
	store       Store
	messenger   notify.Messenger
	logger      *slog.Logger
	now         func() time.Time
	newCode     func(length int) (string, error)
	codeLength  int
	ttl         time.Duration
	maxAttempts int
	bcryptCost  int
}

type Option func(*Gate)

func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithCodeSource replaces the random code generator.
func WithCodeSource(fn func(length int) (string, error)) Option {
	return func(g *Gate) { g.newCode = fn }
}

func WithCodeLength(n int) Option {
	return func(g *Gate) { g.codeLength = n }
}

func WithTTL(d time.Duration) Option {
	return func(g *Gate) { g.ttl = d }
}

func WithMaxAttempts(n int) Option {
	return func(g *Gate) { g.maxAttempts = n }
}

func WithBcryptCost(cost int) Option {
	return func(g *Gate) { g.bcryptCost = cost }
}

func NewGate(store Store, messenger notify.Messenger, logger *slog.Logger, opts ...Option) *Gate {
	g := &Gate{
		store:       store,
		messenger:   messenger,
		logger:      logger.With("component", "verify"),
		now:         time.Now,
		newCode:     RandomCode,
		codeLength:  DefaultCodeLength,
		ttl:         DefaultTTL,
		maxAttempts: DefaultMaxAttempts,
		bcryptCost:  bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RandomCode returns a numeric code of the given length from crypto/rand.
func RandomCode(length int) (string, error) {
	digits := make([]byte, length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("generate digit: %w", err)
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}

// Issue replaces any live code for the contact with a fresh one and sends it.
// A delivery failure keeps the new code live; the returned challenge is then
// accompanied by an error wrapping model.ErrDeliveryFailed.
func (g *Gate) Issue(ctx context.Context, contact string) (*Challenge, error) {
	normalized, kind, err := NormalizeContact(contact)
	if err != nil {
		return nil, err
	}

	code, err := g.newCode(g.codeLength)
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), g.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash code: %w", err)
	}

	now := g.now().UTC()
	rec, err := g.store.Upsert(ctx, &model.VerificationRecord{
		Contact:   normalized,
		Kind:      kind,
		CodeHash:  string(hash),
		ExpiresAt: now.Add(g.ttl),
		CreatedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("store code: %w", err)
	}

	ch := &Challenge{Contact: rec.Contact, Kind: rec.Kind, ExpiresAt: rec.ExpiresAt}

	msg := notify.CodeMessage(normalized, kind, code, int(g.ttl.Minutes()))
	if sendErr := g.messenger.Send(ctx, msg); sendErr != nil {
		g.logger.Warn("code delivery failed", "kind", kind, "error", sendErr)
		ch.DeliveryFailed = true
		if err := g.store.MarkDeliveryFailed(ctx, rec); err != nil {
			g.logger.Error("mark delivery failed", "error", err)
		}
		return ch, fmt.Errorf("%w: %w", model.ErrDeliveryFailed, sendErr)
	}

	g.logger.Info("code issued", "kind", kind, "expires_at", rec.ExpiresAt)
	return ch, nil
}

// Verify checks a supplied code. It returns nil exactly once per issued code.
func (g *Gate) Verify(ctx context.Context, contact, code string) error {
	normalized, _, err := NormalizeContact(contact)
	if err != nil {
		return err
	}

	rec, err := g.store.Get(ctx, normalized)
	if err != nil {
		return fmt.Errorf("load code: %w", err)
	}
	if rec == nil {
		return model.ErrNotFound
	}

	if g.now().After(rec.ExpiresAt) {
		if _, err := g.store.Delete(ctx, rec); err != nil {
			return fmt.Errorf("delete expired code: %w", err)
		}
		return model.ErrExpired
	}

	live := matches(rec.CodeHash, code)
	// A code from a superseded issue has no live record behind it and never
	// counts against the current one.
	if !live && supersededMatch(rec.Superseded, code) {
		return model.ErrNotFound
	}

	attempts, err := g.store.IncrementAttempts(ctx, rec)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.ErrNotFound
		}
		return fmt.Errorf("count attempt: %w", err)
	}
	if attempts > g.maxAttempts {
		if _, err := g.store.Delete(ctx, rec); err != nil {
			return fmt.Errorf("delete exhausted code: %w", err)
		}
		g.logger.Info("code exhausted", "attempts", attempts)
		return model.ErrAttemptsExceeded
	}

	if live {
		consumed, err := g.store.Delete(ctx, rec)
		if err != nil {
			return fmt.Errorf("consume code: %w", err)
		}
		if !consumed {
			// A concurrent verify consumed it first.
			return model.ErrNotFound
		}
		return nil
	}

	return &model.MismatchError{Attempts: attempts, Remaining: g.maxAttempts - attempts}
}

// Cleanup removes records that expired before now.
func (g *Gate) Cleanup(ctx context.Context) (int64, error) {
	return g.store.DeleteExpired(ctx, g.now())
}

func matches(hash, code string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}

func supersededMatch(hashes []string, code string) bool {
	for _, h := range hashes {
		if matches(h, code) {
			return true
		}
	}
	return false
}
