// Package portal sequences a visitor through admission: code verification,
// one engagement, then the success screen and its satellites. It is the only
// caller of ledger mutations in response to visitor actions, and every
// transition that pays out commits together with its ledger change.
package portal

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukerupert/hotspot/internal/engagement"
	"github.com/dukerupert/hotspot/internal/ledger"
	"github.com/dukerupert/hotspot/internal/model"
	"github.com/dukerupert/hotspot/internal/payment"
	"github.com/dukerupert/hotspot/internal/verify"
)

const DefaultSessionTTL = 24 * time.Hour

type Users interface {
	Create(ctx context.Context, contact, deviceID string) (*model.User, error)
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByContact(ctx context.Context, contact string) (*model.User, error)
	GetByDeviceID(ctx context.Context, deviceID string) (*model.User, error)
	GetByReferralCode(ctx context.Context, code string) (*model.User, error)
	BindDevice(ctx context.Context, userID int64, deviceID string) error
	SetAdmin(ctx context.Context, userID int64, admin bool) error
}

type Sessions interface {
	Create(ctx context.Context, userID int64, step model.Step, engagement model.EngagementType, expiresAt time.Time) (*model.Session, error)
	GetByID(ctx context.Context, id int64) (*model.Session, error)
	UpdateStep(ctx context.Context, id int64, from, to model.Step, engagement model.EngagementType, meta model.SessionMetadata) error
	Delete(ctx context.Context, id int64) error
}

// Gate is the verification primitive admission depends on.
type Gate interface {
	Issue(ctx context.Context, contact string) (*verify.Challenge, error)
	Verify(ctx context.Context, contact, code string) error
}

type Rewards interface {
	GetByID(ctx context.Context, id int64) (*model.Reward, error)
}

type Payments interface {
	Confirm(ctx context.Context, userID int64, checkoutID string) (payment.Package, error)
}

type Stats interface {
	Summary(ctx context.Context, now time.Time) (*model.Stats, error)
}

// View is what the presentation layer renders: the session step and the
// balances read back from the store.
type View struct {
	SessionID  int64                   `json:"session_id"`
	UserID     int64                   `json:"user_id"`
	Step       model.Step              `json:"step"`
	Engagement model.EngagementType    `json:"engagement,omitempty"`
	Balance    model.Balance           `json:"balance"`
	IsAdmin    bool                    `json:"is_admin"`
	Referral   string                  `json:"referral_code"`
	Redemption *model.RewardRedemption `json:"redemption,omitempty"`
}

type Machine struct {
	users    Users
	sessions Sessions
	gate     Gate
	ledger   *ledger.Ledger
	tokens   *engagement.Tokens
	rewards  Rewards
	table    engagement.Rewards
	payments Payments
	stats    Stats
	picker   engagement.Picker
	admins   map[string]bool
	notify   func(*View)
	now      func() time.Time
	ttl      time.Duration
	logger   *slog.Logger
}

// Deps are the collaborators a Machine needs. Payments and Stats may be nil;
// the matching satellites then report an error.
type Deps struct {
	Users    Users
	Sessions Sessions
	Gate     Gate
	Ledger   *ledger.Ledger
	Tokens   *engagement.Tokens
	Rewards  Rewards
	Table    engagement.Rewards
	Payments Payments
	Stats    Stats
}

type Option func(*Machine)

func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithPicker replaces the random engagement policy.
func WithPicker(p engagement.Picker) Option {
	return func(m *Machine) { m.picker = p }
}

// WithAdminContacts grants the admin flag to these contacts when they are
// admitted. Contacts must already be normalized.
func WithAdminContacts(contacts ...string) Option {
	return func(m *Machine) {
		m.admins = make(map[string]bool, len(contacts))
		for _, c := range contacts {
			m.admins[c] = true
		}
	}
}

func WithSessionTTL(d time.Duration) Option {
	return func(m *Machine) { m.ttl = d }
}

// WithNotifier registers a callback run with the fresh view after every
// committed balance change.
func WithNotifier(fn func(*View)) Option {
	return func(m *Machine) { m.notify = fn }
}

func New(deps Deps, logger *slog.Logger, opts ...Option) *Machine {
	m := &Machine{
		users:    deps.Users,
		sessions: deps.Sessions,
		gate:     deps.Gate,
		ledger:   deps.Ledger,
		tokens:   deps.Tokens,
		rewards:  deps.Rewards,
		table:    deps.Table,
		payments: deps.Payments,
		stats:    deps.Stats,
		picker:   engagement.RandomPicker{},
		now:      time.Now,
		ttl:      DefaultSessionTTL,
		logger:   logger.With("component", "portal"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// View re-reads the session and the user's balances.
func (m *Machine) View(ctx context.Context, sessionID int64) (*View, error) {
	sess, err := m.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return m.view(ctx, sess)
}

func (m *Machine) view(ctx context.Context, sess *model.Session) (*View, error) {
	u, err := m.users.GetByID(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, model.ErrUserNotFound
	}
	return &View{
		SessionID:  sess.ID,
		UserID:     u.ID,
		Step:       sess.Step,
		Engagement: sess.Engagement,
		Balance: model.Balance{
			UserID:               u.ID,
			TimeRemainingMinutes: u.TimeRemainingMinutes,
			Points:               u.Points,
			Premium:              u.Premium,
		},
		IsAdmin:  u.IsAdmin,
		Referral: u.ReferralCode,
	}, nil
}

// refresh reads the view after a committed change and publishes it.
func (m *Machine) refresh(ctx context.Context, sessionID int64, balanceChanged bool) (*View, error) {
	v, err := m.View(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if balanceChanged && m.notify != nil {
		m.notify(v)
	}
	return v, nil
}

func (m *Machine) session(ctx context.Context, sessionID int64) (*model.Session, error) {
	sess, err := m.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil || !m.now().Before(sess.ExpiresAt) {
		return nil, model.ErrSessionNotFound
	}
	return sess, nil
}

// AdminStats returns the operator summary. Only admins may read it.
func (m *Machine) AdminStats(ctx context.Context, sessionID int64) (*model.Stats, error) {
	v, err := m.View(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !v.IsAdmin {
		return nil, model.ErrForbidden
	}
	if m.stats == nil {
		return nil, model.ErrForbidden
	}
	return m.stats.Summary(ctx, m.now())
}

// Entries lists recent ledger entries for the session's user.
func (m *Machine) Entries(ctx context.Context, sessionID int64, limit int) ([]model.LedgerEntry, error) {
	sess, err := m.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return m.ledger.Entries(ctx, sess.UserID, limit)
}
