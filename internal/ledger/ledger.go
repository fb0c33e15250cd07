// Package ledger applies time and points changes to user balances. Every
// operation is one atomic commit; a rejected spend leaves no trace.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/dukerupert/hotspot/internal/engagement"
	"github.com/dukerupert/hotspot/internal/model"
)

type Store interface {
	Commit(ctx context.Context, batch model.LedgerBatch) (*model.Balance, error)
	ListEntries(ctx context.Context, userID int64, limit int) ([]model.LedgerEntry, error)
}

type Ledger struct {
	store   Store
	rewards engagement.Rewards
	logger  *slog.Logger
}

func New(store Store, rewards engagement.Rewards, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:   store,
		rewards: rewards,
		logger:  logger.With("component", "ledger"),
	}
}

// Option adjusts a batch before it is committed.
type Option func(*model.LedgerBatch)

// WithTransition commits a session step change together with the balance change.
func WithTransition(t model.Transition) Option {
	return func(b *model.LedgerBatch) { b.Transition = &t }
}

func (l *Ledger) commit(ctx context.Context, batch model.LedgerBatch, opts []Option) (*model.Balance, error) {
	for _, opt := range opts {
		opt(&batch)
	}
	bal, err := l.store.Commit(ctx, batch)
	if err != nil {
		return nil, err
	}
	for _, e := range batch.Entries {
		l.logger.Info("ledger entry",
			"user_id", batch.UserID, "source", e.Source,
			"time_delta", e.TimeDelta, "points_delta", e.PointsDelta)
	}
	return bal, nil
}

func entry(source model.Source, g engagement.Grant, ref string) model.LedgerEntry {
	return model.LedgerEntry{Source: source, TimeDelta: g.Minutes, PointsDelta: g.Points, Reference: ref}
}

func (l *Ledger) GrantTime(ctx context.Context, userID int64, minutes int, source model.Source, opts ...Option) (*model.Balance, error) {
	if minutes <= 0 {
		return nil, model.ErrInvalidAmount
	}
	return l.commit(ctx, model.LedgerBatch{
		UserID:  userID,
		Entries: []model.LedgerEntry{{Source: source, TimeDelta: minutes}},
	}, opts)
}

func (l *Ledger) GrantPoints(ctx context.Context, userID int64, amount int, source model.Source, opts ...Option) (*model.Balance, error) {
	if amount <= 0 {
		return nil, model.ErrInvalidAmount
	}
	return l.commit(ctx, model.LedgerBatch{
		UserID:  userID,
		Entries: []model.LedgerEntry{{Source: source, PointsDelta: amount}},
	}, opts)
}

// SpendPoints fails with model.ErrInsufficientPoints, changing nothing, when
// the balance is below amount.
func (l *Ledger) SpendPoints(ctx context.Context, userID int64, amount int, reason model.Source, opts ...Option) (*model.Balance, error) {
	if amount <= 0 {
		return nil, model.ErrInvalidAmount
	}
	return l.commit(ctx, model.LedgerBatch{
		UserID:  userID,
		Entries: []model.LedgerEntry{{Source: reason, PointsDelta: -amount}},
	}, opts)
}

// WatchVideo pays the admission video. ref is the completion id and makes
// the grant single-use.
func (l *Ledger) WatchVideo(ctx context.Context, userID int64, ref string, opts ...Option) (*model.Balance, error) {
	return l.commit(ctx, model.LedgerBatch{
		UserID:  userID,
		Entries: []model.LedgerEntry{entry(model.SourceEngagementVideo, l.rewards.Video, ref)},
	}, opts)
}

func (l *Ledger) WatchExtensionVideo(ctx context.Context, userID int64, ref string, opts ...Option) (*model.Balance, error) {
	return l.commit(ctx, model.LedgerBatch{
		UserID:  userID,
		Entries: []model.LedgerEntry{entry(model.SourceTimeExtensionVideo, l.rewards.ExtensionVideo, ref)},
	}, opts)
}

// CompleteQuiz grants points only, read from the quiz table.
func (l *Ledger) CompleteQuiz(ctx context.Context, userID int64, correct int, ref string, opts ...Option) (*model.Balance, error) {
	points := l.rewards.QuizGrant(correct)
	return l.commit(ctx, model.LedgerBatch{
		UserID:  userID,
		Entries: []model.LedgerEntry{entry(model.SourceEngagementQuiz, engagement.Grant{Points: points}, ref)},
	}, opts)
}

// CompleteMiniGame grants the game's reward scaled by a 0..100 score.
func (l *Ledger) CompleteMiniGame(ctx context.Context, userID int64, game engagement.Grant, score int, ref string, opts ...Option) (*model.Balance, error) {
	if score < 0 || score > 100 {
		return nil, fmt.Errorf("%w: score %d out of range", model.ErrInvalidAmount, score)
	}
	g := engagement.ScaleByScore(game, score)
	return l.commit(ctx, model.LedgerBatch{
		UserID:  userID,
		Entries: []model.LedgerEntry{entry(model.SourceEngagementGame, g, ref)},
	}, opts)
}

// Redeem spends the reward's cost and grants its effect in one commit. If
// the spend fails nothing is granted.
func (l *Ledger) Redeem(ctx context.Context, userID int64, reward model.Reward, opts ...Option) (*model.Balance, *model.RewardRedemption, error) {
	if !reward.Active {
		return nil, nil, model.ErrRewardUnavailable
	}

	redemption := &model.RewardRedemption{
		RewardID:    reward.ID,
		UserID:      userID,
		PointsSpent: reward.PointCost,
	}
	batch := model.LedgerBatch{UserID: userID, Redemption: redemption}
	if reward.PointCost > 0 {
		batch.Entries = append(batch.Entries, model.LedgerEntry{
			Source: model.SourceRewardRedemption, PointsDelta: -reward.PointCost,
		})
	}

	switch reward.Effect {
	case model.EffectTime:
		if reward.Minutes <= 0 {
			return nil, nil, model.ErrRewardUnavailable
		}
		batch.Entries = append(batch.Entries, model.LedgerEntry{
			Source: model.SourceRewardRedemption, TimeDelta: reward.Minutes,
		})
	case model.EffectPremium:
		batch.SetPremium = true
	case model.EffectDiscount:
		redemption.DiscountCode = newDiscountCode()
	default:
		return nil, nil, model.ErrRewardUnavailable
	}

	bal, err := l.commit(ctx, batch, opts)
	if err != nil {
		return nil, nil, err
	}
	l.logger.Info("reward redeemed", "user_id", userID, "reward_id", reward.ID, "effect", reward.Effect)
	return bal, redemption, nil
}

func newDiscountCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

func (l *Ledger) CaptureLead(ctx context.Context, userID int64, ref string, opts ...Option) (*model.Balance, error) {
	return l.commit(ctx, model.LedgerBatch{
		UserID:  userID,
		Entries: []model.LedgerEntry{entry(model.SourceLeadCapture, l.rewards.LeadCapture, ref)},
	}, opts)
}

// Refer credits the referrer once per invited contact.
func (l *Ledger) Refer(ctx context.Context, referrerID int64, invitedContact string, opts ...Option) (*model.Balance, error) {
	return l.commit(ctx, model.LedgerBatch{
		UserID:   referrerID,
		Entries:  []model.LedgerEntry{entry(model.SourceReferral, l.rewards.Referral, "")},
		Referral: &model.Referral{ReferrerID: referrerID, InvitedContact: invitedContact},
	}, opts)
}

// CreditPayment grants purchased minutes. checkoutID is the reference, so a
// settled payment is credited once.
func (l *Ledger) CreditPayment(ctx context.Context, userID int64, minutes int, checkoutID string, opts ...Option) (*model.Balance, error) {
	if minutes <= 0 || checkoutID == "" {
		return nil, model.ErrInvalidAmount
	}
	return l.commit(ctx, model.LedgerBatch{
		UserID: userID,
		Entries: []model.LedgerEntry{{
			Source: model.SourcePayment, TimeDelta: minutes, Reference: checkoutID,
		}},
	}, opts)
}

// Renew grants the default allotment on silent re-admission.
func (l *Ledger) Renew(ctx context.Context, userID int64, opts ...Option) (*model.Balance, error) {
	return l.commit(ctx, model.LedgerBatch{
		UserID:  userID,
		Entries: []model.LedgerEntry{entry(model.SourceSessionRenewal, l.rewards.Renewal, "")},
	}, opts)
}

func (l *Ledger) Entries(ctx context.Context, userID int64, limit int) ([]model.LedgerEntry, error) {
	return l.store.ListEntries(ctx, userID, limit)
}
