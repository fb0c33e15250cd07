package portal

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/dukerupert/hotspot/internal/engagement"
	"github.com/dukerupert/hotspot/internal/ledger"
	"github.com/dukerupert/hotspot/internal/model"
	"github.com/dukerupert/hotspot/internal/verify"
)

// Action carries what the visitor did on a satellite screen. Only the field
// relevant to the current step is read.
type Action struct {
	// Token is a signed completion for extend_time and mini_games.
	Token string `json:"token,omitempty"`
	// RewardID is the reward redeemed on the rewards screen.
	RewardID int64 `json:"reward_id,omitempty"`
	// InvitedContact is the phone or email referred on the referral screen.
	InvitedContact string `json:"invited_contact,omitempty"`
	// CheckoutID is the settled Stripe checkout on the payment screen.
	CheckoutID string `json:"checkout_id,omitempty"`
	// Lead holds the answers given in the lead game.
	Lead map[string]string `json:"lead,omitempty"`
}

func expectStep(sess *model.Session, want model.Step) error {
	if sess.Step != want {
		return fmt.Errorf("%w: session is at %s, not %s", model.ErrInvalidTransition, sess.Step, want)
	}
	return nil
}

func withCompleted(meta model.SessionMetadata, ref string) *model.SessionMetadata {
	meta.Completed = append(append([]string(nil), meta.Completed...), ref)
	return &meta
}

// CompleteEngagement pays the admission engagement and moves the session to
// success in one commit. If the token is invalid or the grant fails, the
// session stays at engagement and the error is returned so the visitor can
// retry.
func (m *Machine) CompleteEngagement(ctx context.Context, sessionID int64, token string) (*View, error) {
	sess, err := m.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := expectStep(sess, model.StepEngagement); err != nil {
		return nil, err
	}
	c, err := m.tokens.Expect(token, sess.ID, engagement.KindFor(sess.Engagement))
	if err != nil {
		return nil, err
	}

	to := ledger.WithTransition(model.Transition{
		SessionID: sess.ID,
		From:      model.StepEngagement,
		To:        model.StepSuccess,
		Metadata:  withCompleted(sess.Metadata, string(c.Kind)+":"+c.Ref),
	})
	switch sess.Engagement {
	case model.EngagementQuiz:
		_, err = m.ledger.CompleteQuiz(ctx, sess.UserID, c.Correct, c.ID, to)
	default:
		_, err = m.ledger.WatchVideo(ctx, sess.UserID, c.ID, to)
	}
	if err != nil {
		m.logger.Warn("engagement grant failed", "session_id", sess.ID, "error", err)
		return nil, err
	}
	m.logger.Info("engagement completed", "session_id", sess.ID, "engagement", sess.Engagement)
	return m.refresh(ctx, sess.ID, true)
}

// AbandonEngagement records that the provider reported the visitor gave up.
// The session stays at engagement with a freshly picked engagement type.
func (m *Machine) AbandonEngagement(ctx context.Context, sessionID int64) (*View, error) {
	sess, err := m.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := expectStep(sess, model.StepEngagement); err != nil {
		return nil, err
	}

	meta := sess.Metadata
	meta.Abandoned++
	next := m.picker.Pick()
	if err := m.sessions.UpdateStep(ctx, sess.ID, model.StepEngagement, model.StepEngagement, next, meta); err != nil {
		return nil, err
	}
	m.logger.Info("engagement abandoned", "session_id", sess.ID, "abandoned", meta.Abandoned, "next", next)
	return m.refresh(ctx, sess.ID, false)
}

// Navigate opens a satellite screen from success.
func (m *Machine) Navigate(ctx context.Context, sessionID int64, to model.Step) (*View, error) {
	sess, err := m.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := expectStep(sess, model.StepSuccess); err != nil {
		return nil, err
	}
	if !to.IsSatellite() {
		return nil, fmt.Errorf("%w: %q is not reachable from success", model.ErrInvalidTransition, to)
	}
	if to == model.StepAdminStats {
		u, err := m.users.GetByID(ctx, sess.UserID)
		if err != nil {
			return nil, err
		}
		if u == nil || !u.IsAdmin {
			return nil, model.ErrForbidden
		}
	}

	meta := sess.Metadata
	meta.LastSatellite = to
	if err := m.sessions.UpdateStep(ctx, sess.ID, model.StepSuccess, to, sess.Engagement, meta); err != nil {
		return nil, err
	}
	return m.refresh(ctx, sess.ID, false)
}

// Back returns from a satellite to success without acting.
func (m *Machine) Back(ctx context.Context, sessionID int64) (*View, error) {
	sess, err := m.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Step.IsSatellite() {
		return nil, fmt.Errorf("%w: session is at %s", model.ErrInvalidTransition, sess.Step)
	}
	if err := m.sessions.UpdateStep(ctx, sess.ID, sess.Step, model.StepSuccess, sess.Engagement, sess.Metadata); err != nil {
		return nil, err
	}
	return m.refresh(ctx, sess.ID, false)
}

// Return completes the action of the current satellite and goes back to
// success. Satellites that pay out run exactly one ledger operation, committed
// with the transition; on failure the session stays where it is.
func (m *Machine) Return(ctx context.Context, sessionID int64, a Action) (*View, error) {
	sess, err := m.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Step.IsSatellite() {
		return nil, fmt.Errorf("%w: session is at %s", model.ErrInvalidTransition, sess.Step)
	}

	tr := model.Transition{SessionID: sess.ID, From: sess.Step, To: model.StepSuccess}
	back := ledger.WithTransition(tr)
	var redemption *model.RewardRedemption

	switch sess.Step {
	case model.StepDashboard, model.StepAdminStats:
		return m.Back(ctx, sessionID)

	case model.StepExtendTime:
		c, err := m.tokens.Expect(a.Token, sess.ID, engagement.KindExtensionVideo)
		if err != nil {
			return nil, err
		}
		_, err = m.ledger.WatchExtensionVideo(ctx, sess.UserID, c.ID, back)
		if err != nil {
			return nil, err
		}

	case model.StepMiniGames:
		c, err := m.tokens.Expect(a.Token, sess.ID, engagement.KindGame)
		if err != nil {
			return nil, err
		}
		game, ok := m.table.Game(c.Ref)
		if !ok {
			return nil, fmt.Errorf("%w: unknown game %q", model.ErrInvalidCompletion, c.Ref)
		}
		_, err = m.ledger.CompleteMiniGame(ctx, sess.UserID, game, c.Score, c.ID, back)
		if err != nil {
			return nil, err
		}

	case model.StepLeadGame:
		if sess.Metadata.LeadCaptured {
			return nil, model.ErrLeadAlreadyCaptured
		}
		meta := sess.Metadata
		meta.LeadCaptured = true
		if len(a.Lead) > 0 {
			meta.Extra = copyExtra(meta.Extra)
			meta.Extra["lead"] = a.Lead
		}
		tr.Metadata = &meta
		ref := "lead:" + strconv.FormatInt(sess.ID, 10)
		_, err = m.ledger.CaptureLead(ctx, sess.UserID, ref, ledger.WithTransition(tr))
		if errors.Is(err, model.ErrAlreadyClaimed) {
			return nil, model.ErrLeadAlreadyCaptured
		}
		if err != nil {
			return nil, err
		}

	case model.StepRewards:
		reward, err := m.rewards.GetByID(ctx, a.RewardID)
		if err != nil {
			return nil, err
		}
		if reward == nil {
			return nil, model.ErrRewardUnavailable
		}
		_, redemption, err = m.ledger.Redeem(ctx, sess.UserID, *reward, back)
		if err != nil {
			return nil, err
		}

	case model.StepReferral:
		invited, _, err := verify.NormalizeContact(a.InvitedContact)
		if err != nil {
			return nil, err
		}
		u, err := m.users.GetByID(ctx, sess.UserID)
		if err != nil {
			return nil, err
		}
		if u == nil {
			return nil, model.ErrUserNotFound
		}
		if u.Contact == invited {
			return nil, fmt.Errorf("%w: cannot refer yourself", model.ErrInvalidContact)
		}
		_, err = m.ledger.Refer(ctx, sess.UserID, invited, back)
		if err != nil {
			return nil, err
		}

	case model.StepPayment:
		if m.payments == nil {
			return nil, fmt.Errorf("%w: payments are disabled", model.ErrPaymentNotSettled)
		}
		if a.CheckoutID == "" {
			return nil, fmt.Errorf("%w: checkout id is required", model.ErrPaymentNotSettled)
		}
		pkg, err := m.payments.Confirm(ctx, sess.UserID, a.CheckoutID)
		if err != nil {
			return nil, err
		}
		_, err = m.ledger.CreditPayment(ctx, sess.UserID, pkg.Minutes, a.CheckoutID, back)
		if err != nil {
			return nil, err
		}
	}

	m.logger.Info("satellite completed", "session_id", sess.ID, "step", sess.Step)
	v, err := m.refresh(ctx, sess.ID, true)
	if err != nil {
		return nil, err
	}
	v.Redemption = redemption
	return v, nil
}

func copyExtra(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}
