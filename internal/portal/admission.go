package portal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dukerupert/hotspot/internal/ledger"
	"github.com/dukerupert/hotspot/internal/model"
	"github.com/dukerupert/hotspot/internal/verify"
)

// RequestCode asks the gate for a code. The visitor stays in auth whatever
// the outcome.
func (m *Machine) RequestCode(ctx context.Context, contact string) (*verify.Challenge, error) {
	return m.gate.Issue(ctx, contact)
}

type AdmitRequest struct {
	Contact  string `json:"contact"`
	Code     string `json:"code"`
	DeviceID string `json:"device_id"`
	// Referral is the referral code of whoever invited a first-time visitor.
	Referral string `json:"ref,omitempty"`
}

// Admit verifies the code and opens a session at the engagement step. The
// engagement type is chosen here, never by the visitor. Any error leaves the
// visitor in auth with nothing created.
func (m *Machine) Admit(ctx context.Context, req AdmitRequest) (*model.Session, *View, error) {
	if err := m.gate.Verify(ctx, req.Contact, strings.TrimSpace(req.Code)); err != nil {
		return nil, nil, err
	}
	contact, _, err := verify.NormalizeContact(req.Contact)
	if err != nil {
		return nil, nil, err
	}

	u, err := m.users.GetByContact(ctx, contact)
	if err != nil {
		return nil, nil, err
	}
	if u == nil {
		u, err = m.users.Create(ctx, contact, "")
		if err != nil {
			return nil, nil, err
		}
		m.logger.Info("user created", "user_id", u.ID)
		m.creditReferrer(ctx, strings.TrimSpace(req.Referral), u)
	}
	if m.admins[contact] && !u.IsAdmin {
		if err := m.users.SetAdmin(ctx, u.ID, true); err != nil {
			return nil, nil, err
		}
		u.IsAdmin = true
		m.logger.Info("admin granted", "user_id", u.ID)
	}
	if err := m.users.BindDevice(ctx, u.ID, strings.TrimSpace(req.DeviceID)); err != nil {
		return nil, nil, err
	}

	eng := m.picker.Pick()
	sess, err := m.sessions.Create(ctx, u.ID, model.StepEngagement, eng, m.now().Add(m.ttl))
	if err != nil {
		return nil, nil, err
	}
	m.logger.Info("visitor admitted", "user_id", u.ID, "session_id", sess.ID, "engagement", eng)

	v, err := m.view(ctx, sess)
	if err != nil {
		return nil, nil, err
	}
	return sess, v, nil
}

// creditReferrer pays the owner of code for bringing in the new user. An
// unknown code, a self-referral or a contact the referrer already invited
// pays nothing and never blocks admission.
func (m *Machine) creditReferrer(ctx context.Context, code string, invited *model.User) {
	if code == "" {
		return
	}
	referrer, err := m.users.GetByReferralCode(ctx, code)
	if err != nil {
		m.logger.Error("look up referral code", "error", err)
		return
	}
	if referrer == nil || referrer.ID == invited.ID {
		m.logger.Info("referral code ignored", "user_id", invited.ID)
		return
	}
	if _, err := m.ledger.Refer(ctx, referrer.ID, invited.Contact); err != nil {
		if errors.Is(err, model.ErrAlreadyClaimed) {
			return
		}
		m.logger.Warn("credit referrer", "referrer_id", referrer.ID, "error", err)
		return
	}
	m.logger.Info("referral credited", "referrer_id", referrer.ID, "user_id", invited.ID)
}

// Resume is the re-admission shortcut: a device already bound to a user goes
// straight to success with a fresh allotment. The session only reaches
// success if the allotment was granted.
func (m *Machine) Resume(ctx context.Context, deviceID string) (*model.Session, *View, error) {
	deviceID = strings.TrimSpace(deviceID)
	u, err := m.users.GetByDeviceID(ctx, deviceID)
	if err != nil {
		return nil, nil, err
	}
	if u == nil {
		return nil, nil, model.ErrUserNotFound
	}

	sess, err := m.sessions.Create(ctx, u.ID, model.StepAuth, "", m.now().Add(m.ttl))
	if err != nil {
		return nil, nil, err
	}
	_, err = m.ledger.Renew(ctx, u.ID, ledger.WithTransition(model.Transition{
		SessionID: sess.ID,
		From:      model.StepAuth,
		To:        model.StepSuccess,
	}))
	if err != nil {
		if delErr := m.sessions.Delete(ctx, sess.ID); delErr != nil {
			m.logger.Error("discard unrenewed session", "session_id", sess.ID, "error", delErr)
		}
		return nil, nil, fmt.Errorf("renew session: %w", err)
	}
	m.logger.Info("session renewed", "user_id", u.ID, "session_id", sess.ID)

	v, err := m.refresh(ctx, sess.ID, true)
	if err != nil {
		return nil, nil, err
	}
	sess.Step = v.Step
	return sess, v, nil
}
