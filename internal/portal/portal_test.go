package portal

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/hotspot/internal/database"
	"github.com/dukerupert/hotspot/internal/engagement"
	"github.com/dukerupert/hotspot/internal/ledger"
	"github.com/dukerupert/hotspot/internal/model"
	"github.com/dukerupert/hotspot/internal/notify"
	"github.com/dukerupert/hotspot/internal/payment"
	"github.com/dukerupert/hotspot/internal/store"
	"github.com/dukerupert/hotspot/internal/verify"
)

const testContact = "+221771234567"

type nopMessenger struct{}

func (nopMessenger) Send(context.Context, notify.Message) error { return nil }

type fakePayments struct {
	pkg payment.Package
	err error
}

func (f *fakePayments) Confirm(_ context.Context, _ int64, _ string) (payment.Package, error) {
	return f.pkg, f.err
}

type fixture struct {
	m        *Machine
	db       *sql.DB
	tokens   *engagement.Tokens
	users    *store.UserStore
	ledger   *store.LedgerStore
	rewards  *store.RewardStore
	payments *fakePayments

	mu       sync.Mutex
	notified []*View
}

func fixedNow() time.Time {
	return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
}

func setup(t *testing.T, eng model.EngagementType, opts ...Option) *fixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gate := verify.NewGate(store.NewVerificationStore(db), nopMessenger{}, logger,
		verify.WithClock(fixedNow),
		verify.WithCodeSource(func(int) (string, error) { return "5678", nil }),
		verify.WithBcryptCost(bcrypt.MinCost),
	)

	f := &fixture{
		db:       db,
		tokens:   engagement.NewTokens("test-secret", 0, fixedNow),
		users:    store.NewUserStore(db),
		ledger:   store.NewLedgerStore(db),
		rewards:  store.NewRewardStore(db),
		payments: &fakePayments{pkg: payment.Package{ID: "hour", Minutes: 60}},
	}
	table := engagement.DefaultRewards()
	opts = append([]Option{
		WithClock(fixedNow),
		WithPicker(engagement.FixedPicker(eng)),
		WithNotifier(func(v *View) {
			f.mu.Lock()
			f.notified = append(f.notified, v)
			f.mu.Unlock()
		}),
	}, opts...)
	f.m = New(Deps{
		Users:    f.users,
		Sessions: store.NewSessionStore(db),
		Gate:     gate,
		Ledger:   ledger.New(f.ledger, table, logger),
		Tokens:   f.tokens,
		Rewards:  f.rewards,
		Table:    table,
		Payments: f.payments,
		Stats:    store.NewStatsStore(db),
	}, logger, opts...)
	return f
}

// admit runs the code flow and returns a session at engagement.
func (f *fixture) admit(t *testing.T, device string) *model.Session {
	t.Helper()
	ctx := context.Background()
	if _, err := f.m.RequestCode(ctx, testContact); err != nil {
		t.Fatalf("request code: %v", err)
	}
	sess, v, err := f.m.Admit(ctx, AdmitRequest{Contact: testContact, Code: "5678", DeviceID: device})
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if v.Step != model.StepEngagement {
		t.Fatalf("step = %q, want engagement", v.Step)
	}
	return sess
}

func (f *fixture) sign(t *testing.T, c engagement.Completion) string {
	t.Helper()
	tok, err := f.tokens.Sign(c)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

// succeed admits and completes the video engagement.
func (f *fixture) succeed(t *testing.T) *model.Session {
	t.Helper()
	sess := f.admit(t, "")
	tok := f.sign(t, engagement.Completion{SessionID: sess.ID, Kind: engagement.KindVideo, Ref: "ad-1"})
	if _, err := f.m.CompleteEngagement(context.Background(), sess.ID, tok); err != nil {
		t.Fatalf("complete engagement: %v", err)
	}
	return sess
}

func (f *fixture) setPoints(t *testing.T, userID int64, points int) {
	t.Helper()
	if _, err := f.db.Exec(`UPDATE users SET points = ? WHERE id = ?`, points, userID); err != nil {
		t.Fatalf("set points: %v", err)
	}
}

func (f *fixture) step(t *testing.T, sessionID int64) model.Step {
	t.Helper()
	v, err := f.m.View(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	return v.Step
}

func TestAdmitWrongCodeStaysInAuth(t *testing.T) {
	f := setup(t, model.EngagementVideo)
	ctx := context.Background()

	f.m.RequestCode(ctx, testContact)
	_, _, err := f.m.Admit(ctx, AdmitRequest{Contact: testContact, Code: "1234"})
	if !errors.Is(err, model.ErrMismatch) {
		t.Fatalf("err = %v, want ErrMismatch", err)
	}
	if u, _ := f.users.GetByContact(ctx, testContact); u != nil {
		t.Error("no user should be created before the code is accepted")
	}

	sess, v, err := f.m.Admit(ctx, AdmitRequest{Contact: testContact, Code: "5678"})
	if err != nil {
		t.Fatalf("admit with correct code: %v", err)
	}
	if v.Step != model.StepEngagement || sess.Engagement != model.EngagementVideo {
		t.Errorf("view = %+v, want engagement/video", v)
	}
}

func TestCompleteVideoEngagement(t *testing.T) {
	f := setup(t, model.EngagementVideo)
	ctx := context.Background()
	sess := f.admit(t, "dev-1")

	tok := f.sign(t, engagement.Completion{SessionID: sess.ID, Kind: engagement.KindVideo, Ref: "ad-1"})
	v, err := f.m.CompleteEngagement(ctx, sess.ID, tok)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if v.Step != model.StepSuccess {
		t.Errorf("step = %q, want success", v.Step)
	}
	if v.Balance.TimeRemainingMinutes != 30 || v.Balance.Points != 10 {
		t.Errorf("balance = %+v, want 30 min/10 pts", v.Balance)
	}
	if len(f.notified) != 1 {
		t.Errorf("notifications = %d, want 1", len(f.notified))
	}

	// The same token cannot pay twice, and the step guard rejects it first.
	if _, err := f.m.CompleteEngagement(ctx, sess.ID, tok); !errors.Is(err, model.ErrInvalidTransition) {
		t.Errorf("replay err = %v, want ErrInvalidTransition", err)
	}
}

func TestCompleteQuizEngagement(t *testing.T) {
	f := setup(t, model.EngagementQuiz)
	sess := f.admit(t, "")

	// A video completion does not satisfy a quiz engagement.
	wrong := f.sign(t, engagement.Completion{SessionID: sess.ID, Kind: engagement.KindVideo})
	if _, err := f.m.CompleteEngagement(context.Background(), sess.ID, wrong); !errors.Is(err, model.ErrInvalidCompletion) {
		t.Fatalf("err = %v, want ErrInvalidCompletion", err)
	}
	if got := f.step(t, sess.ID); got != model.StepEngagement {
		t.Fatalf("step = %q, want engagement", got)
	}

	tok := f.sign(t, engagement.Completion{SessionID: sess.ID, Kind: engagement.KindQuiz, Ref: "quiz-1", Correct: 2})
	v, err := f.m.CompleteEngagement(context.Background(), sess.ID, tok)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if v.Balance.Points != 25 || v.Balance.TimeRemainingMinutes != 0 {
		t.Errorf("balance = %+v, want 25 pts only", v.Balance)
	}
}

func TestFailedGrantDoesNotAdvance(t *testing.T) {
	f := setup(t, model.EngagementVideo)
	sess := f.admit(t, "")

	// Push the balance to the cap so the grant is rejected.
	if _, err := f.db.Exec(`UPDATE users SET time_remaining_minutes = ? WHERE id = ?`, model.MaxBalance, sess.UserID); err != nil {
		t.Fatalf("fill balance: %v", err)
	}
	tok := f.sign(t, engagement.Completion{SessionID: sess.ID, Kind: engagement.KindVideo})
	if _, err := f.m.CompleteEngagement(context.Background(), sess.ID, tok); !errors.Is(err, model.ErrBalanceOverflow) {
		t.Fatalf("err = %v, want ErrBalanceOverflow", err)
	}
	if got := f.step(t, sess.ID); got != model.StepEngagement {
		t.Errorf("step = %q, want engagement after failed grant", got)
	}
	if len(f.notified) != 0 {
		t.Errorf("notifications = %d, want 0", len(f.notified))
	}
}

func TestAbandonEngagement(t *testing.T) {
	f := setup(t, model.EngagementQuiz)
	sess := f.admit(t, "")

	v, err := f.m.AbandonEngagement(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("abandon: %v", err)
	}
	if v.Step != model.StepEngagement {
		t.Errorf("step = %q, want engagement", v.Step)
	}
	s, _ := store.NewSessionStore(f.db).GetByID(context.Background(), sess.ID)
	if s.Metadata.Abandoned != 1 {
		t.Errorf("abandoned = %d, want 1", s.Metadata.Abandoned)
	}
}

func TestResumeKnownDevice(t *testing.T) {
	f := setup(t, model.EngagementVideo)
	ctx := context.Background()
	f.admit(t, "dev-1")

	sess, v, err := f.m.Resume(ctx, "dev-1")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if v.Step != model.StepSuccess || sess.Step != model.StepSuccess {
		t.Errorf("step = %q, want success", v.Step)
	}
	if v.Balance.TimeRemainingMinutes != 30 {
		t.Errorf("time = %d, want 30 renewal minutes", v.Balance.TimeRemainingMinutes)
	}

	if _, _, err := f.m.Resume(ctx, "unknown"); !errors.Is(err, model.ErrUserNotFound) {
		t.Errorf("unknown device err = %v, want ErrUserNotFound", err)
	}
}

func TestNavigateGuards(t *testing.T) {
	f := setup(t, model.EngagementVideo)
	ctx := context.Background()
	sess := f.admit(t, "")

	if _, err := f.m.Navigate(ctx, sess.ID, model.StepRewards); !errors.Is(err, model.ErrInvalidTransition) {
		t.Errorf("navigate from engagement err = %v, want ErrInvalidTransition", err)
	}

	tok := f.sign(t, engagement.Completion{SessionID: sess.ID, Kind: engagement.KindVideo})
	f.m.CompleteEngagement(ctx, sess.ID, tok)

	if _, err := f.m.Navigate(ctx, sess.ID, model.StepAuth); !errors.Is(err, model.ErrInvalidTransition) {
		t.Errorf("navigate to auth err = %v, want ErrInvalidTransition", err)
	}
	if _, err := f.m.Navigate(ctx, sess.ID, model.StepAdminStats); !errors.Is(err, model.ErrForbidden) {
		t.Errorf("non-admin stats err = %v, want ErrForbidden", err)
	}

	v, err := f.m.Navigate(ctx, sess.ID, model.StepDashboard)
	if err != nil {
		t.Fatalf("navigate dashboard: %v", err)
	}
	if v.Step != model.StepDashboard {
		t.Errorf("step = %q, want dashboard", v.Step)
	}
	v, err = f.m.Return(ctx, sess.ID, Action{})
	if err != nil {
		t.Fatalf("return from dashboard: %v", err)
	}
	if v.Step != model.StepSuccess {
		t.Errorf("step = %q, want success", v.Step)
	}
}

func TestAdminStats(t *testing.T) {
	f := setup(t, model.EngagementVideo)
	ctx := context.Background()
	sess := f.succeed(t)
	f.users.SetAdmin(ctx, sess.UserID, true)

	if _, err := f.m.Navigate(ctx, sess.ID, model.StepAdminStats); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	st, err := f.m.AdminStats(ctx, sess.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Users != 1 || st.MinutesGranted["engagement-video"] != 30 {
		t.Errorf("stats = %+v", st)
	}
}

func TestMiniGameScaledGrant(t *testing.T) {
	f := setup(t, model.EngagementVideo)
	ctx := context.Background()
	sess := f.succeed(t)

	f.m.Navigate(ctx, sess.ID, model.StepMiniGames)
	tok := f.sign(t, engagement.Completion{SessionID: sess.ID, Kind: engagement.KindGame, Ref: "memory", Score: 50})
	v, err := f.m.Return(ctx, sess.ID, Action{Token: tok})
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	// 30/10 from the video plus 10/20 from half of the 20/40 game.
	if v.Balance.TimeRemainingMinutes != 40 || v.Balance.Points != 30 {
		t.Errorf("balance = %+v, want 40 min/30 pts", v.Balance)
	}
	if v.Step != model.StepSuccess {
		t.Errorf("step = %q, want success", v.Step)
	}
}

func TestMiniGameUnknownGameStays(t *testing.T) {
	f := setup(t, model.EngagementVideo)
	ctx := context.Background()
	sess := f.succeed(t)

	f.m.Navigate(ctx, sess.ID, model.StepMiniGames)
	tok := f.sign(t, engagement.Completion{SessionID: sess.ID, Kind: engagement.KindGame, Ref: "chess", Score: 100})
	if _, err := f.m.Return(ctx, sess.ID, Action{Token: tok}); !errors.Is(err, model.ErrInvalidCompletion) {
		t.Fatalf("err = %v, want ErrInvalidCompletion", err)
	}
	if got := f.step(t, sess.ID); got != model.StepMiniGames {
		t.Errorf("step = %q, want mini_games", got)
	}
}

func TestExtendTime(t *testing.T) {
	f := setup(t, model.EngagementVideo)
	ctx := context.Background()
	sess := f.succeed(t)

	f.m.Navigate(ctx, sess.ID, model.StepExtendTime)
	tok := f.sign(t, engagement.Completion{SessionID: sess.ID, Kind: engagement.KindExtensionVideo, Ref: "ad-2"})
	v, err := f.m.Return(ctx, sess.ID, Action{Token: tok})
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	if v.Balance.TimeRemainingMinutes != 45 || v.Balance.Points != 15 {
		t.Errorf("balance = %+v, want 45 min/15 pts", v.Balance)
	}

	// The same completion cannot be replayed on a second visit.
	f.m.Navigate(ctx, sess.ID, model.StepExtendTime)
	if _, err := f.m.Return(ctx, sess.ID, Action{Token: tok}); !errors.Is(err, model.ErrAlreadyClaimed) {
		t.Errorf("replay err = %v, want ErrAlreadyClaimed", err)
	}
}

func TestRedeemInsufficientPoints(t *testing.T) {
	f := setup(t, model.EngagementVideo)
	ctx := context.Background()
	sess := f.succeed(t)
	f.setPoints(t, sess.UserID, 40)

	// Seeded reward: 30 extra minutes for 50 points.
	rewards, _ := f.rewards.ListActive(ctx)
	var reward model.Reward
	for _, r := range rewards {
		if r.PointCost == 50 {
			reward = r
		}
	}

	f.m.Navigate(ctx, sess.ID, model.StepRewards)
	_, err := f.m.Return(ctx, sess.ID, Action{RewardID: reward.ID})
	if !errors.Is(err, model.ErrInsufficientPoints) {
		t.Fatalf("err = %v, want ErrInsufficientPoints", err)
	}

	v, _ := f.m.View(ctx, sess.ID)
	if v.Balance.Points != 40 || v.Balance.TimeRemainingMinutes != 30 {
		t.Errorf("balance = %+v, want unchanged 30 min/40 pts", v.Balance)
	}
	if v.Step != model.StepRewards {
		t.Errorf("step = %q, want rewards", v.Step)
	}

	f.setPoints(t, sess.UserID, 60)
	v, err = f.m.Return(ctx, sess.ID, Action{RewardID: reward.ID})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if v.Balance.Points != 10 || v.Balance.TimeRemainingMinutes != 60 {
		t.Errorf("balance = %+v, want 60 min/10 pts", v.Balance)
	}
	if v.Redemption == nil || v.Redemption.RewardID != reward.ID {
		t.Errorf("redemption = %+v", v.Redemption)
	}
}

func TestReferral(t *testing.T) {
	f := setup(t, model.EngagementVideo)
	ctx := context.Background()
	sess := f.succeed(t)

	f.m.Navigate(ctx, sess.ID, model.StepReferral)
	if _, err := f.m.Return(ctx, sess.ID, Action{InvitedContact: testContact}); !errors.Is(err, model.ErrInvalidContact) {
		t.Errorf("self referral err = %v, want ErrInvalidContact", err)
	}

	v, err := f.m.Return(ctx, sess.ID, Action{InvitedContact: "friend@example.com"})
	if err != nil {
		t.Fatalf("refer: %v", err)
	}
	if v.Balance.Points != 60 {
		t.Errorf("points = %d, want 60", v.Balance.Points)
	}

	f.m.Navigate(ctx, sess.ID, model.StepReferral)
	if _, err := f.m.Return(ctx, sess.ID, Action{InvitedContact: "Friend@Example.com"}); !errors.Is(err, model.ErrAlreadyClaimed) {
		t.Errorf("duplicate referral err = %v, want ErrAlreadyClaimed", err)
	}
}

func TestReferralCodeOnFirstAdmission(t *testing.T) {
	f := setup(t, model.EngagementVideo)
	ctx := context.Background()
	f.succeed(t)

	referrer, err := f.users.GetByContact(ctx, testContact)
	if err != nil || referrer == nil {
		t.Fatalf("get referrer: %v", err)
	}

	admitFriend := func(ref string) {
		t.Helper()
		f.m.RequestCode(ctx, "friend@example.com")
		if _, _, err := f.m.Admit(ctx, AdmitRequest{Contact: "friend@example.com", Code: "5678", Referral: ref}); err != nil {
			t.Fatalf("admit friend: %v", err)
		}
	}
	points := func() int {
		t.Helper()
		bal, err := f.users.Balance(ctx, referrer.ID)
		if err != nil {
			t.Fatalf("balance: %v", err)
		}
		return bal.Points
	}

	admitFriend(strings.ToLower(referrer.ReferralCode))
	if got := points(); got != 60 {
		t.Errorf("referrer points = %d, want 60", got)
	}

	// Only the first admission of a new user pays.
	admitFriend(referrer.ReferralCode)
	if got := points(); got != 60 {
		t.Errorf("referrer points after readmission = %d, want 60", got)
	}
}

func TestUnknownReferralCodeDoesNotBlockAdmission(t *testing.T) {
	f := setup(t, model.EngagementVideo)
	ctx := context.Background()

	f.m.RequestCode(ctx, testContact)
	_, v, err := f.m.Admit(ctx, AdmitRequest{Contact: testContact, Code: "5678", Referral: "NOPE1234"})
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if v.Step != model.StepEngagement || v.Balance.Points != 0 {
		t.Errorf("view = %+v, want engagement with no points", v)
	}
}

func TestAdminContactPromotedOnAdmit(t *testing.T) {
	f := setup(t, model.EngagementVideo, WithAdminContacts(testContact))
	ctx := context.Background()

	sess := f.succeed(t)
	v, err := f.m.View(ctx, sess.ID)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if !v.IsAdmin {
		t.Fatal("listed contact should be admin after admission")
	}
	if _, err := f.m.Navigate(ctx, sess.ID, model.StepAdminStats); err != nil {
		t.Errorf("navigate to admin stats: %v", err)
	}

	f.m.RequestCode(ctx, "guest@example.com")
	_, guest, err := f.m.Admit(ctx, AdmitRequest{Contact: "guest@example.com", Code: "5678"})
	if err != nil {
		t.Fatalf("admit guest: %v", err)
	}
	if guest.IsAdmin {
		t.Error("unlisted contact must not be admin")
	}
}

func TestLeadCaptureOncePerSession(t *testing.T) {
	f := setup(t, model.EngagementVideo)
	ctx := context.Background()
	sess := f.succeed(t)

	f.m.Navigate(ctx, sess.ID, model.StepLeadGame)
	v, err := f.m.Return(ctx, sess.ID, Action{Lead: map[string]string{"favourite_drink": "bissap"}})
	if err != nil {
		t.Fatalf("capture lead: %v", err)
	}
	if v.Balance.Points != 35 {
		t.Errorf("points = %d, want 35", v.Balance.Points)
	}

	f.m.Navigate(ctx, sess.ID, model.StepLeadGame)
	if _, err := f.m.Return(ctx, sess.ID, Action{}); !errors.Is(err, model.ErrLeadAlreadyCaptured) {
		t.Errorf("second capture err = %v, want ErrLeadAlreadyCaptured", err)
	}
}

func TestPaymentCreditedOnce(t *testing.T) {
	f := setup(t, model.EngagementVideo)
	ctx := context.Background()
	sess := f.succeed(t)

	f.m.Navigate(ctx, sess.ID, model.StepPayment)
	v, err := f.m.Return(ctx, sess.ID, Action{CheckoutID: "cs_test_1"})
	if err != nil {
		t.Fatalf("payment: %v", err)
	}
	if v.Balance.TimeRemainingMinutes != 90 {
		t.Errorf("time = %d, want 90", v.Balance.TimeRemainingMinutes)
	}

	f.m.Navigate(ctx, sess.ID, model.StepPayment)
	if _, err := f.m.Return(ctx, sess.ID, Action{CheckoutID: "cs_test_1"}); !errors.Is(err, model.ErrAlreadyClaimed) {
		t.Errorf("replay err = %v, want ErrAlreadyClaimed", err)
	}

	f.payments.err = model.ErrPaymentNotSettled
	if _, err := f.m.Return(ctx, sess.ID, Action{CheckoutID: "cs_test_2"}); !errors.Is(err, model.ErrPaymentNotSettled) {
		t.Errorf("unpaid err = %v, want ErrPaymentNotSettled", err)
	}
	if got := f.step(t, sess.ID); got != model.StepPayment {
		t.Errorf("step = %q, want payment", got)
	}
}

func TestBackFromSatellite(t *testing.T) {
	f := setup(t, model.EngagementVideo)
	ctx := context.Background()
	sess := f.succeed(t)

	if _, err := f.m.Back(ctx, sess.ID); !errors.Is(err, model.ErrInvalidTransition) {
		t.Errorf("back from success err = %v, want ErrInvalidTransition", err)
	}
	f.m.Navigate(ctx, sess.ID, model.StepRewards)
	v, err := f.m.Back(ctx, sess.ID)
	if err != nil {
		t.Fatalf("back: %v", err)
	}
	if v.Step != model.StepSuccess {
		t.Errorf("step = %q, want success", v.Step)
	}
}
