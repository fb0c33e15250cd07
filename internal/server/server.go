package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/hotspot/internal/engagement"
	"github.com/dukerupert/hotspot/internal/family"
	"github.com/dukerupert/hotspot/internal/handler"
	"github.com/dukerupert/hotspot/internal/ledger"
	"github.com/dukerupert/hotspot/internal/middleware"
	"github.com/dukerupert/hotspot/internal/notify"
	"github.com/dukerupert/hotspot/internal/payment"
	"github.com/dukerupert/hotspot/internal/portal"
	"github.com/dukerupert/hotspot/internal/quota"
	"github.com/dukerupert/hotspot/internal/store"
	"github.com/dukerupert/hotspot/internal/verify"
	ws "github.com/dukerupert/hotspot/internal/websocket"
)

const (
	codeRequestsPerIP = 5
	verifyPerIP       = 20
	authWindow        = 10 * time.Minute
)

// Config carries the collaborators and tunables built from the environment.
type Config struct {
	// VerifyStore holds verification records. Nil selects SQLite.
	VerifyStore   verify.Store
	Messenger     notify.Messenger
	VerifyOpts    []verify.Option
	Payments      *payment.Client
	Tokens        *engagement.Tokens
	Rewards       engagement.Rewards
	// Picker chooses admission engagements. Nil picks at random.
	Picker        engagement.Picker
	AdminContacts []string
	SessionTTL    time.Duration
	FamilyTTL     time.Duration
	MaxChanges    int
	SecureCookie  bool
	Now           func() time.Time
}

type Server struct {
	hub          *ws.Hub
	authH        *handler.AuthHandler
	portalH      *handler.PortalHandler
	familyH      *handler.FamilyHandler
	adminH       *handler.AdminHandler
	gate         *verify.Gate
	userStore    *store.UserStore
	sessionStore *store.SessionStore
	familyStore  *store.FamilyStore
	rateLimiter  *middleware.RateLimiter
	now          func() time.Time
	logger       *slog.Logger
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) *Server {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	hub := ws.NewHub(logger)

	userStore := store.NewUserStore(db)
	sessionStore := store.NewSessionStore(db)
	rewardStore := store.NewRewardStore(db)
	familyStore := store.NewFamilyStore(db)

	verifyStore := cfg.VerifyStore
	if verifyStore == nil {
		verifyStore = store.NewVerificationStore(db)
	}
	gate := verify.NewGate(verifyStore, cfg.Messenger, logger,
		append([]verify.Option{verify.WithClock(cfg.Now)}, cfg.VerifyOpts...)...)

	deps := portal.Deps{
		Users:    userStore,
		Sessions: sessionStore,
		Gate:     gate,
		Ledger:   ledger.New(store.NewLedgerStore(db), cfg.Rewards, logger),
		Tokens:   cfg.Tokens,
		Rewards:  rewardStore,
		Table:    cfg.Rewards,
		Stats:    store.NewStatsStore(db),
	}
	var checkout handler.Checkout
	if cfg.Payments != nil && cfg.Payments.Configured() {
		deps.Payments = cfg.Payments
		checkout = cfg.Payments
	}

	opts := []portal.Option{
		portal.WithClock(cfg.Now),
		portal.WithNotifier(func(v *portal.View) {
			hub.SendToUser(v.UserID, ws.BalanceMessage(v.UserID,
				v.Balance.TimeRemainingMinutes, v.Balance.Points, string(v.Step)))
		}),
	}
	if len(cfg.AdminContacts) > 0 {
		opts = append(opts, portal.WithAdminContacts(cfg.AdminContacts...))
	}
	if cfg.Picker != nil {
		opts = append(opts, portal.WithPicker(cfg.Picker))
	}
	if cfg.SessionTTL > 0 {
		opts = append(opts, portal.WithSessionTTL(cfg.SessionTTL))
	}
	machine := portal.New(deps, logger, opts...)

	quotaOpts := []quota.Option{quota.WithClock(cfg.Now)}
	if cfg.MaxChanges > 0 {
		quotaOpts = append(quotaOpts, quota.WithMax(cfg.MaxChanges))
	}
	allocator := quota.New(store.NewQuotaStore(db), logger, quotaOpts...)

	familyOpts := []family.Option{family.WithClock(cfg.Now)}
	if cfg.FamilyTTL > 0 {
		familyOpts = append(familyOpts, family.WithTTL(cfg.FamilyTTL))
	}
	familySvc := family.NewService(familyStore, userStore, allocator, logger, familyOpts...)

	limiter := middleware.NewRateLimiter()

	return &Server{
		hub:          hub,
		authH:        handler.NewAuthHandler(machine, limiter, cfg.SecureCookie, logger.With("component", "auth_handler")),
		portalH:      handler.NewPortalHandler(machine, rewardStore, checkout, logger.With("component", "portal_handler")),
		familyH:      handler.NewFamilyHandler(familySvc, logger.With("component", "family_handler")),
		adminH:       handler.NewAdminHandler(machine, logger.With("component", "admin_handler")),
		gate:         gate,
		userStore:    userStore,
		sessionStore: sessionStore,
		familyStore:  familyStore,
		rateLimiter:  limiter,
		now:          cfg.Now,
		logger:       logger,
	}
}

// Cleanup drops expired verification codes, sessions and rate-limit windows,
// and deactivates lapsed family plans.
func (s *Server) Cleanup(ctx context.Context) {
	if n, err := s.gate.Cleanup(ctx); err != nil {
		s.logger.Error("cleanup expired codes", "error", err)
	} else if n > 0 {
		s.logger.Info("cleaned up expired codes", "count", n)
	}
	if n, err := s.sessionStore.DeleteExpired(ctx, s.now()); err != nil {
		s.logger.Error("cleanup expired sessions", "error", err)
	} else if n > 0 {
		s.logger.Info("cleaned up expired sessions", "count", n)
	}
	if n, err := s.familyStore.Deactivate(ctx, s.now()); err != nil {
		s.logger.Error("deactivate expired families", "error", err)
	} else if n > 0 {
		s.logger.Info("deactivated expired families", "count", n)
	}
	s.rateLimiter.Cleanup()
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no session required)
	outerMux.HandleFunc("POST /api/auth/code", s.rateLimited(s.authH.RequestCode, codeRequestsPerIP))
	outerMux.HandleFunc("POST /api/auth/verify", s.rateLimited(s.authH.Verify, verifyPerIP))
	outerMux.HandleFunc("POST /api/auth/resume", s.rateLimited(s.authH.Resume, verifyPerIP))
	outerMux.HandleFunc("GET /health", s.healthHandler)

	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	requireSession := middleware.RequireSession(s.sessionStore, s.userStore, s.now)
	outerMux.Handle("/", requireSession(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimited(h http.HandlerFunc, limit int) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return r.URL.Path + ":" + middleware.RealIP(r)
	}
	return middleware.RateLimit(s.rateLimiter, keyFunc, limit, authWindow)(h).ServeHTTP
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	// Session and state machine
	mux.HandleFunc("GET /api/session", s.portalH.Session)
	mux.HandleFunc("POST /api/engagement/complete", s.portalH.CompleteEngagement)
	mux.HandleFunc("POST /api/engagement/abandon", s.portalH.AbandonEngagement)
	mux.HandleFunc("POST /api/navigate", s.portalH.Navigate)
	mux.HandleFunc("POST /api/return", s.portalH.Return)
	mux.HandleFunc("POST /api/back", s.portalH.Back)

	// Balances, rewards and payment
	mux.HandleFunc("GET /api/ledger", s.portalH.Ledger)
	mux.HandleFunc("GET /api/rewards", s.portalH.Rewards)
	mux.HandleFunc("GET /api/payment/packages", s.portalH.Packages)
	mux.HandleFunc("POST /api/payment/checkout", s.portalH.Checkout)

	// Family plan
	mux.HandleFunc("GET /api/family", s.familyH.Get)
	mux.HandleFunc("POST /api/family", s.familyH.Create)
	mux.HandleFunc("POST /api/family/members", s.familyH.AddMember)
	mux.HandleFunc("PUT /api/family/members/{id}", s.familyH.ReplaceMember)
	mux.HandleFunc("DELETE /api/family/members/{id}", s.familyH.RemoveMember)
	mux.HandleFunc("POST /api/family/members/{id}/suspend", s.familyH.SuspendMember)
	mux.HandleFunc("POST /api/family/members/{id}/reactivate", s.familyH.ReactivateMember)

	mux.Handle("GET /api/admin/stats", middleware.RequireAdmin(http.HandlerFunc(s.adminH.Stats)))

	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.logger))
}
