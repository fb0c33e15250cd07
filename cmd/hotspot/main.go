package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dukerupert/hotspot/internal/config"
	"github.com/dukerupert/hotspot/internal/database"
	"github.com/dukerupert/hotspot/internal/engagement"
	"github.com/dukerupert/hotspot/internal/logging"
	"github.com/dukerupert/hotspot/internal/notify"
	"github.com/dukerupert/hotspot/internal/payment"
	"github.com/dukerupert/hotspot/internal/server"
	"github.com/dukerupert/hotspot/internal/verify"
)

const cleanupInterval = 10 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	srvCfg := server.Config{
		Messenger: messenger(cfg, logger),
		VerifyOpts: []verify.Option{
			verify.WithCodeLength(cfg.Verify.CodeLength),
			verify.WithTTL(cfg.Verify.TTL),
			verify.WithMaxAttempts(cfg.Verify.MaxAttempts),
		},
		Tokens:        engagement.NewTokens(cfg.TokenSecret, 0, nil),
		Rewards:       cfg.EngagementRewards(),
		AdminContacts: cfg.AdminContacts,
		SessionTTL:    cfg.SessionTTL,
		FamilyTTL:     cfg.Family.TTL,
		MaxChanges:    cfg.Family.MaxChanges,
		SecureCookie:  !cfg.Dev,
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			slog.Error("failed to reach redis", "addr", cfg.Redis.Addr, "error", err)
			os.Exit(1)
		}
		srvCfg.VerifyStore = verify.NewRedisStore(rdb, cfg.Redis.Prefix)
		slog.Info("verification codes stored in redis", "addr", cfg.Redis.Addr)
	}

	if cfg.Stripe.SecretKey != "" {
		srvCfg.Payments = payment.NewClient(cfg.Payment(), logger)
	} else {
		slog.Warn("stripe is not configured, payment satellite disabled")
	}

	srv := server.New(db, srvCfg, logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Background cleanup goroutine
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				srv.Cleanup(cleanupCtx)
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	go func() {
		slog.Info("hotspot portal starting", "addr", ":"+cfg.Port, "base_url", cfg.BaseURL, "dev", cfg.Dev)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	cleanupCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

// messenger routes codes to Twilio and Postmark. In dev mode an unconfigured
// channel logs the code instead; in production it reports a delivery failure.
func messenger(cfg config.Config, logger *slog.Logger) notify.Messenger {
	var fallback notify.Messenger
	if cfg.Dev {
		fallback = notify.NewLogSender(logger.With("component", "notify"))
	}
	sms := notify.NewTwilioSender(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.From)
	email := notify.NewPostmarkClient(cfg.Postmark.Token, cfg.Postmark.From)
	if !sms.Configured() {
		slog.Warn("twilio is not configured", "fallback_to_log", cfg.Dev)
	}
	if !email.Configured() {
		slog.Warn("postmark is not configured", "fallback_to_log", cfg.Dev)
	}
	return &notify.Router{
		SMS:   notify.Choose(sms, fallback),
		Email: notify.Choose(email, fallback),
	}
}
