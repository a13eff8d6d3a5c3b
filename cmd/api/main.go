package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"agileflow/api/internal/app"
	"agileflow/api/internal/config"
	"agileflow/api/internal/email"
	"agileflow/api/internal/identity"
	"agileflow/api/internal/presence"
	"agileflow/api/internal/ratelimit"
	"agileflow/api/internal/realtime"
	"agileflow/api/internal/search"
	"agileflow/api/internal/session"
	"agileflow/api/internal/store"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, config.Load())
	stop()
	if err != nil {
		slog.Error("api stopped", "error", err)
		os.Exit(1)
	}
}

// run wires the API and serves until ctx is cancelled. Deferred cleanup runs
// on every return path.
func run(ctx context.Context, cfg config.Config) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	dataStore := store.NewPostgresStore(db)

	redisStore, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	defer redisStore.Close()

	idp, err := newIdentityProvider(ctx, cfg, dataStore, redisStore)
	if err != nil {
		return fmt.Errorf("identity provider setup failed: %w", err)
	}

	dispatcher := email.NewDispatcher(email.NewNotifier(newEmailSender(cfg), "AgileFlow", strings.TrimRight(cfg.FrontendURL, "/")+"/dashboard"))

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)
	go searchService.ReindexAll(ctx)

	broker := realtime.NewRedisBroker(redisStore.Client(), "")

	service := app.New(cfg, app.Dependencies{
		Store:    dataStore,
		Identity: idp,
		Events:   broker,
		Mailer:   dispatcher,
		Search:   searchService,
		Cache:    redisStore,
	})

	opts := []app.ServerOption{
		app.WithStream(realtime.NewStream(broker, app.StreamAuthenticator(service), cfg.CORSOrigins)),
	}
	if cfg.IsProduction() {
		limiter := ratelimit.NewLimiter(redisStore.Client(), cfg.RateLimitRequests, cfg.RateLimitWindow)
		opts = append(opts, app.WithRateLimit(limiter, cfg.TrustedProxies))
	}

	sweeper := presence.NewSweeper(dataStore, broker, cfg.PresenceTimeout)
	go sweeper.Run(ctx)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigins, opts...)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("AgileFlow API listening", "addr", cfg.Addr, "env", cfg.Env, "identity", cfg.IdentityProvider)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			stop()
			dispatcher.Wait()
			searchService.Wait()
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	dispatcher.Wait()
	searchService.Wait()
	return nil
}

func newIdentityProvider(ctx context.Context, cfg config.Config, accounts identity.AccountStore, sessions identity.SessionStore) (identity.Provider, error) {
	switch cfg.IdentityProvider {
	case config.IdentityFirebase:
		client, err := identity.NewFirebaseAuth(ctx, cfg.FirebaseCredentialsPath)
		if err != nil {
			return nil, err
		}
		return identity.NewFirebaseProvider(client), nil
	case config.IdentityLocal, "":
		if cfg.IsProduction() && cfg.JWTSecret == "agileflow-dev-secret" {
			return nil, errors.New("JWT_SECRET must be set in production")
		}
		return identity.NewLocalProvider(accounts, sessions, identity.LocalConfig{
			Secret:     cfg.JWTSecret,
			AccessTTL:  cfg.AccessTTL,
			RefreshTTL: cfg.RefreshTTL,
		}), nil
	default:
		return nil, errors.New("unknown IDENTITY_PROVIDER " + cfg.IdentityProvider)
	}
}

// newEmailSender prefers SendGrid when a key is configured.
func newEmailSender(cfg config.Config) email.Sender {
	if cfg.SendGridAPIKey != "" {
		slog.Info("using SendGrid for email")
		return email.NewSendGridSender(cfg.SendGridAPIKey, cfg.EmailFromName, cfg.EmailFrom)
	}
	smtpService := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.EmailFrom,
		FromName: cfg.EmailFromName,
	})
	if !smtpService.IsConfigured() {
		slog.Warn("email not configured, task assignment notices are disabled")
	}
	return smtpService
}
