// Command server runs the storefront authentication service.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	accountrepo "storefront-auth/internal/account/repository"
	"storefront-auth/internal/audit"
	auditrepo "storefront-auth/internal/audit/repository"
	"storefront-auth/internal/auth"
	"storefront-auth/internal/config"
	"storefront-auth/internal/db"
	"storefront-auth/internal/httpapi"
	"storefront-auth/internal/janitor"
	"storefront-auth/internal/lockout"
	lockoutrepo "storefront-auth/internal/lockout/repository"
	"storefront-auth/internal/logger"
	"storefront-auth/internal/obs"
	"storefront-auth/internal/passreset"
	passresetrepo "storefront-auth/internal/passreset/repository"
	revocationrepo "storefront-auth/internal/revocation/repository"
	"storefront-auth/internal/security"
	sessiondomain "storefront-auth/internal/session/domain"
	sessionrepo "storefront-auth/internal/session/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config load failed", zap.Error(err))
	}
	log := logger.New(cfg.Env, cfg.LogFile)
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	database, err := db.Open(cfg.DatabaseURL, db.Pool{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime(),
	})
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()

	providers, err := buildProviders(cfg)
	if err != nil {
		return err
	}

	metrics := obs.New()
	accounts := accountrepo.NewPostgresRepository(database)
	sessions := sessionrepo.NewPostgresRepository(database)
	revocations := revocationrepo.NewPostgresRepository(database)
	lockouts := lockoutrepo.NewPostgresRepository(database)
	resetTokens := passresetrepo.NewPostgresRepository(database)
	auditTrail := auditrepo.NewPostgresRepository(database)
	auditor := audit.NewLogger(auditTrail, log)

	tracker := lockout.NewTracker(lockouts, cfg.LockoutMaxAttempts, cfg.LockDuration(), log)
	hasher := security.NewHasher(cfg.BcryptCost)

	sender, err := buildSender(cfg, log)
	if err != nil {
		return err
	}

	authSvc := auth.NewService(accounts, sessions, revocations, tracker, hasher,
		providers, cfg.RefreshTTL(), auditor, metrics, log)
	resetSvc := passreset.NewService(accounts, resetTokens, sessions, revocations,
		hasher, sender, auditor, cfg.ResetTTL(), log)

	api := httpapi.New(authSvc, resetSvc, accounts, sessions, auditTrail, database, metrics, log, httpapi.Options{
		CookieDomain:       cfg.CookieDomain,
		CookieSecure:       cfg.CookieSecure,
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		RateLimitBurst:     cfg.RateLimitBurst,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if every := cfg.JanitorEvery(); every > 0 {
		sweeper := janitor.New(sessions, lockouts, resetTokens, revocations,
			every, cfg.Retention(), cfg.RefreshTTL(), metrics, log)
		go sweeper.Run(ctx)
	} else {
		log.Warn("janitor disabled; expired rows will accumulate")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func buildProviders(cfg *config.Config) (map[sessiondomain.Channel]*security.TokenProvider, error) {
	customer, err := providerFor(cfg.CustomerJWTPrivateKey, cfg.CustomerJWTPublicKey,
		cfg.JWTIssuer, cfg.CustomerJWTAudience, cfg)
	if err != nil {
		return nil, err
	}
	// Admin keys default to the customer pair; the audience still keeps the
	// channels disjoint.
	adminPriv, adminPub := cfg.AdminJWTPrivateKey, cfg.AdminJWTPublicKey
	if adminPriv == "" {
		adminPriv, adminPub = cfg.CustomerJWTPrivateKey, cfg.CustomerJWTPublicKey
	}
	admin, err := providerFor(adminPriv, adminPub, cfg.JWTIssuer, cfg.AdminJWTAudience, cfg)
	if err != nil {
		return nil, err
	}
	return map[sessiondomain.Channel]*security.TokenProvider{
		sessiondomain.ChannelCustomer: customer,
		sessiondomain.ChannelAdmin:    admin,
	}, nil
}

func providerFor(privPEM, pubPEM, issuer, audience string, cfg *config.Config) (*security.TokenProvider, error) {
	priv, err := security.ParsePrivateKey(privPEM)
	if err != nil {
		return nil, err
	}
	pub, err := security.ParsePublicKey(pubPEM)
	if err != nil {
		return nil, err
	}
	return security.NewTokenProvider(priv, pub, issuer, audience, cfg.AccessTTL(), cfg.RefreshTTL()), nil
}

func buildSender(cfg *config.Config, log *zap.Logger) (passreset.Sender, error) {
	if cfg.SMTPHost == "" {
		log.Warn("SMTP_HOST unset; reset tokens will only be logged")
		return passreset.NoopSender{}, nil
	}
	return passreset.NewSMTPSender(passreset.SMTPConfig{
		Host: cfg.SMTPHost,
		Port: cfg.SMTPPort,
		User: cfg.SMTPUser,
		Pass: cfg.SMTPPass,
		From: cfg.SMTPFrom,
	}, log)
}
