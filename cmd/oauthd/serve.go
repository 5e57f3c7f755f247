package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexjbarnes/oauthd/internal/codestore"
	"github.com/alexjbarnes/oauthd/internal/config"
	"github.com/alexjbarnes/oauthd/internal/guard"
	"github.com/alexjbarnes/oauthd/internal/logging"
	"github.com/alexjbarnes/oauthd/internal/metrics"
	"github.com/alexjbarnes/oauthd/internal/oauth"
	"github.com/alexjbarnes/oauthd/internal/server"
	"github.com/alexjbarnes/oauthd/internal/tokens"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Info("oauthd starting",
		slog.String("version", Version),
		slog.String("issuer", cfg.Issuer),
		slog.String("store", cfg.StoreDriver),
		slog.String("cache", cfg.CacheDriver),
		slog.String("audit", cfg.AuditDriver),
	)

	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	cache, err := openCodeCache(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening code cache: %w", err)
	}
	defer cache.Close()

	registry, err := loadScopes(cfg)
	if err != nil {
		return fmt.Errorf("loading scopes: %w", err)
	}

	keys, err := tokens.LoadKeys(cfg.SigningKeyPEM, cfg.SigningKeyPath, cfg.SigningSecret)
	if err != nil {
		return fmt.Errorf("loading signing key: %w", err)
	}

	sessions, err := tokens.NewSessionVerifier([]byte(cfg.SessionJWTSecret))
	if err != nil {
		return fmt.Errorf("configuring session verifier: %w", err)
	}

	issuer := tokens.NewIssuer(keys, tokens.Config{
		Issuer:         cfg.Issuer,
		Audience:       cfg.Audience,
		AccessTokenTTL: cfg.AccessTokenTTL,
	})

	m := metrics.New()

	auditor, err := openAudit(cfg, m, logger)
	if err != nil {
		return err
	}
	defer auditor.close()

	codes := codestore.New(cache, cfg.CodeTTL)

	svc := oauth.NewService(oauth.Deps{
		Apps:     st,
		Tokens:   st,
		Codes:    codes,
		Issuer:   issuer,
		Registry: registry,
		Audit:    auditor.sink,
		Metrics:  m,
		Logger:   logger,
	}, oauth.Config{RefreshTokenTTL: cfg.RefreshTokenTTL})

	handler := server.NewMux(server.MuxConfig{
		Service: svc,
		Guard:   guard.New(issuer, sessions, st, logger, "oauthd"),
		Keys:    keys,
		Metrics: m,
		Logger:  logger,
		Issuer:  cfg.Issuer,
		Backends: map[string]server.Pinger{
			"store": st,
			"cache": codes,
		},
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	// The audit worker outlives the server so events from in-flight
	// requests are delivered before it drains.
	auditCtx, stopAudit := context.WithCancel(context.Background())
	defer stopAudit()

	g.Go(func() error {
		return auditor.run(auditCtx)
	})

	g.Go(func() error {
		logger.Info("listening",
			slog.String("addr", cfg.ListenAddr),
			slog.String("signing_alg", keys.Algorithm()),
		)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		defer stopAudit()

		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
