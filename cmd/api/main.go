package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/soullink/backend/internal/auth"
	"github.com/zhouzirui/soullink/backend/internal/config"
	"github.com/zhouzirui/soullink/backend/internal/handler"
	"github.com/zhouzirui/soullink/backend/internal/model/persona"
	"github.com/zhouzirui/soullink/backend/internal/service/chat"
	"github.com/zhouzirui/soullink/backend/internal/service/events"
	"github.com/zhouzirui/soullink/backend/internal/service/identity"
	"github.com/zhouzirui/soullink/backend/internal/service/quota"
	"github.com/zhouzirui/soullink/backend/internal/service/session"
	"github.com/zhouzirui/soullink/backend/internal/store/kv"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		logrus.WithError(err).Warn("failed to load .env file, continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}
	cfg.Log.Apply()

	store, err := kv.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		logrus.WithError(err).WithField("driver", cfg.Store.Driver).Fatal("failed to open store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logrus.WithError(err).Warn("failed to close store")
		}
	}()
	logrus.WithField("driver", cfg.Store.Driver).Info("store opened")

	identities := identity.NewService(store)
	tracker := quota.NewTracker(identities, cfg.Quota.Policy)
	if cfg.Quota.PolicyFile != "" {
		logrus.WithField("file", cfg.Quota.PolicyFile).Info("quota policy loaded")
	}

	sessions := session.NewService(store, cfg.Session.Retention)
	hub := events.NewHub()
	personaStore := persona.NewMemoryStore(persona.Seed())
	chatService := chat.NewService(sessions, tracker, personaStore, hub)

	issuer, err := auth.NewIssuer(cfg.Auth.SigningKey, cfg.Auth.TokenTTL)
	if err != nil {
		logrus.WithError(err).Fatal("failed to create token issuer")
	}

	router := handler.NewRouter(handler.Deps{
		Personas:   personaStore,
		Identities: identities,
		Tracker:    tracker,
		Chat:       chatService,
		Hub:        hub,
		Issuer:     issuer,
		CORSOrigin: cfg.Server.CORSOrigin,
	})

	if err := startServer(ctx, cfg.Server, router); err != nil {
		logrus.WithError(err).Error("server error")
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) error {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logrus.WithField("addr", addr).Info("SoulLink backend listening")
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
