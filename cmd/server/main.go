package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/chatcore/internal/adapters/http"
	sig "github.com/dkeye/chatcore/internal/adapters/signal"
	"github.com/dkeye/chatcore/internal/app"
	"github.com/dkeye/chatcore/internal/app/orch"
	"github.com/dkeye/chatcore/internal/auth"
	"github.com/dkeye/chatcore/internal/config"
	"github.com/dkeye/chatcore/internal/storage"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if cfg.Mode == "release" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	store, err := storage.Open(cfg.Database.Path, cfg.Mode == "debug")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("close database")
		}
	}()
	if err := store.Seed(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to seed rooms")
	}

	tokens := auth.NewTokenManager(auth.TokenConfig{
		SecretKey: cfg.Secret,
		TTL:       cfg.JWT.TTL,
		Issuer:    cfg.JWT.Issuer,
	})

	o := orch.New(orch.Config{
		TypingWindow:          cfg.Typing.Window,
		HistoryLimit:          cfg.History.Limit,
		PersistSystemMessages: cfg.PersistSystemMessages,
		Policy:                app.SimplePolicy{},
	}, store, store, store)
	defer o.Close()

	limiter := sig.NewMessageRateLimiter(cfg.Rate.Limit, cfg.Rate.Interval)
	r := router.SetupRouter(ctx, cfg, router.Deps{
		Orch:     o,
		Users:    store,
		Messages: store,
		Tokens:   tokens,
		Auth:     auth.NewAuthenticator(tokens, store),
		Limiter:  limiter,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("chat server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return limiter.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server error")
	}
	log.Info().Msg("Server exited gracefully")
}
