package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yoon511/netplay-badminton-board-yoon/internal/auth"
	"github.com/yoon511/netplay-badminton-board-yoon/internal/board"
	"github.com/yoon511/netplay-badminton-board-yoon/internal/config"
	"github.com/yoon511/netplay-badminton-board-yoon/internal/httpapi"
	"github.com/yoon511/netplay-badminton-board-yoon/internal/hub"
	"github.com/yoon511/netplay-badminton-board-yoon/internal/logging"
	"github.com/yoon511/netplay-badminton-board-yoon/internal/roster"
	"github.com/yoon511/netplay-badminton-board-yoon/internal/store"
	"github.com/yoon511/netplay-badminton-board-yoon/internal/store/postgres"
)

const shutdownTimeout = 10 * time.Second

type closingStore interface {
	store.Store
	Close() error
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, st.Close()) }()

	authz, err := auth.NewKeyAuthorizer(cfg.AdminKeyHash, cfg.AdminKey)
	if err != nil {
		return err
	}
	if !authz.Enabled() {
		logger.Warn("no admin key configured, every viewer is read-only")
	}

	// The hub outlives the signal context so it can be drained after the
	// HTTP server stops.
	h := hub.NewHub(context.Background(), st, cfg.DefaultPath, board.Config{
		Rules: roster.Rules{
			Courts:              cfg.Board.Courts,
			AllowCourtOverwrite: cfg.Board.AllowCourtOverwrite,
		},
		TickInterval: cfg.Board.TickInterval,
		IdleTimeout:  cfg.Board.IdleTimeout,
	}, logger.Named("hub"))

	// Build the router *with* the hub injected
	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.SetupRoutes(h, authz, httpapi.Options{
			DefaultPath:    cfg.DefaultPath,
			AllowedOrigins: cfg.AllowedOrigins,
			Log:            logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)

		done := make(chan struct{})
		h.Inbox() <- hub.ShutdownHub{Done: done}
		select {
		case <-done:
		case <-shutdownCtx.Done():
			err = multierr.Append(err, shutdownCtx.Err())
		}
		return err
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (closingStore, error) {
	switch cfg.Store {
	case config.StorePostgres:
		openCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		st, err := postgres.New(openCtx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("postgres store: %w", err)
		}
		return st, nil
	default:
		return store.NewMemory(logger), nil
	}
}
