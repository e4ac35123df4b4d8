// Package app wires the Loom server runtime: config, logging, stores, the
// model provider, and the HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/jackc/pgx/v5/pgxpool"

	"loom/cmd/internal/chat"
	"loom/cmd/internal/history"
	"loom/cmd/internal/model"
	"loom/cmd/internal/transcript"
)

// Store is a small app-level lifecycle abstraction for closing DB-backed
// resources gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// App is the Loom server runtime: it owns the HTTP server wiring and the
// chat coordinator's dependencies.
type App struct {
	cfg Config
	log Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	handler *chat.Handler
	ws      *chat.WSGateway
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogPretty)
	}

	st, dbPool, dbEnabled, histStore, transcriptStore, err := newStores(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	provider, err := newProvider(context.Background(), cfg)
	if err != nil {
		if dbPool != nil {
			dbPool.Close()
		}
		return nil, err
	}
	log.Info("model.provider", "name", provider.Name())

	svc := chat.NewService(log, provider, transcriptStore,
		chat.WithSystemPrompt(cfg.SystemPrompt),
		chat.WithMaxTokens(cfg.ModelMaxTokens),
		chat.WithStreamBuffer(cfg.StreamBuffer),
	)
	reg := chat.NewRegistry(histStore, transcriptStore)
	handler := chat.NewHandler(log, svc, reg, histStore)
	ws := chat.NewWSGateway(log, svc, histStore,
		chat.WithAllowedOrigins(cfg.WSAllowedOrigins),
		chat.WithOriginRequired(cfg.WSOriginRequired),
	)

	return &App{
		cfg:       cfg,
		log:       log,
		store:     st,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		handler:   handler,
		ws:        ws,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or a
// fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.handler, a.ws)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 30*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.store.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newStores decides between Postgres-backed persistence and in-memory dev
// stores. Ownership model: the app owns the pool lifecycle; the Postgres
// stores' Close is a no-op.
func newStores(ctx context.Context, cfg Config, log Logger) (Store, *pgxpool.Pool, bool, history.Store, transcript.Store, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return nopStore{}, nil, false, history.NewInMemoryStore(), transcript.NewInMemoryStore(), nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, nil, nil, err
	}

	log.Info("db.enabled.postgres_store")

	histStore, err := history.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, false, nil, nil, err
	}
	transcriptStore, err := transcript.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, false, nil, nil, err
	}

	return dbStore{pool: pool}, pool, true, histStore, transcriptStore, nil
}

type dbStore struct {
	pool *pgxpool.Pool
}

func (s dbStore) Close(_ context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// newProvider selects the model backend from config.
func newProvider(ctx context.Context, cfg Config) (model.Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.ModelProvider)) {
	case "", ProviderAnthropic:
		return model.NewAnthropicProvider(cfg.ModelID), nil
	case ProviderBedrock:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: load aws config: %w", err)
		}
		return model.NewBedrockProvider(awsCfg, cfg.ModelID)
	default:
		return nil, fmt.Errorf("app: unknown model provider %q", cfg.ModelProvider)
	}
}
