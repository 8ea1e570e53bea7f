// Package server provides the public entry point for initializing the
// Glossarium server: it composes the store, tool clients, handler
// registry, execution engine, and HTTP router.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/glossarium/glossarium/internal/api"
	"github.com/glossarium/glossarium/internal/api/handlers"
	"github.com/glossarium/glossarium/internal/config"
	"github.com/glossarium/glossarium/internal/engine"
	"github.com/glossarium/glossarium/internal/lexicon"
	"github.com/glossarium/glossarium/internal/registry"
	"github.com/glossarium/glossarium/internal/retention"
	"github.com/glossarium/glossarium/internal/store"
	"github.com/glossarium/glossarium/internal/telemetry"
	"github.com/glossarium/glossarium/internal/toolclient"

	"github.com/rs/zerolog/log"
)

// Tool names the server wires by default. Plans may name other tools;
// unknown ones resolve to stub handlers (and skip when optional).
const (
	ToolLSJ        = "lsj"
	ToolLogeion    = "logeion"
	ToolWhitaker   = "whitaker"
	ToolLewisShort = "lewis-short"
)

// Server holds the initialized Glossarium server.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the effect store (in-memory unless PostgreSQL is configured).
	Store store.Store

	// Engine executes tool plans; exposed for embedding callers.
	Engine *engine.Engine

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes all components from environment configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the server with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore, err := newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	clients := newClients(cfg)
	reg := newRegistry()

	eng := engine.New(engine.Config{
		Clients:     clients,
		Registry:    reg,
		Raw:         dataStore,
		Extractions: dataStore,
		Derivations: dataStore,
		Claims:      dataStore,
		PlanCache:   dataStore,
		AllowCache:  cfg.Tools.AllowCache,
	})
	log.Info().Msg("✅ Execution engine initialized")

	if cfg.Tools.CacheTTLHours > 0 {
		ttl := time.Duration(cfg.Tools.CacheTTLHours) * time.Hour
		janitor := retention.NewJanitor(dataStore, ttl, time.Hour)
		go janitor.Start(ctx)
	}

	h := handlers.New(dataStore, eng)
	router := api.NewRouter(cfg, h)

	return &Server{
		Handler:      router,
		Store:        dataStore,
		Engine:       eng,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}

func newStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Database.URL != "" {
		s, err := store.NewPostgresStore(ctx, cfg.Database.URL)
		if err == nil {
			return s, nil
		}
		log.Warn().Err(err).Msg("PostgreSQL unavailable, falling back to in-memory store")
	}
	log.Info().Msg("✅ In-memory effect store initialized")
	return store.NewMemoryStore(), nil
}

func newClients(cfg *config.Config) map[string]toolclient.ToolClient {
	timeout := time.Duration(cfg.Tools.HTTPTimeoutSecs) * time.Second
	return map[string]toolclient.ToolClient{
		ToolLSJ:        toolclient.NewScraperClient(ToolLSJ, cfg.Tools.LSJBaseURL, timeout),
		ToolLogeion:    toolclient.NewScraperClient(ToolLogeion, cfg.Tools.LogeionBaseURL, timeout),
		ToolWhitaker:   toolclient.NewAnalyzerClient(ToolWhitaker, cfg.Tools.WhitakerBinary, timeout),
		ToolLewisShort: toolclient.NewLexiconFileClient(ToolLewisShort, cfg.Tools.LexiconDir),
	}
}

func newRegistry() *registry.ToolRegistry {
	reg := registry.New().WithStubs()
	for _, tool := range []string{ToolLSJ, ToolLogeion, ToolWhitaker, ToolLewisShort} {
		lexicon.Register(reg, tool)
	}
	return reg
}
