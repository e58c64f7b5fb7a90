package main

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/praxislabs/praxis/pkg/attachments"
	"github.com/praxislabs/praxis/pkg/clock"
	"github.com/praxislabs/praxis/pkg/config"
	"github.com/praxislabs/praxis/pkg/executor"
	"github.com/praxislabs/praxis/pkg/llms"
	"github.com/praxislabs/praxis/pkg/observability"
	"github.com/praxislabs/praxis/pkg/profile"
	"github.com/praxislabs/praxis/pkg/rag"
	"github.com/praxislabs/praxis/pkg/ratelimit"
	"github.com/praxislabs/praxis/pkg/server"
	"github.com/praxislabs/praxis/pkg/session"
	"github.com/praxislabs/praxis/pkg/tools"
)

// engine owns every long-lived component behind the HTTP surface.
type engine struct {
	srv     *server.Server
	pool    *config.DBPool
	obs     *observability.Manager
	vectors rag.VectorStore
	catalog *tools.Catalog
	logger  *slog.Logger
}

// Run serves HTTP until ctx is cancelled.
func (e *engine) Run(ctx context.Context, addr string) error {
	return e.srv.Run(ctx, addr)
}

// Close releases resources in reverse dependency order.
func (e *engine) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.catalog.Close(); err != nil {
		e.logger.Warn("tool catalog shutdown", "error", err)
	}
	if err := e.vectors.Close(); err != nil {
		e.logger.Warn("vector store shutdown", "error", err)
	}
	if err := e.obs.Shutdown(ctx); err != nil {
		e.logger.Warn("observability shutdown", "error", err)
	}
	if err := e.pool.Close(); err != nil {
		e.logger.Warn("database shutdown", "error", err)
	}
}

// buildEngine wires the full dependency graph from config: observability,
// the SQL-backed stores, LLM providers, the MCP tool catalog, retrieval,
// attachment processing, the executor, and finally the HTTP server.
func buildEngine(ctx context.Context, cfg *config.Config) (*engine, error) {
	log := slog.Default()
	clk := clock.Real{}

	obs := observability.NewManager(observabilityConfig(&cfg.Observability))
	if err := obs.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}

	pool := config.NewDBPool()
	db, err := pool.Get(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	dialect := cfg.Database.Driver

	sessions, err := session.NewSQLStore(db, dialect, clk)
	if err != nil {
		return nil, err
	}
	library, err := profile.NewSQLLibrary(db, dialect, clk)
	if err != nil {
		return nil, err
	}
	costs, err := profile.NewSQLCosts(db, dialect, clk)
	if err != nil {
		return nil, err
	}
	quotaStore, err := ratelimit.NewSQLStore(db, dialect, clk)
	if err != nil {
		return nil, err
	}
	limiter, err := ratelimit.NewLimiter(quotaStore, clk)
	if err != nil {
		return nil, err
	}

	providers, err := llms.NewProviderRegistry(cfg.Providers)
	if err != nil {
		return nil, fmt.Errorf("failed to build providers: %w", err)
	}

	catalog := tools.NewCatalog()
	for name, mc := range cfg.MCPServers {
		src, err := tools.NewMCPSource(tools.MCPConfig{
			Name:         name,
			URL:          mc.URL,
			Command:      mc.Command,
			Args:         mc.Args,
			Env:          mc.Env,
			Headers:      mc.Headers,
			IncludeTools: mc.IncludeTools,
		})
		if err != nil {
			return nil, fmt.Errorf("mcp server %q: %w", name, err)
		}
		// An unreachable server degrades to a smaller catalog rather than
		// blocking startup; profiles that need it fail per turn instead.
		if err := catalog.AddSource(ctx, src); err != nil {
			log.Warn("mcp server unavailable, skipping", "server", name, "error", err)
		}
	}

	profiles, err := loadProfiles(ctx, library, cfg)
	if err != nil {
		return nil, err
	}

	vectors, err := rag.NewStore(cfg.Retrieval)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	embedder, err := rag.NewEmbedder(cfg.Retrieval.Embedder)
	if err != nil {
		return nil, err
	}
	retriever, err := rag.NewRetriever(vectors, embedder, rag.RetrieverOptions{
		TopK:       cfg.Retrieval.TopK,
		Candidates: cfg.Retrieval.RerankCandidates,
		Clock:      clk,
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}

	processor, err := attachments.NewProcessor(attachments.Options{
		MaxFileTokens: cfg.Limits.MaxAttachmentTokens,
		MaxTurnTokens: cfg.Limits.MaxTurnAttachmentTokens,
		Logger:        log,
	})
	if err != nil {
		return nil, err
	}

	exec, err := executor.New(executor.Config{
		Sessions:        sessions,
		Profiles:        profiles,
		Library:         library,
		Costs:           costs,
		Providers:       providers,
		Catalog:         catalog,
		Limiter:         limiter,
		Retriever:       retriever,
		Attachments:     processor,
		Clock:           clk,
		Logger:          log,
		HistoryMessages: cfg.Limits.MaxHistoryMessages,
	})
	if err != nil {
		return nil, err
	}

	srv, err := server.New(exec, sessions, server.Options{
		MetricsEnabled: obs.MetricsEnabled(),
		MetricsPath:    obs.MetricsEndpoint(),
		Logger:         log,
	})
	if err != nil {
		return nil, err
	}

	return &engine{
		srv:     srv,
		pool:    pool,
		obs:     obs,
		vectors: vectors,
		catalog: catalog,
		logger:  log,
	}, nil
}

// loadProfiles seeds the in-process registry from persisted profile rows.
// A fresh database gets a default llm-only profile on the first configured
// provider so the engine is usable before any profile is saved.
func loadProfiles(ctx context.Context, library profile.Library, cfg *config.Config) (*profile.Registry, error) {
	stored, err := library.Profiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}
	if len(stored) == 0 && len(cfg.Providers) > 0 {
		names := make([]string, 0, len(cfg.Providers))
		for name := range cfg.Providers {
			names = append(names, name)
		}
		sort.Strings(names)
		def := &profile.Profile{
			Tag:      "default",
			Type:     profile.TypeLLMOnly,
			Provider: names[0],
			Model:    cfg.Providers[names[0]].DefaultModel,
		}
		if err := library.SaveProfile(ctx, def); err != nil {
			return nil, fmt.Errorf("failed to save default profile: %w", err)
		}
		stored = append(stored, def)
	}
	return profile.NewRegistry(stored...)
}

// observabilityConfig maps the YAML section onto the observability package's
// own config shape.
func observabilityConfig(cfg *config.ObservabilityConfig) observability.Config {
	out := observability.Config{
		Tracing: observability.TracingConfig{
			Enabled:     cfg.Tracing.Enabled,
			Exporter:    cfg.Tracing.Exporter,
			Endpoint:    cfg.Tracing.Endpoint,
			ServiceName: cfg.ServiceName,
		},
		Metrics: observability.MetricsConfig{},
	}
	if cfg.Tracing.SampleRate != nil {
		out.Tracing.SamplingRate = *cfg.Tracing.SampleRate
	}
	insecure := cfg.Tracing.Insecure
	out.Tracing.Insecure = &insecure
	if cfg.Metrics != nil {
		out.Metrics.Enabled = *cfg.Metrics
	}
	return out
}
