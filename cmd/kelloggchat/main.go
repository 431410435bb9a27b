// Command kelloggchat runs the portfolio chat gateway: a defense-in-depth
// inference pipeline in front of locally hosted language models.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/sefton37/kelloggchat/internal/backend"
	"github.com/sefton37/kelloggchat/internal/config"
	"github.com/sefton37/kelloggchat/internal/contextreg"
	"github.com/sefton37/kelloggchat/internal/convstore"
	"github.com/sefton37/kelloggchat/internal/inbox"
	"github.com/sefton37/kelloggchat/internal/observe"
	"github.com/sefton37/kelloggchat/internal/pipeline"
	"github.com/sefton37/kelloggchat/internal/ratelimit"
	"github.com/sefton37/kelloggchat/internal/reqlog"
	"github.com/sefton37/kelloggchat/internal/server"
	"github.com/sefton37/kelloggchat/pkg/provider/embeddings"
	embollama "github.com/sefton37/kelloggchat/pkg/provider/embeddings/ollama"
	"github.com/sefton37/kelloggchat/pkg/provider/llm"
	"github.com/sefton37/kelloggchat/pkg/provider/llm/anyllm"
	"github.com/sefton37/kelloggchat/pkg/provider/llm/oai"
)

// Maintenance cadences for the background sweepers and the backend probe.
const (
	sweepInterval = time.Minute
	probeInterval = 30 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ───────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "kelloggchat: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "kelloggchat: %v\n", err)
		}
		return 1
	}

	// ── Logger ───────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("kelloggchat starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"llm_provider", cfg.Providers.LLM.Name,
		"generator", cfg.Models.Generator,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Metrics ──────────────────────────────────────────────────────────
	var metrics *observe.Metrics
	if cfg.MetricsEnabled {
		shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "kelloggchat"})
		if err != nil {
			slog.Error("failed to initialise metrics", "err", err)
			return 1
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				slog.Error("metrics shutdown error", "err", err)
			}
		}()
		m, err := observe.NewMetrics(otel.GetMeterProvider())
		if err != nil {
			slog.Error("failed to create metric instruments", "err", err)
			return 1
		}
		metrics = m
	} else {
		metrics = observe.NewNoopMetrics()
	}

	// ── Model backend ────────────────────────────────────────────────────
	chatProvider, err := buildChatProvider(cfg.Providers.LLM)
	if err != nil {
		slog.Error("failed to build LLM provider", "err", err)
		return 1
	}
	embProvider, err := buildEmbeddingsProvider(cfg.Providers.Embeddings)
	if err != nil {
		slog.Error("failed to build embeddings provider", "err", err)
		return 1
	}
	be := backend.New(chatProvider, embProvider, cfg.Models.MaxInflight, cfg.Models.Classifier)

	// ── Context registry ─────────────────────────────────────────────────
	registry, err := contextreg.NewProvider(cfg.Context.DocsDir)
	if err != nil {
		slog.Error("failed to load context documents", "err", err)
		return 1
	}
	slog.Info("context registry loaded", "domains", registry.Current().Domains())

	// ── Stores and sinks ─────────────────────────────────────────────────
	store := convstore.New(convstore.Config{
		MaxTurns:         cfg.Conversation.MaxTurns,
		TTL:              time.Duration(cfg.Conversation.TTLSeconds) * time.Second,
		MaxConversations: cfg.Conversation.MaxConversations,
	})
	limiter := ratelimit.New(ratelimit.Limits{
		PerMinute:       cfg.Limits.PerIPPerMinute,
		PerHour:         cfg.Limits.PerIPPerHour,
		GlobalPerMinute: cfg.Limits.GlobalPerMinute,
	})
	ib, err := inbox.New(cfg.Inbox.Dir)
	if err != nil {
		slog.Error("failed to open inbox", "err", err)
		return 1
	}
	logWriter, err := reqlog.Open(cfg.RequestLog.Path)
	if err != nil {
		slog.Error("failed to open request log", "err", err)
		return 1
	}
	defer logWriter.Close()

	// ── Pipeline ─────────────────────────────────────────────────────────
	gw, err := pipeline.NewGateway(cfg.Limits.IPHashSalt, cfg.Limits.MaxInputLength, cfg.Server.TrustedProxies)
	if err != nil {
		slog.Error("invalid gateway configuration", "err", err)
		return 1
	}
	orch := pipeline.New(pipeline.Deps{
		Gateway:  gw,
		Limiter:  limiter,
		Backend:  be,
		Registry: registry,
		Store:    store,
		Tools:    pipeline.NewToolExecutor(ib),
		Log:      logWriter,
		Metrics:  metrics,
		Models: pipeline.Models{
			Classifier: cfg.Models.Classifier,
			Router:     cfg.Models.Router,
			Generator:  cfg.Models.Generator,
			Verifier:   cfg.Models.Verifier,
		},
		Budgets: pipeline.DefaultBudgets(time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second),
		Limits: pipeline.Limits{
			MaxInputLength:   cfg.Limits.MaxInputLength,
			MaxHistoryTokens: cfg.Conversation.MaxHistoryTokens,
			MaxContextTokens: cfg.Context.MaxContextTokens,
		},
		GroundingThreshold: cfg.Safety.GroundingThreshold,
	})

	// ── HTTP server and background loops ─────────────────────────────────
	srv := server.New(server.Config{
		MaxRequestSize: int64(cfg.Limits.MaxRequestSize),
		AdminToken:     cfg.Server.AdminToken,
		MetricsEnabled: cfg.MetricsEnabled,
		ReqLogPath:     cfg.RequestLog.Path,
	}, orch, be, ib, metrics)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx, cfg.Server.ListenAddr) })
	g.Go(func() error {
		be.RunProbe(gctx, probeInterval)
		return nil
	})
	g.Go(func() error {
		runSweeper(gctx, store, limiter)
		return nil
	})
	if cfg.Context.ReloadSeconds > 0 {
		g.Go(func() error {
			registry.Watch(gctx, time.Duration(cfg.Context.ReloadSeconds)*time.Second)
			return nil
		})
	}

	slog.Info("server ready", "addr", cfg.Server.ListenAddr)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// runSweeper proactively evicts expired conversations and idle rate-limit
// keys; expired conversations are also dropped lazily on access.
func runSweeper(ctx context.Context, store *convstore.Store, limiter *ratelimit.Limiter) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := store.Sweep(); n > 0 {
				slog.Debug("swept expired conversations", "count", n)
			}
			limiter.Sweep()
		}
	}
}

// buildChatProvider constructs the configured chat backend.
func buildChatProvider(entry config.ProviderEntry) (llm.Provider, error) {
	switch entry.Name {
	case "openai":
		opts := []oai.Option{}
		if entry.BaseURL != "" {
			opts = append(opts, oai.WithBaseURL(entry.BaseURL))
		}
		if entry.APIKey != "" {
			opts = append(opts, oai.WithAPIKey(entry.APIKey))
		}
		return oai.New(opts...), nil
	default:
		opts := []anyllmlib.Option{}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		return anyllm.New(entry.Name, opts...)
	}
}

// buildEmbeddingsProvider constructs the optional embeddings backend.
// Returns nil when none is configured.
func buildEmbeddingsProvider(entry config.ProviderEntry) (embeddings.Provider, error) {
	if entry.Name == "" {
		return nil, nil
	}
	return embollama.New(entry.BaseURL, entry.Model, embollama.WithTimeout(15*time.Second))
}

// newLogger builds the process logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
