package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kart-io/logger"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kart-io/memory-mcp/internal/mcpserver"
	"github.com/kart-io/memory-mcp/internal/memory/config"
	"github.com/kart-io/memory-mcp/internal/memory/engine"
	"github.com/kart-io/memory-mcp/internal/memory/maintenance"
	"github.com/kart-io/memory-mcp/internal/memory/oplog"
	"github.com/kart-io/memory-mcp/internal/memory/persona"
	"github.com/kart-io/memory-mcp/internal/memory/relational"
	"github.com/kart-io/memory-mcp/internal/memory/search"
	"github.com/kart-io/memory-mcp/internal/metrics"
)

// Serve boots every component described by cfg and blocks until the
// process receives SIGINT/SIGTERM, then shuts down in dependency order.
// Modeled on sentinel-x/internal/rag's numbered Run steps, collapsed to
// this service's own component graph.
func Serve(cfg config.Config, configPath string) error {
	if err := os.MkdirAll(cfg.DataRoot, 0o755); err != nil {
		return fmt.Errorf("create data root %s: %w", cfg.DataRoot, err)
	}

	logFile, err := oplog.Open(filepath.Join(cfg.DataRoot, "logs", "operations.log"))
	if err != nil {
		return fmt.Errorf("open operation log: %w", err)
	}
	defer func() {
		if err := logFile.Close(); err != nil {
			logger.Errorf("app: closing operation log: %v", err)
		}
	}()

	embedder := buildEmbedder(cfg)
	reranker := buildReranker(cfg)
	logger.Infof("app: embedder=%T reranker=%T", embedder, reranker)

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Warnf("app: unknown timezone %q, defaulting to UTC: %v", cfg.Timezone, err)
		loc = time.UTC
	}

	factory := buildFactory(cfg, embedder)
	registry := persona.NewRegistry(factory)
	defer func() {
		if err := registry.Close(); err != nil {
			logger.Errorf("app: closing persona registry: %v", err)
		}
	}()

	pipeline := search.NewPipeline(embedder, reranker, loc)
	eng := engine.New(registry, pipeline, embedder, logFile, 10)

	promReg := prometheus.NewRegistry()
	metricsReg := metrics.NewRegistry(promReg)

	sink := maintenance.NewFileSuggestionSink(cfg.DataRoot)
	workers := maintenance.New(registry, eng, embedder, maintenance.RebuildConfig{
		Mode:        maintenance.RebuildMode(cfg.VectorRebuild.Mode),
		IdleSeconds: cfg.RebuildIdleSeconds(),
		MinInterval: cfg.RebuildMinInterval(),
	}, maintenance.CleanupConfig{
		Enabled:               cfg.AutoCleanup.Enabled,
		IdleMinutes:           cfg.CleanupIdleMinutes(),
		CheckInterval:         cfg.CleanupCheckInterval(),
		DuplicateThreshold:    cfg.AutoCleanup.DuplicateThreshold,
		MinSimilarityToReport: cfg.AutoCleanup.MinSimilarityToReport,
		MaxSuggestionsPerRun:  cfg.AutoCleanup.MaxSuggestionsPerRun,
	}, sink)
	workers.Metrics = metricsReg

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go workers.Run(ctx)
	logger.Infof("app: maintenance workers started (rebuild mode=%s, cleanup enabled=%v)",
		cfg.VectorRebuild.Mode, cfg.AutoCleanup.Enabled)

	if configPath != "" {
		watcher := config.NewWatcher(configPath)
		watcher.Subscribe("auto_cleanup", config.ReloadableSubscriber{
			Name: "auto_cleanup",
			Target: func(c config.Config) {
				logger.Infof("app: config reload: auto_cleanup.enabled=%v", c.AutoCleanup.Enabled)
			},
		}.Handler())
		if err := watcher.Start(); err != nil {
			logger.Warnf("app: config file watch disabled: %v", err)
		}
	}

	srv := mcpserver.New(eng, metricsReg)

	addr := fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort)
	httpServer := &http.Server{Addr: addr, Handler: srv}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("app: memory-mcp listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Infof("app: shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

// Migrate opens every on-disk persona's relational store (or just
// personaName, if non-empty), which runs the schema migration as a side
// effect of Open, then closes it. Used by the `migrate` CLI subcommand to
// bring data directories created by an older binary up to date without
// starting the full service.
func Migrate(cfg config.Config, personaName string) error {
	names, err := personaNames(cfg.DataRoot, personaName)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		logger.Infof("app: no persona data directories found under %s", cfg.DataRoot)
		return nil
	}

	for _, name := range names {
		store, err := relational.Open(name, persona.SQLitePath(cfg.DataRoot, name))
		if err != nil {
			return fmt.Errorf("migrate persona %q: %w", name, err)
		}
		if err := store.Close(); err != nil {
			logger.Warnf("app: closing store for persona %q: %v", name, err)
		}
		logger.Infof("app: migrated persona %q", name)
	}
	return nil
}

func personaNames(dataRoot, explicit string) ([]string, error) {
	if explicit != "" {
		return []string{persona.Sanitize(explicit)}, nil
	}

	root := filepath.Join(dataRoot, "memory")
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list persona directories: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
