package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rendis/loom/internal/config"
	"github.com/rendis/loom/internal/engine"
	"github.com/rendis/loom/internal/logging"
	"github.com/rendis/loom/internal/plugins"
	"github.com/rendis/loom/internal/providers"
	"github.com/rendis/loom/internal/registry"
	"github.com/rendis/loom/internal/scheduler"
	"github.com/rendis/loom/internal/secrets"
	"github.com/rendis/loom/internal/server"
	"github.com/rendis/loom/internal/store"
	"github.com/rendis/loom/internal/streaming"
	"github.com/rendis/loom/internal/tools"
	"github.com/rendis/loom/internal/validation"
)

func main() {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("loom exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	providerReg := providers.NewRegistry()
	toolReg := tools.NewRegistry()
	library := registry.NewLibrary()
	hub := streaming.NewMemoryHub()
	pool := engine.NewRunPool(cfg.PoolSize)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	runStore, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = runStore.Close() }()
	if err := runStore.Migrate(ctx); err != nil {
		return err
	}

	executor := engine.New(engine.Config{
		Providers:          providerReg,
		Tools:              toolReg,
		Workflows:          library,
		Logger:             logger,
		MaxAgentIterations: cfg.MaxAgentIterations,
	})

	// The "workflow" tool type runs a workflow from the library, so workflows
	// can expose each other as agent tools.
	workflowRunner := func(ctx context.Context, workflowID, input string, params map[string]any) (string, error) {
		def, err := library.Lookup(workflowID)
		if err != nil {
			return "", err
		}
		return executor.Execute(ctx, def, input, params)
	}
	if err := toolReg.RegisterConstructor("workflow", tools.NewWorkflowConstructor(workflowRunner)); err != nil {
		return err
	}

	sched := scheduler.NewScheduler(&pooledRunner{pool: pool, run: workflowRunner}, logger)

	mcp := plugins.NewManager(toolReg, logger)
	defer func() { _ = mcp.StopAll() }()

	apply := newBundleApplier(providerReg, toolReg, library, sched, logger)

	loader := config.NewLoader(cfg.ConfigDir, logger)
	resolver, err := newSecretsResolver()
	if err != nil {
		return err
	}
	loader.UseResolver(resolver)

	bundle, err := loader.Load()
	if err != nil {
		return err
	}
	if err := apply(bundle); err != nil {
		return err
	}

	for _, sc := range bundle.MCPServers {
		if err := mcp.Load(ctx, sc); err != nil {
			logger.Error("mcp server failed to start",
				slog.String("server", sc.Name), slog.Any("error", err))
		}
	}

	watcher, err := config.NewWatcher(loader, apply, logger)
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = watcher.Stop() }()

	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = sched.Stop() }()

	srv := server.NewServer(server.Deps{
		Executor:  executor,
		Workflows: library,
		Hub:       hub,
		Pool:      pool,
		Store:     runStore,
		Logger:    logger,
	})

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("loom server listening", slog.String("addr", cfg.ListenAddr))
		if serveErr := httpSrv.ListenAndServe(); !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", slog.Any("error", err))
	}
	pool.Shutdown()
	return <-errCh
}

// newSecretsResolver builds the config secret resolver. LOOM_SECRETS_KEY
// holds the base64 encoding of a 32-byte master key; when unset only env:
// references work and enc: values are rejected at load time.
func newSecretsResolver() (*secrets.Resolver, error) {
	encoded := os.Getenv("LOOM_SECRETS_KEY")
	if encoded == "" {
		return secrets.NewResolver(nil), nil
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("LOOM_SECRETS_KEY is not valid base64: %w", err)
	}
	cipher, err := secrets.NewCipher(secrets.Config{MasterKey: key})
	if err != nil {
		return nil, fmt.Errorf("LOOM_SECRETS_KEY: %w", err)
	}
	return secrets.NewResolver(cipher), nil
}

// pooledRunner routes scheduled runs through the shared run pool, so cron
// bursts compete with HTTP traffic for the same slots.
type pooledRunner struct {
	pool *engine.RunPool
	run  func(ctx context.Context, workflowID, input string, params map[string]any) (string, error)
}

func (p *pooledRunner) RunWorkflow(ctx context.Context, workflowID, input string, params map[string]any) (string, error) {
	var result string
	done := make(chan error, 1)
	if err := p.pool.Submit(ctx, func(runCtx context.Context) error {
		out, runErr := p.run(runCtx, workflowID, input, params)
		result = out
		done <- runErr
		return runErr
	}); err != nil {
		return "", err
	}

	select {
	case err := <-done:
		return result, err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// newBundleApplier returns the ApplyFunc shared by startup and hot reload.
// It swaps config-sourced models and tools, validates the workflow set
// against the incoming collaborators, and atomically replaces the library.
func newBundleApplier(
	providerReg *providers.Registry,
	toolReg *tools.Registry,
	library *registry.Library,
	sched *scheduler.Scheduler,
	logger *slog.Logger,
) config.ApplyFunc {
	var prevModels []string
	var prevTools []string

	return func(bundle *config.Bundle) error {
		for _, id := range prevModels {
			_ = providerReg.Remove(id)
		}
		for _, name := range prevTools {
			_ = toolReg.Remove(name)
		}
		prevModels = prevModels[:0]
		prevTools = prevTools[:0]

		for _, mc := range bundle.Models {
			if err := providerReg.Create(mc); err != nil {
				logger.Error("model not registered",
					slog.String("model_id", mc.ModelID), slog.Any("error", err))
				continue
			}
			prevModels = append(prevModels, mc.ModelID)
		}
		for _, tc := range bundle.Tools {
			if err := toolReg.Create(tc); err != nil {
				logger.Error("tool not registered",
					slog.String("tool", tc.Name), slog.Any("error", err))
				continue
			}
			prevTools = append(prevTools, tc.Name)
		}

		// Validate workflows against the incoming sets. MCP tools are
		// registered outside the bundle, so the tool lookup consults the
		// live registry as well.
		workflowIDs := make(map[string]bool, len(bundle.Workflows))
		for _, def := range bundle.Workflows {
			workflowIDs[def.ID] = true
		}

		validator, err := validation.NewWorkflowValidator(
			validation.LookupFunc(func(id string) bool {
				_, gerr := providerReg.Get(id)
				return gerr == nil
			}),
			validation.LookupFunc(func(name string) bool {
				_, gerr := toolReg.Get(name)
				return gerr == nil
			}),
			validation.LookupFunc(func(id string) bool { return workflowIDs[id] }),
		)
		if err != nil {
			return err
		}

		valid := bundle.Workflows[:0:0]
		for _, def := range bundle.Workflows {
			if verr := validator.ValidateDefinition(def); verr != nil {
				logger.Error("workflow rejected",
					slog.String("workflow_id", def.ID), slog.Any("error", verr))
				continue
			}
			valid = append(valid, def)
		}

		if err := library.Replace(valid); err != nil {
			return err
		}
		sched.Sync(valid)

		logger.Info("library applied",
			slog.Int("models", len(prevModels)),
			slog.Int("tools", len(prevTools)),
			slog.Int("workflows", len(valid)))
		return nil
	}
}
