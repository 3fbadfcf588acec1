package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Volpestyle/vuhlp-code/internal/agent"
	"github.com/Volpestyle/vuhlp-code/internal/api"
	"github.com/Volpestyle/vuhlp-code/internal/config"
	"github.com/Volpestyle/vuhlp-code/internal/kit"
	"github.com/Volpestyle/vuhlp-code/internal/observability"
	"github.com/Volpestyle/vuhlp-code/internal/store"
)

const shutdownTimeout = 10 * time.Second

func buildServeCmd() *cobra.Command {
	var (
		flagListen  string
		flagDataDir string
		flagAuth    string
		flagConfig  string
		flagDebug   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the harness daemon",
		Long: `Start the harness daemon with the run engine, session engine, and HTTP API.

Configuration is resolved in order: defaults, config file, HARNESS_*
environment variables, then flags. Graceful shutdown is handled on
SIGINT/SIGTERM.`,
		Example: `  # Start with defaults (127.0.0.1:8787, ~/.agent-harness)
  agentd serve

  # Start with a bearer token
  agentd serve --auth-token s3cret`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(serveOptions{
				Listen:     flagListen,
				DataDir:    flagDataDir,
				AuthToken:  flagAuth,
				ConfigPath: flagConfig,
				Debug:      flagDebug,
			})
		},
	}

	cmd.Flags().StringVar(&flagListen, "listen", "", "listen address (default 127.0.0.1:8787)")
	cmd.Flags().StringVar(&flagDataDir, "data-dir", "", "data directory (default ~/.agent-harness)")
	cmd.Flags().StringVar(&flagAuth, "auth-token", "", "auth token (Bearer); if set, required for all requests")
	cmd.Flags().StringVar(&flagConfig, "config", "", "optional JSON config file (or HARNESS_CONFIG)")
	cmd.Flags().BoolVarP(&flagDebug, "debug", "d", false, "enable debug logging")

	return cmd
}

type serveOptions struct {
	Listen     string
	DataDir    string
	AuthToken  string
	ConfigPath string
	Debug      bool
}

func runServe(opts serveOptions) error {
	level := "info"
	if opts.Debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{Level: level, Format: "json"})
	slog.SetDefault(logger)

	cfg := resolveConfig(opts, logger)

	settingsPath := filepath.Join(cfg.DataDir, "settings.json")
	if settings, existed, err := config.LoadSettings(settingsPath); err != nil {
		logger.Warn("failed to load settings", "path", settingsPath, "err", err)
	} else if existed {
		cfg.ModelPolicy = settings.ModelPolicy
	}

	st := store.New(cfg.DataDir)
	if err := st.Init(); err != nil {
		return err
	}

	k := kitFromEnv(logger)
	metrics := observability.NewMetrics()

	runner := agent.NewRunner(st, k, cfg.ModelPolicy, logger)
	runner.SetMetrics(metrics)
	sessionRunner := agent.NewSessionRunner(st, k, cfg.ModelPolicy, logger)
	sessionRunner.SetMetrics(metrics)
	specGen := agent.NewSpecGenerator(k, cfg.ModelPolicy)
	modelSvc := agent.NewModelService(k, cfg.ModelPolicy, settingsPath, runner, sessionRunner, logger)

	srv := &api.Server{
		Logger:        logger,
		Store:         st,
		Runner:        runner,
		SessionRunner: sessionRunner,
		SpecGen:       specGen,
		ModelSvc:      modelSvc,
		AuthToken:     cfg.AuthToken,
		Metrics:       metrics,
	}

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("agentd listening", "addr", cfg.ListenAddr, "data_dir", cfg.DataDir)
		if cfg.AuthToken != "" {
			logger.Info("auth enabled", "mode", "bearer")
		}
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-stop:
	}
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpSrv.Shutdown(ctx)
}

// resolveConfig layers the config sources: defaults, then file, then
// environment for fields the file left empty, then flags on top.
func resolveConfig(opts serveOptions, logger *slog.Logger) config.Config {
	cfg := config.Default()

	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = os.Getenv("HARNESS_CONFIG")
	}
	if configPath != "" {
		if loaded, err := config.LoadFromFile(configPath); err == nil {
			cfg = loaded
		} else {
			logger.Warn("failed to load config file", "path", configPath, "err", err)
		}
	}

	cfg.ApplyEnv()

	if opts.Listen != "" {
		cfg.ListenAddr = opts.Listen
	}
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	if opts.AuthToken != "" {
		cfg.AuthToken = opts.AuthToken
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = config.Default().ListenAddr
	}
	if cfg.DataDir == "" {
		cfg.DataDir = config.Default().DataDir
	}
	cfg.ExpandHome()
	return cfg
}

// kitFromEnv builds the provider kit from API keys in the environment.
// Providers without keys are skipped; an empty kit still serves the
// API, but runs and turns fail at model resolution.
func kitFromEnv(logger *slog.Logger) *kit.Kit {
	var providers []kit.Provider

	if key := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); key != "" {
		provider, err := kit.NewAnthropicProvider(key)
		if err != nil {
			logger.Warn("anthropic provider init failed", "err", err)
		} else {
			providers = append(providers, provider)
		}
	}
	if key := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); key != "" {
		provider, err := kit.NewOpenAIProvider(key)
		if err != nil {
			logger.Warn("openai provider init failed", "err", err)
		} else {
			providers = append(providers, provider)
		}
	}

	k := kit.New(providers...)
	if !k.HasProviders() {
		logger.Warn("no provider keys configured; set ANTHROPIC_API_KEY or OPENAI_API_KEY")
	}
	return k
}
