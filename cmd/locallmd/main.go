// Command locallmd runs the model lifecycle daemon: a durable catalog,
// resumable hub downloads, and load/unload orchestration against an external
// inference runtime.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"locallm/internal/backend"
	"locallm/internal/catalog"
	"locallm/internal/config"
	"locallm/internal/download"
	"locallm/internal/httpapi"
	"locallm/internal/hub"
	"locallm/internal/manager"
	"locallm/internal/service"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		modelsDir  string
		backendURL string
	)
	root := &cobra.Command{
		Use:           "locallmd",
		Short:         "Model lifecycle daemon: catalog, downloads and load management",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = os.Getenv("LOCALLM_CONFIG")
			}
			var cfg config.Config
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if addr != "" {
				cfg.Addr = addr
			}
			if modelsDir != "" {
				cfg.ModelsDir = modelsDir
			}
			if backendURL != "" {
				cfg.Backend.BaseURL = backendURL
			}
			cfg.ApplyDefaults()
			return run(cmd.Context(), cfg)
		},
	}
	serve.Flags().StringVarP(&configPath, "config", "c", "", "Config file (.yaml, .json or .toml)")
	serve.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides config)")
	serve.Flags().StringVar(&modelsDir, "models-dir", "", "Model storage directory (overrides config)")
	serve.Flags().StringVar(&backendURL, "backend-url", "", "Inference runtime base URL (overrides config)")
	version := &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("locallmd " + buildVersion())
		},
	}
	root.AddCommand(serve, version)
	return root
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "(devel)"
}

func run(ctx context.Context, cfg config.Config) error {
	log := newLogger(cfg.Log.Level)

	modelsDir, dataDir, err := cfg.EnsureDirs()
	if err != nil {
		return err
	}

	store, err := catalog.Open(catalog.Options{
		Dir:    filepath.Join(dataDir, "catalog"),
		Logger: log.With().Str("component", "catalog").Logger(),
	})
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.EnsureSeeded(catalog.Seed()); err != nil {
		return err
	}
	if err := store.Scan(modelsDir); err != nil {
		return err
	}

	tracker := download.NewTracker(cfg.JobRetention(), log.With().Str("component", "tracker").Logger())
	orch := download.NewOrchestrator(
		hub.New(cfg.Hub.BaseURL, cfg.Hub.Token),
		store,
		tracker,
		download.Options{
			ModelsDir:   modelsDir,
			Resume:      cfg.ResumeEnabled(),
			MaxRetries:  cfg.Download.MaxRetries,
			Concurrency: cfg.Download.Concurrency,
			Logger:      log.With().Str("component", "download").Logger(),
		},
	)
	defer orch.Close()

	runtime := backend.New(cfg.Backend.BaseURL, cfg.CallTimeout())
	mgr := manager.New(runtime, store, manager.Options{
		MaxLoadedModels: cfg.Limits.MaxLoadedModels,
		MaxMemoryBytes:  cfg.MaxMemoryBytes(),
		Logger:          log.With().Str("component", "manager").Logger(),
	})

	svc := service.New(service.Options{
		Store:     store,
		Tracker:   tracker,
		Orch:      orch,
		Manager:   mgr,
		Runtime:   runtime,
		ModelsDir: modelsDir,
		Logger:    log.With().Str("component", "service").Logger(),
	})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Adopt whatever the runtime already holds before serving traffic.
	if err := mgr.Reconcile(ctx); err != nil {
		log.Warn().Err(err).Msg("initial runtime reconcile failed")
	}
	go tracker.Run(ctx)
	go mgr.Run(ctx, cfg.ReconcileInterval())

	srv := &http.Server{Addr: cfg.Addr, Handler: httpapi.NewMux(svc, log)}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("models_dir", modelsDir).Msg("locallmd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	return nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}
