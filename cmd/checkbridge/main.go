package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	bambooadapter "github.com/checkbridge/checkbridge/internal/adapter/driven/bamboo"
	githubadapter "github.com/checkbridge/checkbridge/internal/adapter/driven/github"
	"github.com/checkbridge/checkbridge/internal/adapter/driven/notify"
	sqliteadapter "github.com/checkbridge/checkbridge/internal/adapter/driven/sqlite"
	httphandler "github.com/checkbridge/checkbridge/internal/adapter/driving/http"
	"github.com/checkbridge/checkbridge/internal/application"
	"github.com/checkbridge/checkbridge/internal/config"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on missing required env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"backend_url", cfg.BackendURL,
		"default_plan", cfg.DefaultPlan,
		"poll_interval", cfg.PollInterval,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 5. Wire stores.
	prStore := sqliteadapter.NewPullRequestRepo(db)
	suiteStore := sqliteadapter.NewCheckSuiteRepo(db)
	stageStore := sqliteadapter.NewStageRepo(db)
	configStore := sqliteadapter.NewStageConfigRepo(db)
	jobStore := sqliteadapter.NewJobRepo(db)
	auditStore := sqliteadapter.NewAuditRepo(db)

	// 6. Seed stage configurations from the definition file, if any.
	if cfg.StageDefinitions != "" {
		definitions, err := application.LoadStageDefinitions(cfg.StageDefinitions)
		if err != nil {
			return err
		}
		if err := application.SeedStageConfigurations(ctx, configStore, definitions); err != nil {
			return err
		}
		slog.Info("stage configurations seeded", "path", cfg.StageDefinitions, "count", len(definitions))
	}

	// 7. Wire external adapters.
	backend := bambooadapter.NewClient(cfg.BackendURL, cfg.BackendToken, slog.Default())
	sink := githubadapter.NewSink(cfg.GitHubToken)
	notifier := notify.NewLogNotifier(slog.Default())

	// 8. Start the fire-and-forget dispatcher.
	dispatcher := application.NewDispatcher(cfg.DispatchWorkers, cfg.DispatchQueue, slog.Default())
	go func() {
		if err := dispatcher.Start(ctx); err != nil {
			slog.Error("dispatcher stopped", "error", err)
		}
	}()

	// 9. Wire application services.
	intakeSvc := application.NewIntakeService(prStore, suiteStore, stageStore, configStore, jobStore,
		backend, sink, notifier, dispatcher, cfg.RepoPlans, cfg.DefaultPlan, slog.Default())
	retrySvc := application.NewRetryService(prStore, suiteStore, stageStore, configStore, jobStore,
		auditStore, backend, sink, notifier, dispatcher, slog.Default())
	summarySvc := application.NewSummaryService(prStore, suiteStore, stageStore, jobStore,
		backend, sink, slog.Default())

	// 10. Create and start the poll service.
	pollSvc := application.NewPollService(prStore, suiteStore, jobStore, backend, sink,
		summarySvc, cfg.PollInterval, slog.Default())
	go pollSvc.Start(ctx)

	// 11. Create HTTP handler and server.
	apiHandler := httphandler.NewHandler(prStore, suiteStore, stageStore, jobStore, auditStore,
		intakeSvc, retrySvc, cfg.WebhookSecret, slog.Default())
	handler := httphandler.NewServeMux(apiHandler, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	slog.Info("checkbridge started", "listen_addr", cfg.ListenAddr)

	// 12. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 13. Graceful shutdown with 10s timeout to drain in-flight deliveries.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
