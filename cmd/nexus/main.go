package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/pysugar/ami-nexus/internal/config"
	"github.com/pysugar/ami-nexus/internal/db"
	"github.com/pysugar/ami-nexus/internal/db/models"
	"github.com/pysugar/ami-nexus/internal/proxy"
	"github.com/pysugar/ami-nexus/internal/proxy/handlers"
	"github.com/pysugar/ami-nexus/internal/proxy/middleware"
	"github.com/pysugar/ami-nexus/internal/proxy/monitor"
	"github.com/pysugar/ami-nexus/internal/upstream"
	"github.com/pysugar/ami-nexus/internal/upstream/ami"
	"github.com/pysugar/ami-nexus/internal/upstream/bedrock"
	"github.com/pysugar/ami-nexus/internal/upstream/codex"
	"github.com/pysugar/ami-nexus/internal/upstream/digitalocean"
	"github.com/pysugar/ami-nexus/internal/version"
)

func main() {
	configPath := flag.String("config", "nexus.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ami-nexus %s (commit %s, built %s)\n", version.Version, version.Commit, version.BuildTime)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	retry := upstream.RetryPolicy{
		MaxRetries:  cfg.Retry.MaxRetries,
		BackoffStep: cfg.Retry.BackoffStep(),
		BackoffCap:  cfg.Retry.BackoffCap(),
	}
	classifier := upstream.NewFatalClassifier(cfg.FatalPhrases)

	// Provider adapters
	toolRoot, _ := os.Getwd()
	executor := ami.NewToolExecutor(toolRoot)
	bridges := ami.NewBridgePool(cfg.Provider(models.ProviderAmi).BridgeURL, executor)
	amiProvider := ami.New(database, cfg.Provider(models.ProviderAmi), retry, classifier, bridges)
	doProvider := digitalocean.New(cfg.Provider(models.ProviderDigitalOcean), retry)
	bedrockProvider := bedrock.New(cfg.Provider(models.ProviderBedrock))
	codexTokens := codex.NewTokenSource(database)
	codexProvider := codex.New(cfg.Provider(models.ProviderCodex), codexTokens, retry, classifier)

	dispatcher := proxy.NewDispatcher(database, cfg.SelectionPolicy, cfg.DeactivateOnFatal,
		amiProvider, doProvider, bedrockProvider, codexProvider)
	mon := monitor.NewProxyMonitor(database)
	loginFlow := codex.NewLoginFlow(database)

	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Optional admin auth middleware
	adminPassword := os.Getenv("NEXUS_ADMIN_PASSWORD")
	optionalAdminAuth := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if adminPassword == "" {
				next.ServeHTTP(w, r)
				return
			}
			_, pass, ok := r.BasicAuth()
			if !ok || pass != adminPassword {
				w.Header().Set("WWW-Authenticate", `Basic realm="Nexus Admin"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}

	// Admin API (protected if NEXUS_ADMIN_PASSWORD is set)
	r.Route("/api", func(r chi.Router) {
		r.Use(optionalAdminAuth)

		// Credential pool management
		r.Get("/credentials", handlers.CredentialsListHandler(database))
		r.Post("/credentials", handlers.CreateCredentialHandler(database))
		r.Delete("/credentials/{id}", handlers.DeleteCredentialHandler(database))
		r.Post("/credentials/{id}/activate", handlers.SetCredentialActiveHandler(database, true))
		r.Post("/credentials/{id}/deactivate", handlers.SetCredentialActiveHandler(database, false))
		r.Post("/credentials/{id}/reset", handlers.ResetCountersHandler(database))
		r.Post("/credentials/{id}/test", handlers.TestCredentialHandler(dispatcher))

		// Codex OAuth login
		r.Post("/codex/login", handlers.CodexLoginHandler(loginFlow))

		// Local credential discovery
		r.Get("/discovery/scan", handlers.DiscoveryScanHandler())
		r.Post("/discovery/import", handlers.DiscoveryImportHandler(database))

		// Model routes
		r.Get("/model-routes", handlers.ModelRoutesListHandler(database))
		r.Post("/model-routes", handlers.SaveModelRouteHandler(database))
		r.Delete("/model-routes/{id}", handlers.DeleteModelRouteHandler(database))

		// Ami daemon bridges
		r.Post("/bridges/{id}/start", handlers.BridgeStartHandler(database, bridges))
		r.Post("/bridges/{id}/stop", handlers.BridgeStopHandler(bridges))

		// Inference API key management
		r.Get("/config/apikey", handlers.GetAPIKeyHandler(database))
		r.Post("/config/apikey/regenerate", handlers.RegenerateAPIKeyHandler(database))

		// Request monitor
		r.Get("/monitor/logs", handlers.MonitorLogsHandler(mon))
		r.Get("/monitor/stats", handlers.MonitorStatsHandler(mon))
		r.Post("/monitor/enable", handlers.MonitorEnableHandler(mon, true))
		r.Post("/monitor/disable", handlers.MonitorEnableHandler(mon, false))
		r.Post("/monitor/clear", handlers.MonitorClearHandler(mon))
	})

	// Inference API (API key required)
	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(database))
		r.Post("/messages", handlers.ClaudeMessagesHandler(dispatcher, mon))
		r.Post("/chat/completions", handlers.OpenAIChatHandler(dispatcher, mon))
		r.Get("/models", handlers.ModelsListHandler())
	})

	server := &http.Server{Addr: cfg.Listen, Handler: r}

	go func() {
		log.Printf("🚀 ami-nexus %s starting on http://%s", version.Version, cfg.Listen)
		log.Printf("🔌 Anthropic API: http://%s/v1/messages", cfg.Listen)
		log.Printf("🔌 OpenAI API: http://%s/v1/chat/completions", cfg.Listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Printf("⏳ shutting down")
	bridges.StopAll()
	loginFlow.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️ shutdown: %v", err)
	}
	log.Printf("✅ stopped")
}
