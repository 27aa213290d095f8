package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fittalk-gateway/internal/config"
	"fittalk-gateway/internal/database"
	"fittalk-gateway/internal/gateway"
	"fittalk-gateway/internal/handlers"
	"fittalk-gateway/internal/metrics"
	"fittalk-gateway/internal/middleware"
	"fittalk-gateway/internal/oauth"
	"fittalk-gateway/internal/provider"
	"fittalk-gateway/internal/reconciler"
	"fittalk-gateway/internal/worker"
)

func main() {
	createSub := flag.Bool("create-subscription", false, "Register the webhook subscription and exit")
	listSubs := flag.Bool("list-subscriptions", false, "List webhook subscriptions and exit")
	deleteSub := flag.Int64("delete-subscription", 0, "Delete the webhook subscription with the given id and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	client := provider.NewClient(cfg)

	if *createSub || *listSubs || *deleteSub != 0 {
		runSubscriptionCommand(cfg, client, *createSub, *listSubs, *deleteSub)
		return
	}

	runServer(cfg, client)
}

func setupLogger(level string) {
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

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
}

// runSubscriptionCommand manages the provider webhook subscription. The
// create flow requires the server to already be reachable at the public
// domain: the provider verifies the callback URL before confirming.
func runSubscriptionCommand(cfg *config.Config, client *provider.Client, create, list bool, deleteID int64) {
	logger := slog.Default()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch {
	case create:
		if cfg.Domain == "" {
			logger.Error("DOMAIN must be set to create a subscription")
			os.Exit(1)
		}
		callbackURL := fmt.Sprintf("https://%s/webhook-callback", cfg.Domain)
		sub, err := client.CreateSubscription(ctx, callbackURL, cfg.StravaVerifyToken)
		if err != nil {
			logger.Error("Failed to create subscription", "error", err)
			os.Exit(1)
		}
		logger.Info("Subscription created", "id", sub.ID, "callback_url", callbackURL)

	case list:
		subs, err := client.ListSubscriptions(ctx)
		if err != nil {
			logger.Error("Failed to list subscriptions", "error", err)
			os.Exit(1)
		}
		if len(subs) == 0 {
			logger.Info("No subscriptions registered")
			return
		}
		for _, sub := range subs {
			logger.Info("Subscription",
				"id", sub.ID,
				"callback_url", sub.CallbackURL,
				"created_at", sub.CreatedAt)
		}

	case deleteID != 0:
		if err := client.DeleteSubscription(ctx, deleteID); err != nil {
			logger.Error("Failed to delete subscription", "id", deleteID, "error", err)
			os.Exit(1)
		}
		logger.Info("Subscription deleted", "id", deleteID)
	}
}

func runServer(cfg *config.Config, client *provider.Client) {
	logger := slog.Default()

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	tokens := oauth.NewTokenManager(db, client)
	manager := oauth.NewManager(cfg, db, client)
	rec := reconciler.New(db)
	executor := gateway.NewExecutor(db, cfg.QueryTimeout)

	webhookHandler := handlers.NewWebhookHandler(cfg, db, rec, tokens, client)
	queryHandler := handlers.NewQueryHandler(cfg, executor)
	oauthHandler := handlers.NewOAuthHandler(manager)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go worker.New(db, tokens, client, rec).Start(ctx)

	if cfg.MetricsEnabled {
		go metrics.StartQueueDepthCollector(ctx, db, 15*time.Second)
		go runMetricsServer(cfg, logger)
	}

	mux := http.NewServeMux()
	mux.Handle("/oauth-start", middleware.WrapHandler(metrics.EndpointOAuthStart, oauthHandler.HandleStart))
	mux.Handle("/oauth-callback", middleware.WrapHandler(metrics.EndpointOAuthCallback, oauthHandler.HandleCallback))
	mux.Handle("/webhook-callback", middleware.WrapHandler(metrics.EndpointWebhook, webhookHandler.Handle))
	mux.Handle("/query", middleware.WrapHandler(metrics.EndpointQuery, queryHandler.Handle))
	mux.Handle("/health", middleware.WrapHandler(metrics.EndpointHealth, func(w http.ResponseWriter, r *http.Request) {
		if err := db.Health(); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("Server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Shutting down", "signal", sig.String())

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", "error", err)
	}
}

func runMetricsServer(cfg *config.Config, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf("%s:%d", cfg.MetricsHost, cfg.MetricsPort)
	logger.Info("Metrics server starting", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("Metrics server failed", "error", err)
	}
}
