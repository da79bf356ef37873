package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/cloudfence/containment-engine/internal/api"
	"github.com/cloudfence/containment-engine/internal/approval"
	"github.com/cloudfence/containment-engine/internal/cache"
	"github.com/cloudfence/containment-engine/internal/config"
	"github.com/cloudfence/containment-engine/internal/gateway"
	"github.com/cloudfence/containment-engine/internal/metrics"
	"github.com/cloudfence/containment-engine/internal/notify"
	"github.com/cloudfence/containment-engine/internal/secrets"
	"github.com/cloudfence/containment-engine/internal/services"
	"github.com/cloudfence/containment-engine/internal/tokenstore"
	"github.com/cloudfence/containment-engine/internal/utils"
)

func main() {
	var (
		configPath string
		logLevel   string
	)

	root := &cobra.Command{
		Use:   "containment-engine",
		Short: "Quarantines compromised compute resources and gates their restoration behind signed approvals",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			return run(configPath, logLevel)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "Path to configuration file")
	root.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")

	if err := root.Execute(); err != nil {
		slog.Error("containment-engine exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath, logLevel string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting containment-engine", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	kv, err := buildKV(cfg, logger)
	if err != nil {
		return err
	}
	defer kv.Close()
	store := tokenstore.New(kv, cfg.TokenStore.RetentionGrace)

	if cfg.Gateway.BaseURL == "" {
		return errors.New("gateway.baseURL is required")
	}
	gw := gateway.NewControlPlaneClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.Gateway.Timeout, cfg.Gateway.MaxRetries)

	secretProvider, err := buildSecrets(cfg, logger)
	if err != nil {
		return err
	}

	var notifier notify.Publisher = notify.LogPublisher{Logger: logger}
	if cfg.Notify.WebhookURL != "" {
		notifier = notify.NewWebhookPublisher(cfg.Notify.WebhookURL, cfg.Notify.Timeout, cfg.Notify.MaxRetries, logger)
	} else {
		logger.Warn("no notification webhook configured, notifications go to the log only")
	}

	issuer := approval.NewIssuer(logger, store, secretProvider, cfg.Secrets.SigningKeyName, cfg.Approval.TTL, cfg.Approval.BaseURL)
	verifier := approval.NewVerifier(logger, store, secretProvider, cfg.Secrets.SigningKeyName)

	tags := services.TagScheme{
		StatusKey:        cfg.Containment.StatusTagKey,
		PoliciesKey:      cfg.Containment.PoliciesTagKey,
		QuarantinedAtKey: cfg.Containment.QuarantinedAtTagKey,
		RemediationKey:   cfg.Containment.RemediationTagKey,
		QuarantinedValue: cfg.Containment.QuarantinedValue,
		HealthyValue:     cfg.Containment.HealthyValue,
	}

	containment, err := services.NewContainmentService(logger, gw, issuer, notifier, services.ContainmentConfig{
		DenyAllPolicyID:       cfg.Containment.DenyAllPolicyID,
		Tags:                  tags,
		SampleResourcePattern: cfg.Containment.SampleResourcePattern,
		SampleResourceID:      cfg.Containment.SampleResourceID,
	})
	if err != nil {
		return fmt.Errorf("build containment service: %w", err)
	}
	restoration := services.NewRestorationService(logger, gw, notifier, tags)

	server := api.NewServer(cfg.Server, logger, containment, verifier, restoration, notifier)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("api server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("containment-engine stopped")
	return nil
}

// buildKV selects the token-store backend. Memory is for single-instance and
// local development; valkey is required when more than one replica runs.
func buildKV(cfg *config.Config, logger *slog.Logger) (cache.Provider, error) {
	switch cfg.TokenStore.Backend {
	case "", "memory":
		logger.Warn("token store backend is in-memory, tokens do not survive restarts")
		return cache.NewMemoryProvider(), nil
	case "valkey":
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.TokenStore.Addr,
			Username:     cfg.TokenStore.Username,
			Password:     cfg.TokenStore.Password,
			DB:           cfg.TokenStore.DB,
			DialTimeout:  cfg.TokenStore.DialTimeout,
			ReadTimeout:  cfg.TokenStore.ReadTimeout,
			WriteTimeout: cfg.TokenStore.WriteTimeout,
			MaxRetries:   cfg.TokenStore.MaxRetries,
			TLS:          cfg.TokenStore.TLS,
		})
		if err != nil {
			return nil, fmt.Errorf("connect token store: %w", err)
		}
		return provider, nil
	default:
		return nil, fmt.Errorf("unknown token store backend %q", cfg.TokenStore.Backend)
	}
}

// buildSecrets wires the parameter-store client, or a static key from the
// environment when no store is configured.
func buildSecrets(cfg *config.Config, logger *slog.Logger) (secrets.Provider, error) {
	if cfg.Secrets.BaseURL != "" {
		return secrets.NewParameterStoreClient(cfg.Secrets.BaseURL, cfg.Secrets.APIKey, cfg.Secrets.Timeout, cfg.Secrets.MaxRetries), nil
	}
	key := os.Getenv("CONTAINMENT_SIGNING_KEY")
	if key == "" {
		return nil, errors.New("no secrets.baseURL configured and CONTAINMENT_SIGNING_KEY is unset")
	}
	logger.Warn("using static signing key from environment")
	return secrets.Static{cfg.Secrets.SigningKeyName: []byte(key)}, nil
}
