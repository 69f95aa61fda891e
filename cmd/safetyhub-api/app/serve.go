package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	v1 "github.com/safetyhub/safetyhub-server/cmd/safetyhub-api/api/v1"
	"github.com/safetyhub/safetyhub-server/internal/config"
	"github.com/safetyhub/safetyhub-server/internal/coordinator"
	"github.com/safetyhub/safetyhub-server/internal/dispatch"
	"github.com/safetyhub/safetyhub-server/internal/logger"
	"github.com/safetyhub/safetyhub-server/internal/telemetry"
	"github.com/safetyhub/safetyhub-server/internal/usergroups"
	"github.com/safetyhub/safetyhub-server/internal/versions"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the SafetyHub API server",
	Long: `Start the SafetyHub API server to coordinate safety source refreshes and
serve aggregated safety views.

The server requires a configuration file (--config) that specifies:
- The registered safety sources and their dispatch endpoints
- The known users and their managed profiles
- Refresh and resolving action timeouts

See examples/ directory for a sample configuration.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second
	serverReadTimeout      = 10 * time.Second
	// Write timeout is left at zero so the updates stream can stay open.
	serverIdleTimeout = 60 * time.Second
)

func init() {
	serveCmd.Flags().String("address", ":8080", "Address to listen on")
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	serveCmd.Flags().Bool("metrics", true, "Expose Prometheus metrics on /metrics")

	err := viper.BindPFlag("address", serveCmd.Flags().Lookup("address"))
	if err != nil {
		logger.Errorf("Failed to bind address flag: %v", err)
	}
	err = viper.BindPFlag("config", serveCmd.Flags().Lookup("config"))
	if err != nil {
		logger.Errorf("Failed to bind config flag: %v", err)
	}
	err = viper.BindPFlag("metrics", serveCmd.Flags().Lookup("metrics"))
	if err != nil {
		logger.Errorf("Failed to bind metrics flag: %v", err)
	}

	if err := serveCmd.MarkFlagRequired("config"); err != nil {
		logger.Errorf("Failed to mark config flag as required: %v", err)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	address := viper.GetString("address")

	logger.Infof("Starting SafetyHub API server on %s", address)

	configPath := viper.GetString("config")
	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Infof("Loaded configuration from %s (service: %s, sources: %d, users: %d)",
		configPath, cfg.GetServiceName(), len(cfg.Sources), len(cfg.Users))

	groups, err := usergroups.NewResolver(cfg.ProfileGroups())
	if err != nil {
		return fmt.Errorf("failed to build user profile groups: %w", err)
	}

	dispatcher := dispatch.NewHTTPDispatcher(nil)

	var coordinatorOpts []coordinator.Option
	var metricsHandler http.Handler
	if viper.GetBool("metrics") {
		provider, handler, err := telemetry.NewMeterProvider(
			telemetry.WithMeterServiceName(cfg.GetServiceName()),
			telemetry.WithMeterServiceVersion(versions.GetVersionInfo().Version),
		)
		if err != nil {
			return fmt.Errorf("failed to create meter provider: %w", err)
		}
		metrics, err := telemetry.NewCoordinatorMetrics(provider)
		if err != nil {
			return fmt.Errorf("failed to create coordinator metrics: %w", err)
		}
		coordinatorOpts = append(coordinatorOpts, coordinator.WithMetrics(metrics))
		metricsHandler = handler
	}

	svc := coordinator.New(cfg, groups, dispatcher, coordinatorOpts...)
	defer svc.Close()

	serverOpts := []v1.ServerOption{
		v1.WithMiddlewares(
			middleware.RealIP,
			v1.LoggingMiddleware,
		),
	}
	if metricsHandler != nil {
		serverOpts = append(serverOpts, v1.WithMetricsHandler(metricsHandler))
	}
	router := v1.NewServer(svc, serverOpts...)

	server := &http.Server{
		Addr:        address,
		Handler:     router,
		ReadTimeout: serverReadTimeout,
		IdleTimeout: serverIdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("Server listening on %s", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
		return err
	}

	logger.Info("Server shutdown complete")
	return nil
}
