package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mcpfleet/mcpfleet/internal/config"
	"github.com/mcpfleet/mcpfleet/internal/logging"
	"github.com/mcpfleet/mcpfleet/internal/metrics"
	"github.com/mcpfleet/mcpfleet/internal/tracing"
	"github.com/mcpfleet/mcpfleet/pkg/fleet"
)

const shutdownTimeout = 30 * time.Second

var (
	Version   = "v1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// VersionRequestedError is returned when the version flag is set.
type VersionRequestedError struct{}

func (e VersionRequestedError) Error() string {
	return "version requested"
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "mcpfleet",
		Short: "mcpfleet - connection manager for MCP server fleets",
		Long: `mcpfleet maintains long-lived connections to a fleet of MCP servers
over stdio, SSE, and streamable HTTP transports, with circuit breaking,
adaptive heartbeats, and a global tool/resource/prompt index.`,
		RunE: run,
	}

	rootCmd.Flags().StringP("config", "c", "/etc/mcpfleet/mcpfleet.yaml", "Path to configuration file")
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
	rootCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(statsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if err := handleVersionFlag(cmd); err != nil {
		var errVersionRequested VersionRequestedError
		if errors.As(err, &errVersionRequested) {
			return nil
		}

		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := setupLogger(cmd, cfg.Logging)
	if err != nil {
		return err
	}
	defer syncLogger(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		return err
	}

	if err := connectConfiguredServers(ctx, cfg, components.Manager, logger); err != nil {
		logger.Warn("some servers failed to connect at startup", zap.Error(err))
	}

	components.Manager.StartHeartbeat()

	httpServer := startHTTPServer(cfg, components, logger)

	return waitForShutdownAndCleanup(ctx, components, httpServer, logger)
}

type Components struct {
	Manager  *fleet.Manager
	Registry *metrics.Registry
	Tracer   *tracing.OTelTracer
}

func handleVersionFlag(cmd *cobra.Command) error {
	showVersion, err := cmd.Flags().GetBool("version")
	if err != nil {
		return fmt.Errorf("failed to get version flag: %w", err)
	}

	if showVersion {
		fmt.Printf("mcpfleet\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)

		return VersionRequestedError{}
	}

	return nil
}

// setupLogger builds the process logger from the logging section of the
// config file. An explicit --log-level flag overrides the configured
// level.
func setupLogger(cmd *cobra.Command, logCfg config.LoggingConfig) (*zap.Logger, error) {
	if cmd.Flags().Changed("log-level") {
		logLevel, err := cmd.Flags().GetString("log-level")
		if err != nil {
			return nil, fmt.Errorf("failed to get log-level flag: %w", err)
		}

		logCfg.Level = logLevel
	}

	logger, err := initLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return logger, nil
}

func syncLogger(logger *zap.Logger) {
	if syncErr := logger.Sync(); syncErr != nil {
		// Ignore "sync /dev/stderr: invalid argument" error in containers
		if syncErr.Error() != "sync /dev/stderr: invalid argument" &&
			syncErr.Error() != "sync /dev/stdout: invalid argument" {
			fmt.Fprintf(os.Stderr, "Failed to sync logger: %v\n", syncErr)
		}
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	logger.Info("Initializing fleet components")

	registry := metrics.InitializeMetricsRegistry()

	tracer, err := tracing.InitOTelTracer(cfg.Tracing, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	var httpWrap func(*http.Client) *http.Client
	if cfg.Tracing.Enabled {
		httpWrap = tracer.HTTPClient
	}

	manager := fleet.NewManager(cfg.Manager, logger, registry, httpWrap)
	if cfg.Tracing.Enabled {
		manager.SetTracer(tracer)
	}

	return &Components{
		Manager:  manager,
		Registry: registry,
		Tracer:   tracer,
	}, nil
}

// connectConfiguredServers adds every configured server. A server that
// fails all its connect attempts stays registered for heartbeat-driven
// reconnection, so startup proceeds past individual failures.
func connectConfiguredServers(ctx context.Context, cfg *config.Config, manager *fleet.Manager, logger *zap.Logger) error {
	var failed []string

	for _, serverCfg := range cfg.Servers {
		if err := manager.AddServer(ctx, serverCfg); err != nil {
			logger.Error("failed to add server",
				zap.String("server", serverCfg.Name),
				zap.Error(err))
			failed = append(failed, serverCfg.Name)
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("servers failed to connect: %v", failed)
	}

	return nil
}

// startHTTPServer serves Prometheus metrics plus the JSON status and
// stats endpoints the status subcommands consume.
func startHTTPServer(cfg *config.Config, components *Components, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()

	metricsPath := cfg.Metrics.Path
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	mux.Handle(metricsPath, promhttp.HandlerFor(
		components.Registry.Gatherer(),
		promhttp.HandlerOpts{},
	))
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		requestID, reqLogger := requestScope(r, logger)
		w.Header().Set("X-Request-Id", requestID)
		writeJSON(w, components.Manager.GetStatus(), reqLogger)
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		requestID, reqLogger := requestScope(r, logger)
		w.Header().Set("X-Request-Id", requestID)
		writeJSON(w, components.Manager.GetAllStats(), reqLogger)
	})

	var handler http.Handler = mux
	if cfg.Tracing.Enabled {
		handler = components.Tracer.HTTPMiddleware(mux)
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Metrics.Host, cfg.Metrics.Port),
		Handler:           handler,
		ReadHeaderTimeout: shutdownTimeout,
	}

	go func() {
		logger.Info("Starting metrics server",
			zap.String("addr", httpServer.Addr),
			zap.String("metrics_path", metricsPath))

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server error", zap.Error(err))
		}
	}()

	return httpServer
}

// requestScope assigns a request ID to an inbound HTTP request and
// returns it alongside a logger annotated with the request's tracing
// fields.
func requestScope(r *http.Request, logger *zap.Logger) (string, *zap.Logger) {
	ctx := logging.ContextWithTracing(r.Context(), logging.GenerateTraceID(), logging.GenerateRequestID())

	return logging.GetRequestID(ctx), logging.EnhanceLogger(ctx, logger)
}

func writeJSON(w http.ResponseWriter, payload any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("failed to encode response", zap.Error(err))
	}
}

func waitForShutdownAndCleanup(
	ctx context.Context,
	components *Components,
	httpServer *http.Server,
	logger *zap.Logger,
) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("Received shutdown signal")
	case <-ctx.Done():
	}

	logger.Info("Starting graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down metrics server", zap.Error(err))
	}

	// Heartbeat stops first inside Shutdown, so no tick observes the
	// registry mid-teardown.
	components.Manager.Shutdown()

	if err := components.Tracer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down tracer", zap.Error(err))
	}

	logger.Info("mcpfleet shutdown complete")

	return nil
}

func initLogger(logCfg config.LoggingConfig) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(logCfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	encoding := logCfg.Format
	if encoding == "" {
		encoding = "json"
	}

	if encoding != "json" && encoding != "console" {
		return nil, fmt.Errorf("invalid log format: %s", encoding)
	}

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		DisableCaller:    !logCfg.IncludeCaller,
		Encoding:         encoding,
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	zapCfg.EncoderConfig.TimeKey = "timestamp"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.EncoderConfig.StacktraceKey = ""

	// Error-level entries are sampled so a flapping server cannot flood
	// the log output.
	logger, err := zapCfg.Build(zap.WrapCore(logging.ErrorSampler))
	if err != nil {
		return nil, err
	}

	return logger.With(zap.String("service", "mcpfleet")), nil
}
