// Analystd is a natural-language analytics daemon. It answers plain-English
// questions about tabular business data by orchestrating an LLM pipeline
// that classifies, rephrases, plans, generates Python analysis code, runs it
// in a subprocess sandbox, and reports the findings.
//
// Configuration is loaded from ~/.config/analystd/config.yaml and overridden
// by environment variables. See internal/config for details.
//
// Usage:
//
//	# Start the daemon with defaults
//	OPENAI_API_KEY=sk-... analystd
//
//	# Custom config file and port
//	analystd -config /etc/analystd/config.yaml
//	SERVER_HTTP_PORT=9090 analystd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/insightrow/analystd/internal/completion"
	"github.com/insightrow/analystd/internal/config"
	"github.com/insightrow/analystd/internal/contextwindow"
	"github.com/insightrow/analystd/internal/domain"
	analysthttp "github.com/insightrow/analystd/internal/http"
	"github.com/insightrow/analystd/internal/logging"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.config/analystd/config.yaml)")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  analystd           Start the analystd daemon\n")
			fmt.Fprintf(os.Stderr, "  analystd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("analystd\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the analystd server and blocks until the context is cancelled.
//
// Initialization order:
//  1. Load and validate configuration
//  2. Initialize the structured logger
//  3. Validate the runtime environment (API key, interpreter, data dirs)
//  4. Build the completion client, tokenizer, and domain cache
//  5. Start the HTTP server
//  6. Graceful shutdown on context cancellation
func run(ctx context.Context, configPath string) error {
	if err := config.EnsureConfigDir(); err != nil {
		return err
	}

	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info("Starting analystd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("model", cfg.Completion.Model),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout))

	if err := validateEnvironment(cfg, logger); err != nil {
		return err
	}

	client, err := completion.NewOpenAIClient(cfg.Completion.ClientConfig())
	if err != nil {
		return fmt.Errorf("failed to create completion client: %w", err)
	}

	window, err := contextwindow.NewManager(cfg.ContextWindow)
	if err != nil {
		return fmt.Errorf("failed to create context window manager: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv, err := analysthttp.NewServer(analysthttp.Deps{
		Client:      client,
		Domains:     domain.NewCache(cfg.Domain),
		Window:      window,
		Sandbox:     cfg.Sandbox,
		Pipeline:    cfg.Pipeline,
		MetadataDir: cfg.Domain.MetadataDir,
		Registry:    registry,
	}, logger, &analysthttp.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	logger.Info("Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)),
		zap.String("query_endpoint", "/api/v1/query"),
		zap.String("metrics_endpoint", "/metrics"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// validateEnvironment checks runtime prerequisites at startup. A missing
// API key is fatal; a missing interpreter or data directory only degrades
// analysis requests, so those are logged as warnings and the daemon still
// serves health and discovery endpoints.
func validateEnvironment(cfg *config.Config, logger *zap.Logger) error {
	if !cfg.Completion.APIKey.IsSet() {
		return errors.New("completion API key required: set COMPLETION_API_KEY or OPENAI_API_KEY")
	}

	interpreter := cfg.Sandbox.Interpreter
	if interpreter == "" {
		interpreter = "python3"
	}
	if _, err := exec.LookPath(interpreter); err != nil {
		logger.Warn("python interpreter not found, analysis requests will fail",
			zap.String("interpreter", interpreter), zap.Error(err))
	}

	domains, err := domain.Discover(cfg.Domain.MetadataDir)
	if err != nil {
		logger.Warn("metadata directory not readable, no domains available",
			zap.String("metadata_dir", cfg.Domain.MetadataDir), zap.Error(err))
	} else if len(domains) == 0 {
		logger.Warn("no domains found in metadata directory",
			zap.String("metadata_dir", cfg.Domain.MetadataDir))
	} else {
		logger.Info("domains discovered", zap.Strings("domains", domains))
	}

	if _, err := os.Stat(cfg.Domain.DataDir); err != nil {
		logger.Warn("data directory not readable, analysis code will fail to load tables",
			zap.String("data_dir", cfg.Domain.DataDir), zap.Error(err))
	}

	return nil
}
