// Command cortexd runs the trust core as a long-lived daemon, exposing the
// Agent Hook Surface over MCP.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/cortexgate/cortex"
	"github.com/cortexgate/cortex/internal/config"
	"github.com/cortexgate/cortex/internal/mcp"
	"github.com/cortexgate/cortex/internal/telemetry"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(os.Getenv("CORTEX_LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		logger.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	app, err := cortex.New(cortex.WithLogger(logger), cortex.WithVersion(version))
	if err != nil {
		return fmt.Errorf("cortex: %w", err)
	}

	mcpSrv := mcp.New(app.Core(), logger, version)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	errCh := make(chan error, 1)
	var httpSrv *http.Server
	switch cfg.MCPTransport {
	case "sse":
		httpSrv = &http.Server{
			Addr:         cfg.MCPAddr,
			Handler:      mcpserver.NewStreamableHTTPServer(mcpSrv.MCPServer()),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		}
		go func() {
			logger.Info("cortex mcp: listening", "transport", "sse", "addr", cfg.MCPAddr)
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
				cancelRun()
			}
		}()
	default:
		go func() {
			logger.Info("cortex mcp: listening", "transport", "stdio")
			if err := mcpserver.ServeStdio(mcpSrv.MCPServer()); err != nil {
				errCh <- err
				cancelRun()
			}
		}()
	}

	runErr := make(chan error, 1)
	go func() { runErr <- app.Run(runCtx) }()

	<-runCtx.Done()
	if err := <-runErr; err != nil {
		return fmt.Errorf("core run: %w", err)
	}

	if httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("mcp http shutdown error", "error", err)
		}
	}

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

func parseLogLevel(raw string) slog.Level {
	switch raw {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
