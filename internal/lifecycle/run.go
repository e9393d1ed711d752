// Package lifecycle provides the chat client's process runner: signal
// handling, config loading, observability init, adapter wiring, and
// graceful shutdown around the session loop and the UI.
package lifecycle

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/aelexs/roomchat/internal/chatclient/adapter"
	"github.com/aelexs/roomchat/internal/chatclient/app"
	"github.com/aelexs/roomchat/internal/config"
	"github.com/aelexs/roomchat/internal/domain"
	"github.com/aelexs/roomchat/internal/observability"
)

// Version is reported in telemetry resources.
const Version = "0.1.0"

// Params configures the runner.
type Params struct {
	// Name identifies the client in logs and telemetry.
	Name string

	// Configure adjusts the loaded config before it is validated again
	// (command-line overrides).
	Configure func(cfg *config.Config)

	// UI drives the session until the user quits or ctx is done.
	UI func(ctx context.Context, session *app.Manager) error

	// LogOutput replaces the configured log file when set.
	LogOutput io.Writer
}

// Run executes the full client lifecycle. It returns when the UI exits,
// the process is signalled, or ctx is done; the session is torn down and
// telemetry flushed before it returns.
func Run(ctx context.Context, p Params) error {
	// Signal-based cancellation: ctx.Done() closes on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Load configuration, then apply overrides.
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if p.Configure != nil {
		p.Configure(cfg)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}

	name := p.Name
	if name == "" {
		name = cfg.ServiceName
	}

	// Structured logging with secret redaction, away from the terminal.
	out := p.LogOutput
	if out == nil {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		out = f
	}
	logger := observability.InitLogger(observability.LogConfig{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		ServiceName: name,
		Environment: cfg.Environment,
		Output:      out,
	})

	// --- Startup order: telemetry -> adapters -> session -> UI ---

	telemetry, err := observability.InitTelemetry(ctx, observability.TelemetryConfig{
		ServiceName:    name,
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
	})
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}

	auth := adapter.NewHTTPAuthClient(adapter.HTTPAuthConfig{
		BaseURL: cfg.APIBaseURL,
		Timeout: cfg.AuthTimeout,
		Logger:  logger,
	})
	dialer := adapter.NewWSDialer(adapter.WSConfig{
		URL:                      cfg.SocketServerURL,
		HandshakeTimeout:         cfg.HandshakeTimeout,
		WriteTimeout:             cfg.WriteTimeout,
		ReconnectInitialInterval: cfg.ReconnectInitialInterval,
		ReconnectMaxInterval:     cfg.ReconnectMaxInterval,
		Logger:                   logger,
	})
	session := app.NewManager(app.ManagerConfig{
		Auth:                    auth,
		Dialer:                  dialer,
		AuthCode:                cfg.AuthCode,
		AuthCodeMismatchMessage: cfg.AuthCodeMismatchMessage,
		AckTimeout:              cfg.AckTimeout,
		RestoreDraftOnFailure:   cfg.RestoreDraftOnFailure,
		Logger:                  logger,
	})

	// --- Structured concurrency via errgroup ---
	g, gctx := errgroup.WithContext(ctx)
	sessionCtx, stopSession := context.WithCancel(gctx)
	defer stopSession()

	// Goroutine 1: session loop. Cancelling sessionCtx tears the session down.
	g.Go(func() error {
		logger.Info("starting session",
			slog.String("socket_server_url", cfg.SocketServerURL),
			slog.String("api_base_url", cfg.APIBaseURL),
			slog.String("environment", cfg.Environment),
		)
		return session.Run(sessionCtx)
	})

	// Goroutine 2: UI. Its exit, for any reason, ends the session.
	g.Go(func() error {
		defer stopSession()
		if p.UI == nil {
			<-sessionCtx.Done()
			return nil
		}
		if err := p.UI(sessionCtx, session); err != nil {
			return fmt.Errorf("ui: %w", err)
		}
		return nil
	})

	runErr := g.Wait()
	logger.Info("session stopped, flushing telemetry")

	// Flush OTEL (reverse of startup: metrics first, then tracer).
	otelCtx, otelCancel := context.WithTimeout(context.Background(), domain.ShutdownOTELTimeout)
	defer otelCancel()
	if shutdownErr := telemetry.Shutdown(otelCtx); shutdownErr != nil {
		logger.Error("failed to shutdown telemetry", slog.String("error", shutdownErr.Error()))
	}

	logger.Info("shutdown complete")
	return runErr
}
