package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httpserver "github.com/fyrsmithlabs/kazuba/internal/http"
	"github.com/fyrsmithlabs/kazuba/internal/logging"
	"github.com/fyrsmithlabs/kazuba/internal/rlm"
	"github.com/fyrsmithlabs/kazuba/internal/telemetry"
)

const instrumentationName = "github.com/fyrsmithlabs/kazuba/cmd/kazuba-rlm"

func newServeCmd() *cobra.Command {
	var host string
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve engine stats and metrics over HTTP",
		Long: `Start the HTTP surface: /health, /api/v1/stats, /api/v1/qtable/best,
POST /api/v1/reward and /metrics. The Q-table is saved on shutdown when a
persist path is configured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, host, port, cmd.Flags().Changed("port"))
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides server.host)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides server.port)")
	return cmd
}

// runServe blocks until ctx is cancelled, then shuts the server down and
// flushes telemetry.
func runServe(ctx context.Context, host string, port int, portSet bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if host != "" {
		cfg.Server.Host = host
	}
	if portSet {
		cfg.Server.Port = port
	}

	tel, err := telemetry.New(ctx, telemetry.ConfigFrom(cfg.Telemetry), nil)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	lcfg, err := logging.ConfigFrom(cfg.Logging)
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(lcfg, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	engine, err := rlm.New(cfg.RLM,
		rlm.WithLogger(logger.Component("rlm")),
		rlm.WithTracer(tel.Tracer(instrumentationName)),
		rlm.WithMeter(tel.Meter(instrumentationName)),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	srv, err := httpserver.NewServer(engine, logger.Component("http"),
		&httpserver.Config{Host: cfg.Server.Host, Port: cfg.Server.Port},
		httpserver.WithMeter(tel.Meter(httpserver.InstrumentationName)),
	)
	if err != nil {
		return err
	}

	logger.Info(ctx, "starting kazuba-rlm",
		zap.String("addr", srv.Addr()),
		zap.Bool("telemetry", tel.IsEnabled()),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if engine.IsSessionActive() {
			if _, err := engine.EndSession(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("end session: %w", err))
			}
		}
		if cfg.RLM.PersistPath != "" {
			if _, err := engine.SaveQTable(""); err != nil {
				errs = append(errs, fmt.Errorf("save q-table: %w", err))
			}
		}
		if err := tel.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	err = g.Wait()
	logger.Info(context.Background(), "kazuba-rlm stopped")
	return err
}
