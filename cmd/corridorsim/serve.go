package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/deltran/corridorsim/internal/observability"
	"github.com/deltran/corridorsim/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func runServe(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	if addr, _ := cmd.Flags().GetString("http-addr"); addr != "" {
		e.cfg.Server.HTTPAddr = addr
	}

	e.logger.Info("Starting corridor simulator",
		zap.String("version", version),
		zap.String("addr", e.cfg.Server.HTTPAddr),
		zap.Strings("corridors", e.registry.IDs()),
	)

	tp, closer, err := observability.InitTracer(observability.TracerConfig{
		ServiceName:    "corridorsim",
		ServiceVersion: version,
		Environment:    e.cfg.Tracing.Environment,
		Endpoint:       e.cfg.Tracing.Endpoint,
		Enabled:        e.cfg.Tracing.Enabled,
		SampleRate:     e.cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer closer.Close()

	srv, err := server.New(e.cfg, e.registry, e.logger, server.WithTracerProvider(tp))
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Wait for interrupt signal to gracefully shutdown the server
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		return err
	}
	e.logger.Info("Server exited")
	return nil
}
