// Package main запускает сервис подтверждения и сверки платежей ChipIn.
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

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Policy-Guru-za/chipin/internal/config"
	"github.com/Policy-Guru-za/chipin/internal/handler"
	"github.com/Policy-Guru-za/chipin/internal/ratelimit"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	root := &cobra.Command{
		Use:           "chipin",
		Short:         "ChipIn payment confirmation and reconciliation service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCommand(logger), reconcileCommand(logger))

	if err := root.Execute(); err != nil {
		logger.Sugar().Fatalw("application terminated with error", "error", err)
	}
}

// loadConfig разбирает окружение и флаги подкоманды.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg, err := config.Parse(pflag.NewFlagSet(cmd.Name(), pflag.ContinueOnError), args)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

func serveCommand(logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:                "serve",
		Short:              "Run the HTTP server for provider webhooks and reconciliation",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, args)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func reconcileCommand(logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:                "reconcile",
		Short:              "Run one reconciliation pass and print the report as JSON",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, args)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			runCtx, cancel := context.WithTimeout(ctx, cfg.Reconcile.Timeout)
			defer cancel()

			report, err := a.svc.Reconcile(runCtx)
			if err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}

func serve(parent context.Context, cfg *config.Config, logger *zap.Logger) error {
	sugar := logger.Sugar()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	h := handler.NewHandler(a.svc, logger, handler.Config{
		Providers:        a.providers,
		Limiter:          ratelimit.New(a.store, time.Now),
		HourLimit:        cfg.Webhook.HourLimit,
		MinuteBurstLimit: cfg.Webhook.MinuteBurstLimit,
		ReconcileSecret:  cfg.Reconcile.Secret,
		TrustProxy:       cfg.TrustProxy,
		MaxBodyBytes:     cfg.Webhook.MaxBodyBytes,
		ReconcileTimeout: cfg.Reconcile.Timeout,
		Ready:            a.repo.Ping,
	})

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.svc.StartReconciliation(ctx, cfg.Reconcile.Interval)
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting chipin server", "addr", cfg.RunAddress, "providers", a.providers)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	return g.Wait()
}
