package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/drop/internal/config"
	"github.com/gezibash/drop/internal/metastore"
	"github.com/gezibash/drop/internal/middleware"
	"github.com/gezibash/drop/internal/objectstore"
	"github.com/gezibash/drop/internal/objectstore/physical"
	"github.com/gezibash/drop/internal/observability"
	"github.com/gezibash/drop/internal/server"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		Long: `Run the HTTP gateway.

Object backends are opened from the storage section of the config. Local
disk is always used unless disabled; a backend whose credentials are
missing is logged and skipped.

Examples:
  drop serve
  drop serve --addr :8080 --public-url https://drop.example
  drop serve --config /etc/drop/drop.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), v)
		},
	}
	config.BindServeFlags(cmd, v)
	return cmd
}

func runServe(ctx context.Context, v *viper.Viper) error {
	cfg, err := config.Load(v, v.GetString(config.ConfigFileKey))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Observability.ServiceVersion == "dev" {
		cfg.Observability.ServiceVersion = version
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	obs, err := observability.New(ctx, cfg.ObsConfig(), os.Stderr)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	if cfg.Observability.MetricsAddr != "" {
		obs.ServeMetrics(ctx, cfg.Observability.MetricsAddr)
	}

	backendCfg, err := cfg.Backends()
	if err != nil {
		return err
	}
	backends := physical.Open(ctx, backendCfg, obs.Metrics)
	obs.Shutdown.Register("object-backends", func(context.Context) error {
		return backends.Close()
	})
	if len(backends.Kinds()) == 0 {
		_ = obs.Close(ctx)
		return errors.New("no object backend available")
	}

	meta, err := metastore.Open(ctx, cfg.Metadata.Backend, cfg.MetadataConfig(), obs.Metrics)
	if err != nil {
		_ = obs.Close(ctx)
		return fmt.Errorf("init metadata store: %w", err)
	}
	obs.Shutdown.Register("metastore", func(context.Context) error {
		return meta.Close()
	})

	maxUpload, err := cfg.Limits.MaxUploadBytes()
	if err != nil {
		_ = obs.Close(ctx)
		return err
	}
	largeFile, err := cfg.Limits.LargeFileBytes()
	if err != nil {
		_ = obs.Close(ctx)
		return err
	}
	svc := objectstore.NewService(backends, meta, objectstore.RouterConfig{
		MaxUploadSize:      maxUpload,
		LargeFileThreshold: largeFile,
	}, obs.Metrics)

	slog.Info("storage initialized",
		"backends", backends.Kinds(),
		"metadata_backend", cfg.Metadata.Backend,
		"max_upload_size", cfg.Limits.MaxUploadSize,
		"large_file_threshold", cfg.Limits.LargeFileThreshold,
	)

	srvCfg := server.Config{
		PublicURL:     cfg.HTTP.PublicURL,
		MaxUploadSize: maxUpload,
		ReadTimeout:   cfg.HTTP.ReadTimeout,
		WriteTimeout:  cfg.HTTP.WriteTimeout,

		TrustProxyHeaders: cfg.HTTP.TrustProxyHeaders,
	}
	if cfg.Limits.RatePerSecond > 0 {
		srvCfg.Limiter = middleware.NewIPLimiter(cfg.Limits.RatePerSecond, cfg.Limits.RateTTL)
	}
	if cfg.Auth.JWTSecret != "" {
		srvCfg.JWTSecret = []byte(cfg.Auth.JWTSecret)
	}

	srv, err := server.New(cfg.HTTP.Addr, obs, svc, srvCfg)
	if err != nil {
		_ = obs.Close(ctx)
		return fmt.Errorf("create server: %w", err)
	}
	obs.Shutdown.Register("http-server", func(ctx context.Context) error {
		srv.Stop(ctx)
		return nil
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case <-sigCh:
			slog.Info("shutdown signal received")
		case <-ctx.Done():
		}
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := obs.Close(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	slog.Info("serving", "addr", srv.Addr(), "metrics", cfg.Observability.MetricsAddr,
		"auth", len(srvCfg.JWTSecret) > 0, "rate_limit", cfg.Limits.RatePerSecond)
	serveErr := srv.Serve()
	cancel()
	<-done
	return serveErr
}
