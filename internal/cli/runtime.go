package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/gezibash/drop/internal/config"
	"github.com/gezibash/drop/internal/metastore"
	"github.com/gezibash/drop/internal/objectstore"
	"github.com/gezibash/drop/internal/objectstore/physical"
	"github.com/gezibash/drop/internal/observability"
)

// Runtime is the set of stores a one-shot command works against: the same
// backends and metadata store the server opens, without the HTTP surface.
type Runtime struct {
	Config   config.Config
	Backends *physical.Set
	Meta     *metastore.Store
	Service  *objectstore.Service

	logCloser io.Closer
}

// Open loads configuration from v and opens every configured store.
//
// Client commands log to {data_dir}/log/cli.log instead of the terminal so
// their stdout stays machine readable.
func Open(ctx context.Context, v *viper.Viper) (*Runtime, error) {
	cfg, err := config.Load(v, v.GetString(config.ConfigFileKey))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logCfg := cfg.ObsConfig().Log
	if logCfg.File == "" {
		logCfg.File = filepath.Join(cfg.ResolvedDataDir(), "log", "cli.log")
	}
	_, logCloser := observability.SetupLogger(logCfg, io.Discard)

	rt := &Runtime{Config: cfg, logCloser: logCloser}
	if err := rt.open(ctx); err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) open(ctx context.Context) error {
	backends, err := rt.Config.Backends()
	if err != nil {
		return err
	}
	rt.Backends = physical.Open(ctx, backends, nil)

	rt.Meta, err = metastore.Open(ctx, rt.Config.Metadata.Backend, rt.Config.MetadataConfig(), nil)
	if err != nil {
		return fmt.Errorf("open metadata store: %w", err)
	}

	maxUpload, _ := rt.Config.Limits.MaxUploadBytes()
	largeFile, _ := rt.Config.Limits.LargeFileBytes()
	rt.Service = objectstore.NewService(rt.Backends, rt.Meta, objectstore.RouterConfig{
		MaxUploadSize:      maxUpload,
		LargeFileThreshold: largeFile,
	}, nil)
	return nil
}

// Close releases the stores and the log file.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.Meta != nil {
		errs = append(errs, rt.Meta.Close())
	}
	if rt.Backends != nil {
		errs = append(errs, rt.Backends.Close())
	}
	if rt.logCloser != nil {
		errs = append(errs, rt.logCloser.Close())
	}
	return errors.Join(errs...)
}
