package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/eugenenazirov/screeps-deploy/internal/api"
	"github.com/eugenenazirov/screeps-deploy/internal/bundler"
	"github.com/eugenenazirov/screeps-deploy/internal/calculator"
	"github.com/eugenenazirov/screeps-deploy/internal/config"
	"github.com/eugenenazirov/screeps-deploy/internal/storage"
	"github.com/eugenenazirov/screeps-deploy/internal/uploader"
)

// App encapsulates the pipeline dependencies.
type App struct {
	cfg        config.Config
	dist       *storage.Dist
	bundler    bundler.Bundler
	calculator calculator.Calculator
	uploader   *uploader.Uploader
	logger     *zap.Logger
}

// Option configures New.
type Option func(*options)

type options struct {
	bundler       bundler.Bundler
	clientFactory uploader.ClientFactory
	workingDir    string
}

// WithBundler replaces the esbuild bundler (primarily for tests).
func WithBundler(b bundler.Bundler) Option {
	return func(o *options) {
		o.bundler = b
	}
}

// WithClientFactory replaces the factory building the Screeps API client.
func WithClientFactory(f uploader.ClientFactory) Option {
	return func(o *options) {
		o.clientFactory = f
	}
}

// WithWorkingDir sets the project root that relative paths are resolved against.
func WithWorkingDir(dir string) Option {
	return func(o *options) {
		o.workingDir = dir
	}
}

// New initializes the pipeline from the provided configuration. Summary output is
// written to stdout.
func New(cfg config.Config, logger *zap.Logger, stdout io.Writer, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if o.workingDir != "" {
		cfg = rebase(cfg, o.workingDir)
	}

	b := o.bundler
	if b == nil {
		var err error
		b, err = bundler.New(bundler.Options{
			EntryPoint: cfg.EntryPoint,
			OutputDir:  cfg.OutputDir,
			NodeTarget: cfg.NodeTarget,
			WorkingDir: o.workingDir,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create bundler: %w", err)
		}
	}

	factory := o.clientFactory
	if factory == nil {
		factory = DefaultClientFactory(cfg, logger)
	}

	return &App{
		cfg:        cfg,
		dist:       storage.NewDist(cfg.OutputDir),
		bundler:    b,
		calculator: calculator.New(),
		uploader:   uploader.New(stdout, factory, logger),
		logger:     logger,
	}, nil
}

// DefaultClientFactory builds Screeps API clients from the server entry credentials.
func DefaultClientFactory(cfg config.Config, logger *zap.Logger) uploader.ClientFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(_ context.Context, target config.ServerConfig) (uploader.CodeSetter, error) {
		client, err := api.NewClient(Credentials(target.Server), logger.Named("api"),
			api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
			api.WithTimeout(cfg.RequestTimeout),
			api.WithLogging(cfg.EnableRequestLogging),
		)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// Credentials converts a .screeps.yaml server entry into API credentials.
func Credentials(entry config.ServerEntry) api.Credentials {
	return api.Credentials{
		Host:     entry.Host,
		Port:     entry.Port,
		Secure:   entry.Secure,
		Path:     entry.Path,
		Token:    entry.Token,
		Username: entry.Username,
		Password: entry.Password,
	}
}

// Run deploys to the named server. An unknown server is logged and treated as a
// successful no-op; every other failure aborts the run.
func (a *App) Run(ctx context.Context, server string, whatIf bool) error {
	target, err := a.loadTarget(server)
	if err != nil {
		if errors.Is(err, config.ErrServerNotFound) {
			a.logger.Warn("no configuration was found for server",
				zap.String("server", server),
				zap.String("config", a.cfg.ConfigFile),
			)
			return nil
		}
		return err
	}

	a.logger.Info("clearing output directory", zap.String("dir", a.dist.Dir()))
	if err := a.dist.Clear(); err != nil {
		return fmt.Errorf("clear output directory: %w", err)
	}

	a.logger.Info("running bundler", zap.String("entry", a.cfg.EntryPoint))
	if _, err := a.bundler.Bundle(ctx); err != nil {
		return fmt.Errorf("bundle: %w", err)
	}

	a.logger.Info("reading back code")
	payload, err := a.loadBuiltCode(target.AvailableMiB)
	if err != nil {
		return err
	}

	if err := a.uploader.Upload(ctx, target, payload, whatIf); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	return nil
}

// rebase anchors the relative config and output paths at dir. The entry point stays
// relative because the bundler resolves it against its own working directory.
func rebase(cfg config.Config, dir string) config.Config {
	if !filepath.IsAbs(cfg.ConfigFile) {
		cfg.ConfigFile = filepath.Join(dir, cfg.ConfigFile)
	}
	if !filepath.IsAbs(cfg.OutputDir) {
		cfg.OutputDir = filepath.Join(dir, cfg.OutputDir)
	}
	return cfg
}

func (a *App) loadTarget(server string) (config.ServerConfig, error) {
	file, err := config.LoadFile(a.cfg.ConfigFile)
	if err != nil {
		return config.ServerConfig{}, fmt.Errorf("load %s: %w", a.cfg.ConfigFile, err)
	}
	return file.Resolve(server)
}

func (a *App) loadBuiltCode(availableMiB float64) (uploader.Payload, error) {
	artifacts, err := a.dist.ReadAll(storage.ArtifactFiles...)
	if err != nil {
		return uploader.Payload{}, fmt.Errorf("read built code: %w", err)
	}

	for _, artifact := range artifacts {
		a.logger.Debug("artifact loaded",
			zap.String("module", artifact.ModuleName),
			zap.Int64("bytes", artifact.SizeBytes),
			zap.String("size", humanize.IBytes(uint64(artifact.SizeBytes))),
		)
	}

	usage, err := a.calculator.Calculate(storage.TotalSize(artifacts), availableMiB)
	if err != nil {
		return uploader.Payload{}, fmt.Errorf("calculate usage: %w", err)
	}
	if usage.UsedPercent > 100 {
		a.logger.Warn("bundle exceeds the code quota",
			zap.String("used", humanize.IBytes(uint64(usage.UsedBytes))),
			zap.Float64("available_mib", usage.AvailableMiB),
		)
	}

	return uploader.Payload{Usage: usage, Modules: storage.Modules(artifacts)}, nil
}
