// Package bundler compiles a TypeScript entry point and everything it imports into a
// single CommonJS module with a linked source map, using the esbuild Go API.
package bundler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"go.uber.org/zap"

	"github.com/eugenenazirov/screeps-deploy/internal/storage"
)


// Bundler produces the deployable module.
type Bundler interface {
	Bundle(ctx context.Context) ([]string, error)
}

// Options configures an esbuild-backed Bundler.
type Options struct {
	// EntryPoint is the TypeScript file to compile, relative to WorkingDir.
	EntryPoint string
	// OutputDir receives main.js and main.js.map, relative to WorkingDir.
	OutputDir string
	// NodeTarget is the minimum node version the output must run on.
	NodeTarget string
	// WorkingDir defaults to the process working directory.
	WorkingDir string
}

// BuildError carries the diagnostics of a failed build.
type BuildError struct {
	Messages []string
}

func (e *BuildError) Error() string {
	if len(e.Messages) == 0 {
		return "bundle failed"
	}
	return fmt.Sprintf("bundle failed with %d error(s):\n%s", len(e.Messages), strings.Join(e.Messages, "\n"))
}

type esbuildBundler struct {
	opts   Options
	dist   *storage.Dist
	logger *zap.Logger
}

// New returns a Bundler compiling opts.EntryPoint with esbuild.
func New(opts Options, logger *zap.Logger) (Bundler, error) {
	if opts.EntryPoint == "" {
		return nil, errors.New("entry point is required")
	}
	if opts.OutputDir == "" {
		return nil, errors.New("output directory is required")
	}
	if opts.WorkingDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		opts.WorkingDir = wd
	}
	abs, err := filepath.Abs(opts.WorkingDir)
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}
	opts.WorkingDir = abs
	outDir := opts.OutputDir
	if !filepath.IsAbs(outDir) {
		outDir = filepath.Join(abs, outDir)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &esbuildBundler{opts: opts, dist: storage.NewDist(outDir), logger: logger}, nil
}

// Bundle runs esbuild and writes the output files. It returns their paths. If any file
// cannot be written, the files already written are removed again.
func (b *esbuildBundler) Bundle(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := api.Build(b.buildOptions())

	for _, msg := range api.FormatMessages(result.Warnings, api.FormatMessagesOptions{Kind: api.WarningMessage}) {
		b.logger.Warn("bundler warning", zap.String("message", strings.TrimSpace(msg)))
	}

	if len(result.Errors) > 0 {
		formatted := api.FormatMessages(result.Errors, api.FormatMessagesOptions{Kind: api.ErrorMessage})
		messages := make([]string, 0, len(formatted))
		for _, msg := range formatted {
			messages = append(messages, strings.TrimSpace(msg))
		}
		return nil, &BuildError{Messages: messages}
	}

	if len(result.OutputFiles) == 0 {
		return nil, &BuildError{}
	}

	names := make([]string, 0, len(result.OutputFiles))
	written := make([]string, 0, len(result.OutputFiles))
	for _, file := range result.OutputFiles {
		name := filepath.Base(file.Path)
		if err := b.dist.Write(name, file.Contents); err != nil {
			if rmErr := b.dist.Remove(names...); rmErr != nil {
				b.logger.Warn("failed to remove partial bundle", zap.Error(rmErr))
			}
			return nil, err
		}
		names = append(names, name)
		written = append(written, b.dist.Path(name))
		b.logger.Debug("bundle file written",
			zap.String("path", b.dist.Path(name)),
			zap.Int("bytes", len(file.Contents)),
		)
	}

	return written, nil
}

func (b *esbuildBundler) buildOptions() api.BuildOptions {
	opts := api.BuildOptions{
		AbsWorkingDir: b.opts.WorkingDir,
		EntryPoints:   []string{b.opts.EntryPoint},
		Outfile:       b.dist.Path(storage.MainModule),
		Bundle:        true,
		Write:         false,
		Platform:      api.PlatformNode,
		Format:        api.FormatCommonJS,
		Sourcemap:     api.SourceMapLinked,
		LogLevel:      api.LogLevelSilent,
	}
	if b.opts.NodeTarget != "" {
		opts.Engines = []api.Engine{{Name: api.EngineNode, Version: b.opts.NodeTarget}}
	}
	return opts
}
