package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/eugenenazirov/screeps-deploy/internal/api"
	"github.com/eugenenazirov/screeps-deploy/internal/application"
	"github.com/eugenenazirov/screeps-deploy/internal/config"
	"github.com/eugenenazirov/screeps-deploy/internal/logging"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

var signalNotify = signal.Notify

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	kingpinApp := kingpin.New("screeps-deploy", "Bundle a TypeScript Screeps bot and upload it to a server from .screeps.yaml")
	kingpinApp.Version(Version)
	kingpinApp.UsageWriter(stderr)
	kingpinApp.ErrorWriter(stderr)

	server := kingpinApp.Flag("server", "Server name to connect to. This must be defined in the .screeps.yaml file.").Required().String()
	whatIf := kingpinApp.Flag("what-if", "Build the code, but do not actually push it to the server.").Bool()
	configFile := kingpinApp.Flag("config", "Path to the .screeps.yaml file").String()
	entry := kingpinApp.Flag("entry", "TypeScript entry point").String()
	outDir := kingpinApp.Flag("out-dir", "Build output directory (wiped on every run)").String()
	nodeTarget := kingpinApp.Flag("node-target", "Minimum node version the bundle must run on").String()
	logLevel := kingpinApp.Flag("log-level", "Log level (debug, info, warn, error)").String()
	logFormat := kingpinApp.Flag("log-format", "Log encoding (console or json)").String()
	rateLimitRPS := kingpinApp.Flag("rate-limit-rps", "API requests per second (set 0 to disable)").Default("-1").Float64()
	rateLimitBurst := kingpinApp.Flag("rate-limit-burst", "Burst capacity for API requests").Default("-1").Int()
	requestTimeout := kingpinApp.Flag("request-timeout", "Timeout for each API request, e.g. 30s").Default("0s").Duration()
	noRequestLog := kingpinApp.Flag("no-request-log", "Do not log individual API requests").Bool()

	if _, err := kingpinApp.Parse(args); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}

	overrides := &config.CLIOverrides{
		ConfigFile: configFile,
		EntryPoint: entry,
		OutputDir:  outDir,
		NodeTarget: nodeTarget,
		LogLevel:   logLevel,
		LogFormat:  logFormat,

		DisableRequestLogging: noRequestLog,
	}

	if *rateLimitRPS >= 0 {
		overrides.RateLimitRPS = rateLimitRPS
	}

	if *rateLimitBurst >= 0 {
		overrides.RateLimitBurst = rateLimitBurst
	}

	if *requestTimeout > 0 {
		overrides.RequestTimeout = requestTimeout
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		fmt.Fprintf(stderr, "error: failed to load configuration: %v\n", err)
		return 1
	}

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		fmt.Fprintf(stderr, "error: failed to initialize logger: %v\n", err)
		return 1
	}
	defer func() {
		_ = logger.Sync()
	}()

	api.Version = Version

	app, err := application.New(cfg, logger, stdout)
	if err != nil {
		logger.Error("failed to initialize application", zap.Error(err))
		return 1
	}

	ctx, stop := signalContext(context.Background(), logger)
	defer stop()

	if err := app.Run(ctx, *server, *whatIf); err != nil {
		logger.Error("deploy failed", zap.String("server", *server), zap.Error(err))
		return 1
	}
	return 0
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context, logger *zap.Logger) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-quit:
			logger.Warn("interrupted, aborting deploy", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(quit)
		cancel()
	}
}
