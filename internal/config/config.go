package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/eugenenazirov/screeps-deploy/internal/logging"
)

const (
	defaultConfigFile     = ".screeps.yaml"
	defaultEntryPoint     = "src/main.ts"
	defaultOutputDir      = "dist"
	defaultNodeTarget     = "12"
	defaultLogLevel       = "info"
	defaultRateLimitRPS   = 2.0
	defaultRateLimitBurst = 1
	defaultRequestTimeout = 60 * time.Second
)

// Config holds the settings of a single deploy run.
// Precedence: CLI flags > Environment variables > Defaults
type Config struct {
	ConfigFile     string
	EntryPoint     string
	OutputDir      string
	NodeTarget     string
	LogLevel       string
	LogFormat      string
	RateLimitRPS   float64
	RateLimitBurst int
	RequestTimeout time.Duration
	// EnableRequestLogging logs one line per API request.
	EnableRequestLogging bool
}

// CLIOverrides holds command-line flag overrides. Nil or empty values leave the
// lower-precedence setting in place.
type CLIOverrides struct {
	ConfigFile     *string
	EntryPoint     *string
	OutputDir      *string
	NodeTarget     *string
	LogLevel       *string
	LogFormat      *string
	RateLimitRPS   *float64
	RateLimitBurst *int
	RequestTimeout *time.Duration
	// DisableRequestLogging turns request logging off when set to true.
	DisableRequestLogging *bool
}

// Load resolves the run settings with precedence:
// CLI flags > Environment variables > Defaults
func Load(overrides *CLIOverrides) (Config, error) {
	cfg := defaultConfig()

	applyEnvConfig(&cfg)

	if overrides != nil {
		applyCLIOverrides(&cfg, overrides)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		ConfigFile:     defaultConfigFile,
		EntryPoint:     defaultEntryPoint,
		OutputDir:      defaultOutputDir,
		NodeTarget:     defaultNodeTarget,
		LogLevel:       defaultLogLevel,
		LogFormat:      logging.FormatConsole,
		RateLimitRPS:   defaultRateLimitRPS,
		RateLimitBurst: defaultRateLimitBurst,
		RequestTimeout: defaultRequestTimeout,

		EnableRequestLogging: true,
	}
}

func applyEnvConfig(cfg *Config) {
	if path := strings.TrimSpace(os.Getenv("SCREEPS_CONFIG")); path != "" {
		cfg.ConfigFile = path
	}

	if entry := strings.TrimSpace(os.Getenv("SCREEPS_ENTRY")); entry != "" {
		cfg.EntryPoint = entry
	}

	if dir := strings.TrimSpace(os.Getenv("SCREEPS_OUT_DIR")); dir != "" {
		cfg.OutputDir = dir
	}

	if level := strings.TrimSpace(os.Getenv("LOG_LEVEL")); level != "" {
		cfg.LogLevel = level
	}

	if format := strings.TrimSpace(os.Getenv("LOG_FORMAT")); format != "" {
		cfg.LogFormat = format
	}

	if rps := strings.TrimSpace(os.Getenv("RATE_LIMIT_RPS")); rps != "" {
		if value, err := strconv.ParseFloat(rps, 64); err == nil && value >= 0 {
			cfg.RateLimitRPS = value
		}
	}

	if burst := strings.TrimSpace(os.Getenv("RATE_LIMIT_BURST")); burst != "" {
		if value, err := strconv.Atoi(burst); err == nil && value >= 0 {
			cfg.RateLimitBurst = value
		}
	}

	if timeout := strings.TrimSpace(os.Getenv("REQUEST_TIMEOUT")); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil && d > 0 {
			cfg.RequestTimeout = d
		}
	}

	if enabled := strings.TrimSpace(os.Getenv("ENABLE_REQUEST_LOGGING")); enabled != "" {
		if value, err := strconv.ParseBool(enabled); err == nil {
			cfg.EnableRequestLogging = value
		}
	}
}

func applyCLIOverrides(cfg *Config, overrides *CLIOverrides) {
	setString(&cfg.ConfigFile, overrides.ConfigFile)
	setString(&cfg.EntryPoint, overrides.EntryPoint)
	setString(&cfg.OutputDir, overrides.OutputDir)
	setString(&cfg.NodeTarget, overrides.NodeTarget)
	setString(&cfg.LogLevel, overrides.LogLevel)
	setString(&cfg.LogFormat, overrides.LogFormat)

	if overrides.RateLimitRPS != nil && *overrides.RateLimitRPS >= 0 {
		cfg.RateLimitRPS = *overrides.RateLimitRPS
	}

	if overrides.RateLimitBurst != nil && *overrides.RateLimitBurst >= 0 {
		cfg.RateLimitBurst = *overrides.RateLimitBurst
	}

	if overrides.RequestTimeout != nil && *overrides.RequestTimeout > 0 {
		cfg.RequestTimeout = *overrides.RequestTimeout
	}

	if overrides.DisableRequestLogging != nil && *overrides.DisableRequestLogging {
		cfg.EnableRequestLogging = false
	}
}

func setString(dst *string, src *string) {
	if src == nil {
		return
	}
	if value := strings.TrimSpace(*src); value != "" {
		*dst = value
	}
}

func validateConfig(cfg Config) error {
	if cfg.ConfigFile == "" {
		return fmt.Errorf("config file path cannot be empty")
	}
	if cfg.EntryPoint == "" {
		return fmt.Errorf("entry point cannot be empty")
	}
	if cfg.OutputDir == "" {
		return fmt.Errorf("output directory cannot be empty")
	}
	if cleaned := filepath.Clean(cfg.OutputDir); cleaned == "." || cleaned == ".." {
		return fmt.Errorf("output directory %q would clear the project", cfg.OutputDir)
	}
	if cfg.LogFormat != logging.FormatConsole && cfg.LogFormat != logging.FormatJSON {
		return fmt.Errorf("log format must be %q or %q, got %q", logging.FormatConsole, logging.FormatJSON, cfg.LogFormat)
	}
	if cfg.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	return nil
}
