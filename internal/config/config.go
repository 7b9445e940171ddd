// Package config loads and validates the run configuration from a TOML
// file, from environment variables, or interactively through an editor.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

// envPrefix namespaces the environment variables, e.g. BOORU_DL_TAGS.
const envPrefix = "BOORU_DL"

// DefaultConfigTOML seeds the interactive editor flow.
const DefaultConfigTOML = `# booru-dl configuration

# The tags to search for. Must not be empty.
tags = ""

# The number of posts to download.
num_imgs = 10

# The directory to download the files to.
download_dir = "images"

# Request timeout in seconds. 0 means no timeout.
timeout = 0

# Maximum concurrent downloads. 0 means the number of CPUs.
max_parallel = 0

# Log level: DEBUG, INFO, WARN or ERROR.
log_level = "INFO"

# Optional JSON log file. Empty disables file logging.
log_file = ""

# Optional webhook notified with the final counts. Empty disables it.
webhook_url = ""
`

// Config is the run configuration.
type Config struct {
	Tags        string `toml:"tags" envconfig:"TAGS"`
	NumImages   uint64 `toml:"num_imgs" envconfig:"NUM_IMGS" default:"10"`
	DownloadDir string `toml:"download_dir" envconfig:"DOWNLOAD_DIR"`
	Timeout     uint64 `toml:"timeout" envconfig:"TIMEOUT"`
	MaxParallel int    `toml:"max_parallel" envconfig:"MAX_PARALLEL"`
	LogLevel    string `toml:"log_level" envconfig:"LOG_LEVEL" default:"INFO"`
	LogFile     string `toml:"log_file" envconfig:"LOG_FILE"`
	WebhookURL  string `toml:"webhook_url" envconfig:"WEBHOOK_URL"`
}

// Load reads and validates a TOML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(string(data))
}

// Parse decodes and validates TOML config content.
func Parse(content string) (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal([]byte(content), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// FromEnv reads and validates the configuration from BOORU_DL_* environment
// variables.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the invariants the rest of the program relies on.
func (c *Config) Validate() error {
	if c.Tags == "" {
		return errors.New("tags must not be empty")
	}

	if c.NumImages == 0 {
		return errors.New("num_imgs must be greater than 0")
	}

	if c.DownloadDir == "" {
		return errors.New("download_dir must not be empty")
	}

	return nil
}

// Parallelism returns the concurrency bound for the run: the configured
// value, or the host's CPU count when unset.
func (c *Config) Parallelism() int {
	if c.MaxParallel > 0 {
		return c.MaxParallel
	}

	return runtime.NumCPU()
}

// SlogLevel maps the configured log level onto slog, defaulting to INFO.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
