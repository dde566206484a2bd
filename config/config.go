// Package config loads the process configuration from defaults, an optional
// YAML file, a .env file and the environment, in increasing precedence.
package config

import (
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/Dorico-Dynamics/txova-go-core/logging"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/cinescope/cinescope-go-clients/services/omdb"
)

// EnvPrefix prefixes every environment override, e.g. CINESCOPE_SERVER_ADDR.
const EnvPrefix = "CINESCOPE"

// DefaultEnvFile is loaded when Load is given no env files.
const DefaultEnvFile = ".env"

// Load loads the configuration. configPath may be empty, in which case a
// cinescope.yaml is looked up in the working directory and the user's
// config directory; a missing file is not an error. Values from envFiles
// (default ".env") never override variables already set in the environment.
func Load(configPath string, envFiles ...string) (*Config, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	bindEnv(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("cinescope")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "cinescope"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !stderrors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		files = []string{DefaultEnvFile}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if stderrors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("error loading %s: %w", file, err)
		}
	}
	return nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("omdb.base_url", "")
	v.SetDefault("omdb.api_key", "")
	v.SetDefault("omdb.timeout", "10s")
	v.SetDefault("omdb.max_retries", 0)

	v.SetDefault("cache.backend", CacheMemory)
	v.SetDefault("cache.memory_size", 1000)
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.key_prefix", "cinescope:http:")
	v.SetDefault("cache.success_ttl", "6h")
	v.SetDefault("cache.not_found_ttl", "5m")
	v.SetDefault("cache.stale_while_revalidate", "60s")

	v.SetDefault("circuit_breaker.enabled", false)
	v.SetDefault("circuit_breaker.failure_threshold", 5)
	v.SetDefault("circuit_breaker.success_threshold", 2)
	v.SetDefault("circuit_breaker.timeout", "30s")

	v.SetDefault("server.addr", ":8080")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// bindEnv maps CINESCOPE_SECTION_KEY variables onto keys, plus the
// conventional OMDB_API_KEY and OMDB_BASE_URL names.
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("omdb.api_key", EnvPrefix+"_OMDB_API_KEY", "OMDB_API_KEY")
	_ = v.BindEnv("omdb.base_url", EnvPrefix+"_OMDB_BASE_URL", "OMDB_BASE_URL")
}

// validate checks if the configuration is valid.
func validate(cfg *Config) error {
	if cfg.OMDB.BaseURL == "" {
		return fmt.Errorf("omdb.base_url is required (set OMDB_BASE_URL, e.g. %s)", omdb.DefaultBaseURL)
	}
	if u, err := url.ParseRequestURI(cfg.OMDB.BaseURL); err != nil || u.Host == "" {
		return fmt.Errorf("omdb.base_url is not an absolute URL: %s", cfg.OMDB.BaseURL)
	}

	if cfg.OMDB.APIKey == "" {
		return fmt.Errorf("omdb.api_key is required (set OMDB_API_KEY)")
	}

	if cfg.OMDB.Timeout <= 0 {
		return fmt.Errorf("omdb.timeout must be positive")
	}

	if cfg.OMDB.MaxRetries < 0 {
		return fmt.Errorf("omdb.max_retries cannot be negative")
	}

	switch cfg.Cache.Backend {
	case CacheMemory, CacheNone:
	case CacheRedis:
		if cfg.Cache.RedisURL == "" {
			return fmt.Errorf("cache.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("invalid cache.backend: %s", cfg.Cache.Backend)
	}

	if cfg.Cache.MemorySize < 0 {
		return fmt.Errorf("cache.memory_size cannot be negative")
	}

	if cfg.Cache.SuccessTTL < 0 || cfg.Cache.NotFoundTTL < 0 || cfg.Cache.StaleWhileRevalidate < 0 {
		return fmt.Errorf("cache durations cannot be negative")
	}

	if _, err := parseLevel(cfg.Logging.Level); err != nil {
		return err
	}

	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logging format: %s", cfg.Logging.Format)
	}

	return nil
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid logging level: %s", level)
	}
}

// NewLogger builds the process logger writing to out. The json format uses
// the logger's default structured output.
func (c LoggingConfig) NewLogger(out io.Writer) *logging.Logger {
	level, err := parseLevel(c.Level)
	if err != nil {
		level = slog.LevelInfo
	}

	cfg := logging.Config{Level: level, Output: out}
	if c.Format == "text" {
		cfg.Format = logging.FormatText
	}
	return logging.New(cfg)
}
