package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader provides configuration loading capabilities.
type Loader interface {
	// Load loads configuration from file and environment variables.
	// Priority: defaults → config file → environment variables (env wins).
	Load() (*Config, error)
}

type loader struct {
	rootDir string
}

// NewLoader creates a new configuration loader for the project rooted at
// rootDir; Load reads the config file from rootDir's .code-indexer directory.
func NewLoader(rootDir string) Loader {
	return &loader{rootDir: rootDir}
}

// Load loads configuration with the following priority (highest to
// lowest): environment variables, config file, defaults (spec.md §4.K).
// CIDX_* env vars override any field generically; HOST, PORT,
// JWT_EXPIRATION_MINUTES, and LOG_LEVEL are additionally recognised
// without the prefix, exactly as spec.md §4.K names them.
func (l *loader) Load() (*Config, error) {
	v := viper.New()

	configDir := filepath.Join(l.rootDir, ".code-indexer")
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)

	v.SetEnvPrefix("CIDX")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	bindUnprefixedEnv(v)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// bindUnprefixedEnv binds the four environment variables spec.md §4.K
// names literally (HOST, PORT, JWT_EXPIRATION_MINUTES, LOG_LEVEL),
// applied after the default and before validation, independent of the
// CIDX_* prefix AutomaticEnv otherwise requires.
func bindUnprefixedEnv(v *viper.Viper) {
	v.BindEnv("host", "HOST")
	v.BindEnv("port", "PORT")
	v.BindEnv("jwt_expiration_minutes", "JWT_EXPIRATION_MINUTES")
	v.BindEnv("log_level", "LOG_LEVEL")
}

// setDefaults configures viper with default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("host", d.Host)
	v.SetDefault("port", d.Port)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("jwt_expiration_minutes", d.JWTExpirationMinutes)

	v.SetDefault("daemon.auto_shutdown_on_idle", d.Daemon.AutoShutdownOnIdle)
	v.SetDefault("daemon.cache_ttl_seconds", d.Daemon.CacheTTLSeconds)
	v.SetDefault("daemon.eviction_interval_seconds", d.Daemon.EvictionIntervalSeconds)

	v.SetDefault("resources.max_embed_workers", d.Resources.MaxEmbedWorkers)
	v.SetDefault("resources.max_concurrent_index_jobs", d.Resources.MaxConcurrentIndexJobs)
	v.SetDefault("resources.max_watched_directories", d.Resources.MaxWatchedDirectories)
	v.SetDefault("resources.max_watch_depth", d.Resources.MaxWatchDepth)

	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.dimensions", d.Embedding.Dimensions)
	v.SetDefault("embedding.endpoint", d.Embedding.Endpoint)

	v.SetDefault("paths.include", d.Paths.Include)
	v.SetDefault("paths.exclude", d.Paths.Exclude)

	v.SetDefault("chunking.target_size_tokens", d.Chunking.TargetSizeTokens)
	v.SetDefault("chunking.overlap_tokens", d.Chunking.OverlapTokens)
}

// LoadConfig is a convenience function that creates a loader and loads
// config from the current working directory.
func LoadConfig() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	return NewLoader(wd).Load()
}

// LoadConfigFromDir loads configuration from a specific project root.
func LoadConfigFromDir(rootDir string) (*Config, error) {
	return NewLoader(rootDir).Load()
}
