// Package config loads and validates the daemon's configuration (spec.md
// §4.K): read once at startup from `.code-indexer/config.yml`, with
// environment overrides applied before validation. Grounded on the
// teacher's internal/config/config.go shape (a plain struct tree plus a
// Default() and a viper-backed Loader), generalized from the teacher's
// embedding/paths/chunking-only config into the full set §4.K names:
// network address, log level, JWT expiration, and resource limits.
package config

// Config is the daemon's complete, validated configuration tree.
type Config struct {
	Host                 string `yaml:"host" mapstructure:"host"`
	Port                 int    `yaml:"port" mapstructure:"port"`
	LogLevel             string `yaml:"log_level" mapstructure:"log_level"`
	JWTExpirationMinutes int    `yaml:"jwt_expiration_minutes" mapstructure:"jwt_expiration_minutes"`

	Daemon    DaemonConfig    `yaml:"daemon" mapstructure:"daemon"`
	Resources ResourceLimits  `yaml:"resources" mapstructure:"resources"`
	Embedding EmbeddingConfig `yaml:"embedding" mapstructure:"embedding"`
	Paths     PathsConfig     `yaml:"paths" mapstructure:"paths"`
	Chunking  ChunkingConfig  `yaml:"chunking" mapstructure:"chunking"`
}

// DaemonConfig holds the daemon process's own lifecycle settings.
type DaemonConfig struct {
	// AutoShutdownOnIdle resolves spec.md §9's open question about
	// auto_shutdown_on_idle: an explicit, validated field rather than a
	// duck-typed attribute probe.
	AutoShutdownOnIdle      bool `yaml:"auto_shutdown_on_idle" mapstructure:"auto_shutdown_on_idle"`
	CacheTTLSeconds         int  `yaml:"cache_ttl_seconds" mapstructure:"cache_ttl_seconds"`
	EvictionIntervalSeconds int  `yaml:"eviction_interval_seconds" mapstructure:"eviction_interval_seconds"`
}

// ResourceLimits bounds the daemon's concurrency; every limit defaults to
// 0, meaning unlimited (spec.md §4.K: "resource limits default to
// unlimited"), except the watch-directory limits below: an unbounded
// recursive fsnotify watch can exhaust the OS's inotify instance limit, so
// 0 there means "use the built-in default", not "unlimited".
type ResourceLimits struct {
	MaxEmbedWorkers        int `yaml:"max_embed_workers" mapstructure:"max_embed_workers"`
	MaxConcurrentIndexJobs int `yaml:"max_concurrent_index_jobs" mapstructure:"max_concurrent_index_jobs"`
	MaxWatchedDirectories  int `yaml:"max_watched_directories" mapstructure:"max_watched_directories"`
	MaxWatchDepth          int `yaml:"max_watch_depth" mapstructure:"max_watch_depth"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider" mapstructure:"provider"` // "mock" or "http"
	Model      string `yaml:"model" mapstructure:"model"`
	Dimensions int    `yaml:"dimensions" mapstructure:"dimensions"`
	Endpoint   string `yaml:"endpoint" mapstructure:"endpoint"`
}

// PathsConfig defines which files to index and which to ignore.
type PathsConfig struct {
	Include []string `yaml:"include" mapstructure:"include"`
	Exclude []string `yaml:"exclude" mapstructure:"exclude"`
}

// ChunkingConfig defines how content is chunked for indexing.
type ChunkingConfig struct {
	TargetSizeTokens int `yaml:"target_size_tokens" mapstructure:"target_size_tokens"`
	OverlapTokens    int `yaml:"overlap_tokens" mapstructure:"overlap_tokens"`
}

// Default returns a configuration with sensible defaults; every field
// here must independently satisfy Validate.
func Default() *Config {
	return &Config{
		Host:                 "127.0.0.1",
		Port:                 8080,
		LogLevel:             "INFO",
		JWTExpirationMinutes: 60,
		Daemon: DaemonConfig{
			AutoShutdownOnIdle:      false,
			CacheTTLSeconds:         600,
			EvictionIntervalSeconds: 60,
		},
		Resources: ResourceLimits{
			MaxEmbedWorkers:        0,
			MaxConcurrentIndexJobs: 0,
			MaxWatchedDirectories:  1000,
			MaxWatchDepth:          10,
		},
		Embedding: EmbeddingConfig{
			Provider:   "mock",
			Model:      "mock-384",
			Dimensions: 384,
			Endpoint:   "",
		},
		Paths: PathsConfig{
			Include: []string{
				"**/*.go", "**/*.ts", "**/*.tsx", "**/*.js", "**/*.jsx",
				"**/*.py", "**/*.rs", "**/*.c", "**/*.cpp", "**/*.h",
				"**/*.hpp", "**/*.java", "**/*.rb", "**/*.md",
			},
			Exclude: []string{
				"node_modules/**", "vendor/**", ".git/**", "dist/**",
				"build/**", "target/**", "__pycache__/**",
				".code-indexer/**",
			},
		},
		Chunking: ChunkingConfig{
			TargetSizeTokens: 400,
			OverlapTokens:    50,
		},
	}
}
