package config

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidPort indicates a port outside [1, 65535].
	ErrInvalidPort = errors.New("invalid port")

	// ErrInvalidLogLevel indicates a log level outside the recognised set.
	ErrInvalidLogLevel = errors.New("invalid log level")

	// ErrInvalidJWTExpiration indicates a non-positive JWT expiration.
	ErrInvalidJWTExpiration = errors.New("invalid jwt expiration")

	// ErrInvalidProvider indicates an unsupported embedding provider.
	ErrInvalidProvider = errors.New("invalid embedding provider")

	// ErrInvalidDimensions indicates invalid embedding dimensions.
	ErrInvalidDimensions = errors.New("invalid embedding dimensions")

	// ErrEmptyEndpoint indicates a missing embedding endpoint for a
	// provider that needs one.
	ErrEmptyEndpoint = errors.New("empty embedding endpoint")

	// ErrEmptyModel indicates a missing embedding model name.
	ErrEmptyModel = errors.New("empty embedding model")

	// ErrInvalidChunking indicates invalid chunk-size configuration.
	ErrInvalidChunking = errors.New("invalid chunking configuration")

	// ErrInvalidResourceLimit indicates a negative resource limit (zero
	// means unlimited; negative is never valid).
	ErrInvalidResourceLimit = errors.New("invalid resource limit")
)

var validLogLevels = map[string]bool{
	"DEBUG": true, "INFO": true, "WARNING": true, "ERROR": true, "CRITICAL": true,
}

// Validate checks that the configuration is valid and complete (spec.md
// §4.K): port in range, a recognised log level, a positive JWT
// expiration, and non-negative resource limits.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Port < 1 || cfg.Port > 65535 {
		errs = append(errs, fmt.Errorf("%w: must be in [1, 65535], got %d", ErrInvalidPort, cfg.Port))
	}
	if !validLogLevels[strings.ToUpper(cfg.LogLevel)] {
		errs = append(errs, fmt.Errorf("%w: must be one of DEBUG, INFO, WARNING, ERROR, CRITICAL, got '%s'", ErrInvalidLogLevel, cfg.LogLevel))
	}
	if cfg.JWTExpirationMinutes <= 0 {
		errs = append(errs, fmt.Errorf("%w: must be positive, got %d", ErrInvalidJWTExpiration, cfg.JWTExpirationMinutes))
	}

	if err := validateEmbedding(&cfg.Embedding); err != nil {
		errs = append(errs, err)
	}
	if err := validateChunking(&cfg.Chunking); err != nil {
		errs = append(errs, err)
	}
	if err := validateResources(&cfg.Resources); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return joinErrors(errs)
	}
	return nil
}

func validateEmbedding(cfg *EmbeddingConfig) error {
	var errs []error

	provider := strings.ToLower(cfg.Provider)
	if provider != "mock" && provider != "http" {
		errs = append(errs, fmt.Errorf("%w: must be 'mock' or 'http', got '%s'", ErrInvalidProvider, cfg.Provider))
	}
	if strings.TrimSpace(cfg.Model) == "" {
		errs = append(errs, fmt.Errorf("%w: model is required", ErrEmptyModel))
	}
	if cfg.Dimensions <= 0 {
		errs = append(errs, fmt.Errorf("%w: dimensions must be positive, got %d", ErrInvalidDimensions, cfg.Dimensions))
	}
	if provider == "http" && strings.TrimSpace(cfg.Endpoint) == "" {
		errs = append(errs, fmt.Errorf("%w: endpoint is required for the http provider", ErrEmptyEndpoint))
	}

	if len(errs) > 0 {
		return joinErrors(errs)
	}
	return nil
}

func validateChunking(cfg *ChunkingConfig) error {
	var errs []error

	if cfg.TargetSizeTokens <= 0 {
		errs = append(errs, fmt.Errorf("%w: target_size_tokens must be positive, got %d", ErrInvalidChunking, cfg.TargetSizeTokens))
	}
	if cfg.OverlapTokens < 0 {
		errs = append(errs, fmt.Errorf("%w: overlap_tokens cannot be negative, got %d", ErrInvalidChunking, cfg.OverlapTokens))
	}
	if cfg.TargetSizeTokens > 0 && cfg.OverlapTokens >= cfg.TargetSizeTokens {
		errs = append(errs, fmt.Errorf("%w: overlap_tokens (%d) should be less than target_size_tokens (%d)", ErrInvalidChunking, cfg.OverlapTokens, cfg.TargetSizeTokens))
	}

	if len(errs) > 0 {
		return joinErrors(errs)
	}
	return nil
}

func validateResources(cfg *ResourceLimits) error {
	var errs []error

	if cfg.MaxEmbedWorkers < 0 {
		errs = append(errs, fmt.Errorf("%w: max_embed_workers cannot be negative, got %d", ErrInvalidResourceLimit, cfg.MaxEmbedWorkers))
	}
	if cfg.MaxConcurrentIndexJobs < 0 {
		errs = append(errs, fmt.Errorf("%w: max_concurrent_index_jobs cannot be negative, got %d", ErrInvalidResourceLimit, cfg.MaxConcurrentIndexJobs))
	}
	if cfg.MaxWatchedDirectories < 0 {
		errs = append(errs, fmt.Errorf("%w: max_watched_directories cannot be negative, got %d", ErrInvalidResourceLimit, cfg.MaxWatchedDirectories))
	}
	if cfg.MaxWatchDepth < 0 {
		errs = append(errs, fmt.Errorf("%w: max_watch_depth cannot be negative, got %d", ErrInvalidResourceLimit, cfg.MaxWatchDepth))
	}

	if len(errs) > 0 {
		return joinErrors(errs)
	}
	return nil
}

// joinErrors combines multiple errors into a single error with clear formatting.
func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var msgs []string
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Errorf("validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}
