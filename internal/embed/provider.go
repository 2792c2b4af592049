package embed

import (
	"context"
	"time"
)

// EmbedMode specifies the type of embedding to generate.
type EmbedMode string

const (
	// EmbedModeQuery generates embeddings optimized for search queries.
	// Use this when embedding user questions or search terms.
	EmbedModeQuery EmbedMode = "query"

	// EmbedModePassage generates embeddings optimized for document passages.
	// Use this when embedding code chunks, documentation, or any searchable content.
	EmbedModePassage EmbedMode = "passage"
)

// Provider defines the interface for embedding text into vectors. It is
// the embedding provider spec.md §1 names as an external collaborator:
// health check; single embed; batch embed with token-aware sub-batching;
// reports model, dimensions, batch support.
type Provider interface {
	// HealthCheck reports whether the provider is currently reachable.
	HealthCheck(ctx context.Context) error

	// Embed converts a slice of text strings into their vector representations.
	// The mode parameter specifies whether embeddings are for queries or passages.
	// Returns a slice of vectors where each vector is a slice of float32 values.
	// Implementations are responsible for their own token-aware sub-batching;
	// the worker pool (internal/embedpool) never splits a call further.
	Embed(ctx context.Context, texts []string, mode EmbedMode) ([][]float32, error)

	// Dimensions returns the dimensionality of the embedding vectors produced by this provider.
	Dimensions() int

	// Model returns the provider's model identifier, used in collection naming.
	Model() string

	// SupportsBatch reports whether Embed accepts more than one text per call.
	SupportsBatch() bool

	// LastRateLimitWait returns how long the most recent Embed call spent
	// blocked on the provider's own rate limiter, for the worker pool's
	// throttle reporting (spec.md §4.D). Zero means no wait was observed.
	LastRateLimitWait() time.Duration

	// Close releases any resources held by the provider.
	Close() error
}
