package embed

import (
	"fmt"
	"time"
)

// Config contains configuration for creating an embedding provider.
type Config struct {
	// Provider selects the provider implementation ("http", "mock").
	Provider string

	// Endpoint is the base URL of the remote embedding service.
	Endpoint string

	// APIKey authenticates against the remote embedding service.
	APIKey string

	// Model is the provider's model identifier, used in collection naming.
	Model string

	// Dimensions is the embedding vector size the configured model produces.
	Dimensions int

	// Timeout bounds each HTTP call to the embedding service.
	Timeout time.Duration
}

// NewProvider creates an embedding provider based on the configuration.
func NewProvider(config Config) (Provider, error) {
	switch config.Provider {
	case "http", "": // empty defaults to http
		if config.Endpoint == "" {
			return nil, fmt.Errorf("embedding provider \"http\" requires an endpoint")
		}
		return newHTTPProvider(HTTPConfig{
			Endpoint:   config.Endpoint,
			APIKey:     config.APIKey,
			Model:      config.Model,
			Dimensions: config.Dimensions,
			Timeout:    config.Timeout,
		}), nil

	case "mock": // for testing
		return newMockProvider(), nil

	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (supported: http, mock)", config.Provider)
	}
}
