package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// httpProvider calls a remote embedding API over HTTP (e.g. Voyage AI,
// OpenAI-compatible endpoints). Grounded on the teacher's local-subprocess
// provider's request/response shape (POST {texts, mode} → {embeddings}),
// generalized from a localhost-only subprocess call to an arbitrary
// endpoint with bearer-token auth, since spec.md §1 treats the embedding
// provider as an external network collaborator rather than a managed
// child process.
type httpProvider struct {
	endpoint   string
	apiKey     string
	model      string
	dimensions int
	client     *http.Client

	mu           sync.Mutex
	lastRLWait   time.Duration
}

// HTTPConfig configures a remote embedding provider.
type HTTPConfig struct {
	Endpoint   string
	APIKey     string
	Model      string
	Dimensions int
	Timeout    time.Duration
}

func newHTTPProvider(cfg HTTPConfig) *httpProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &httpProvider{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		client:     &http.Client{Timeout: timeout},
	}
}

type embedRequest struct {
	Texts []string `json:"texts"`
	Mode  string   `json:"mode"`
	Model string   `json:"model,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// HealthCheck issues a lightweight request to confirm the endpoint is
// reachable, embedding a single short probe string.
func (p *httpProvider) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := p.Embed(ctx, []string{"ping"}, EmbedModeQuery)
	return err
}

// Embed posts texts to the provider's /embed endpoint. Token-aware
// sub-batching, if the provider's API requires it, happens inside the
// provider's own service — the pool never splits a call further.
func (p *httpProvider) Embed(ctx context.Context, texts []string, mode EmbedMode) ([][]float32, error) {
	reqBody := embedRequest{Texts: texts, Mode: string(mode), Model: p.model}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/embed", bytes.NewReader(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	var rlWait time.Duration
	if resp.StatusCode == http.StatusTooManyRequests {
		rlWait = time.Since(start)
	}
	p.recordRateLimitWait(rlWait)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding provider returned status %d", resp.StatusCode)
	}

	var embedResp embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedResp); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	return embedResp.Embeddings, nil
}

func (p *httpProvider) recordRateLimitWait(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastRLWait = d
}

// LastRateLimitWait returns how long the most recent Embed call spent
// waiting on a 429 response.
func (p *httpProvider) LastRateLimitWait() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRLWait
}

// Dimensions returns the configured embedding dimensionality.
func (p *httpProvider) Dimensions() int {
	return p.dimensions
}

// Model returns the configured model identifier.
func (p *httpProvider) Model() string {
	return p.model
}

// SupportsBatch reports true: all remote embedding APIs in the pack accept
// multiple texts per request.
func (p *httpProvider) SupportsBatch() bool {
	return true
}

// Close is a no-op: the HTTP client owns no long-lived resources beyond
// its connection pool, which net/http manages itself.
func (p *httpProvider) Close() error {
	return nil
}
