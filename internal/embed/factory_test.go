package embed

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewProviderMock(t *testing.T) {
	p, err := NewProvider(Config{Provider: "mock"})
	require.NoError(t, err)
	require.Equal(t, "mock-embed", p.Model())
	require.True(t, p.SupportsBatch())
}

func TestNewProviderHTTPRequiresEndpoint(t *testing.T) {
	_, err := NewProvider(Config{Provider: "http"})
	require.Error(t, err)
}

func TestNewProviderHTTPEmbeds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2],[0.3,0.4]]}`))
	}))
	defer server.Close()

	p, err := NewProvider(Config{
		Provider:   "http",
		Endpoint:   server.URL,
		Model:      "test-model",
		Dimensions: 2,
	})
	require.NoError(t, err)
	require.Equal(t, "test-model", p.Model())
	require.Equal(t, 2, p.Dimensions())

	vectors, err := p.Embed(t.Context(), []string{"a", "b"}, EmbedModePassage)
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	require.NoError(t, p.HealthCheck(t.Context()))
}

func TestNewProviderHTTPRejectsUnknown(t *testing.T) {
	_, err := NewProvider(Config{Provider: "bogus"})
	require.Error(t, err)
}
