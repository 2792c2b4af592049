package embedpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mvp-joe/codeindexd/internal/embed"
	"github.com/mvp-joe/codeindexd/internal/errkind"
)

func TestSubmitResolvesEmbedding(t *testing.T) {
	provider := embed.NewMockProvider()
	pool := New(provider, 4)
	pool.Start(t.Context())
	defer pool.Shutdown()

	future := pool.Submit(Chunk{Text: "func main() {}", Mode: embed.EmbedModePassage})
	result := <-future
	require.NoError(t, result.Err)
	require.Len(t, result.Vector, provider.Dimensions())
}

func TestSubmitManyChunksConcurrently(t *testing.T) {
	provider := embed.NewMockProvider()
	pool := New(provider, 8)
	pool.Start(t.Context())
	defer pool.Shutdown()

	var futures []Future
	for i := 0; i < 50; i++ {
		futures = append(futures, pool.Submit(Chunk{Text: "chunk", Mode: embed.EmbedModePassage}))
	}
	for _, f := range futures {
		result := <-f
		require.NoError(t, result.Err)
	}

	stats := pool.Stats()
	require.Greater(t, stats.ChunksPerMinute, 0.0)
}

func TestProviderErrorPropagates(t *testing.T) {
	provider := embed.NewMockProvider()
	provider.SetEmbedError(errkind.New(errkind.NetworkError, "provider unreachable"))
	pool := New(provider, 2)
	pool.Start(t.Context())
	defer pool.Shutdown()

	future := pool.Submit(Chunk{Text: "x", Mode: embed.EmbedModeQuery})
	result := <-future
	require.Error(t, result.Err)
}

func TestThrottleSignalFromRateLimitWait(t *testing.T) {
	provider := embed.NewMockProvider()
	provider.SetRateLimitWait(time.Second)
	pool := New(provider, 2)
	pool.Start(t.Context())
	defer pool.Shutdown()

	future := pool.Submit(Chunk{Text: "x", Mode: embed.EmbedModeQuery})
	<-future

	stats := pool.Stats()
	require.True(t, stats.Throttled)
	require.Contains(t, stats.ThrottleReason, "rate-limit wait")
}

func TestShutdownRejectsFurtherSubmits(t *testing.T) {
	provider := embed.NewMockProvider()
	pool := New(provider, 2)
	pool.Start(t.Context())
	require.NoError(t, pool.Shutdown())

	future := pool.Submit(Chunk{Text: "x", Mode: embed.EmbedModeQuery})
	result := <-future
	require.Error(t, result.Err)
}

func TestPartialEmbeddingResponseErrorKind(t *testing.T) {
	err := errkind.New(errkind.PartialEmbeddingResponse, "mismatch")
	require.Equal(t, errkind.PartialEmbeddingResponse, errkind.KindOf(err))
}
