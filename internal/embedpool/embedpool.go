// Package embedpool is the bounded parallel embedding worker pool spec.md
// §4.D names: a fixed pool of workers consuming submitted chunks from a
// buffered channel that holds 4096 jobs (Submit blocks while it is full),
// calling a shared embed.Provider, with throughput and
// throttle reporting for the smart indexer's progress callback. Grounded
// on the teacher's indexing worker-pool shape
// (imicola-notebit/pkg/indexing/pipeline.go: channel-backed job queue,
// fixed goroutine count, mutex-guarded lifecycle state), generalized from
// a bare channel+WaitGroup pool to one supervised by
// golang.org/x/sync/errgroup and rate-limited by
// golang.org/x/sync/semaphore, whose weight equals the worker count and
// caps concurrent provider calls at that number.
package embedpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/mvp-joe/codeindexd/internal/embed"
	"github.com/mvp-joe/codeindexd/internal/errkind"
)

// Chunk is one unit of text submitted for embedding.
type Chunk struct {
	Text     string
	Mode     embed.EmbedMode
	Metadata any
}

// Result is a resolved embedding, or the error that prevented one.
type Result struct {
	Vector []float32
	Err    error
}

// Future resolves to exactly one Result once its worker finishes.
type Future <-chan Result

// ThroughputStats is the pool's rolling performance snapshot (spec.md
// §4.D), composed by the smart indexer into its progress callback text.
type ThroughputStats struct {
	FilesPerMinute  float64
	ChunksPerMinute float64
	AvgFileSeconds  float64
	ETASeconds      float64
	Throttled       bool
	ThrottleReason  string
}

// Info renders the "(files/min | chunks/min | ETA | throttle?)" string
// spec.md §4.E's processing loop appends to its progress callback.
func (s ThroughputStats) Info() string {
	eta := "n/a"
	if s.ETASeconds > 0 {
		eta = (time.Duration(s.ETASeconds * float64(time.Second))).Round(time.Second).String()
	}
	info := fmt.Sprintf("%.1f files/min | %.1f chunks/min | ETA %s", s.FilesPerMinute, s.ChunksPerMinute, eta)
	if s.Throttled {
		info += " | throttled: " + s.ThrottleReason
	}
	return info
}

const (
	throughputWindow  = 60 * time.Second
	rollingAvgSamples = 12
	throttleRateLimit = 500 * time.Millisecond
	throttleAvgFile   = 5 * time.Second
)

type sample struct {
	at       time.Time
	duration time.Duration
}

type job struct {
	chunk  Chunk
	future chan Result
}

// Pool runs a fixed number of workers against a shared embed.Provider. It
// never sub-batches on the provider's behalf (spec.md §4.D): each Chunk is
// one provider call's input item, and the provider owns any internal
// batching it needs.
type Pool struct {
	provider embed.Provider
	workers  int
	sem      *semaphore.Weighted

	jobs  chan job
	group *errgroup.Group

	lifecycle sync.Mutex
	started   bool
	closed    bool
	cancel    context.CancelFunc

	mu             sync.Mutex
	chunkSamples   []sample
	fileSamples    []sample
	remainingFiles int
}

// New creates a pool with the given worker concurrency. Workers is bounded
// by provider concurrency; spec.md §4.D is tested at 1, 4, and 8.
func New(provider embed.Provider, workers int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	return &Pool{
		provider: provider,
		workers:  workers,
		sem:      semaphore.NewWeighted(int64(workers)),
		jobs:     make(chan job, 4096),
	}
}

// Start launches the worker goroutines. Calling Start twice is a no-op.
func (p *Pool) Start(ctx context.Context) {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()
	if p.started {
		return
	}
	p.started = true

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	group, gctx := errgroup.WithContext(runCtx)
	p.group = group
	for i := 0; i < p.workers; i++ {
		group.Go(func() error {
			p.worker(gctx)
			return nil
		})
	}
}

func (p *Pool) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-p.jobs:
			if !ok {
				return
			}
			p.process(ctx, j)
		}
	}
}

func (p *Pool) process(ctx context.Context, j job) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		j.future <- Result{Err: err}
		close(j.future)
		return
	}
	defer p.sem.Release(1)

	start := time.Now()
	vectors, err := p.provider.Embed(ctx, []string{j.chunk.Text}, j.chunk.Mode)
	p.recordChunk(time.Since(start))

	if err != nil {
		j.future <- Result{Err: err}
		close(j.future)
		return
	}
	if len(vectors) != 1 {
		j.future <- Result{Err: errkind.New(errkind.PartialEmbeddingResponse,
			fmt.Sprintf("embedding provider returned %d vectors for 1 requested text", len(vectors)))}
		close(j.future)
		return
	}
	j.future <- Result{Vector: vectors[0]}
	close(j.future)
}

// Submit enqueues one chunk and returns a Future resolving to its
// embedding. Submit must not be called after Shutdown.
func (p *Pool) Submit(chunk Chunk) Future {
	future := make(chan Result, 1)
	p.lifecycle.Lock()
	closed := p.closed
	p.lifecycle.Unlock()
	if closed {
		future <- Result{Err: fmt.Errorf("embedpool: submit after shutdown")}
		close(future)
		return future
	}
	p.jobs <- job{chunk: chunk, future: future}
	return future
}

// RecordFileCompleted feeds one file's wall-clock processing time into the
// rolling average used for the per-file throttle signal and the ETA.
func (p *Pool) RecordFileCompleted(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	p.fileSamples = append(p.fileSamples, sample{at: now, duration: d})
	p.pruneLocked(now)
}

func (p *Pool) recordChunk(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	p.chunkSamples = append(p.chunkSamples, sample{at: now, duration: d})
	p.pruneLocked(now)
}

// SetRemainingFiles tells the pool how many files are left so Stats can
// compute an ETA.
func (p *Pool) SetRemainingFiles(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remainingFiles = n
}

func (p *Pool) pruneLocked(now time.Time) {
	cutoff := now.Add(-throughputWindow)
	p.chunkSamples = prune(p.chunkSamples, cutoff)
	p.fileSamples = prune(p.fileSamples, cutoff)
}

func prune(samples []sample, cutoff time.Time) []sample {
	i := 0
	for i < len(samples) && samples[i].at.Before(cutoff) {
		i++
	}
	return samples[i:]
}

func ratePerMinute(samples []sample, now time.Time) float64 {
	if len(samples) == 0 {
		return 0
	}
	span := now.Sub(samples[0].at).Seconds()
	if span <= 0 {
		span = 1
	}
	return float64(len(samples)) / span * 60
}

func (p *Pool) avgFileSecondsLocked() float64 {
	n := len(p.fileSamples)
	if n == 0 {
		return 0
	}
	if n > rollingAvgSamples {
		n = rollingAvgSamples
	}
	tail := p.fileSamples[len(p.fileSamples)-n:]
	var sum time.Duration
	for _, s := range tail {
		sum += s.duration
	}
	return (sum / time.Duration(n)).Seconds()
}

// Stats computes the current throughput snapshot. A throttle is reported
// when the provider's last observed rate-limit wait exceeds 500ms, or when
// the rolling per-file average exceeds 5s (spec.md §4.D); quota-exhaustion
// throttling is not implemented since embed.Provider exposes no quota
// signal — only a rate-limit-wait duration.
func (p *Pool) Stats() ThroughputStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	p.pruneLocked(now)

	avgFile := p.avgFileSecondsLocked()
	rl := p.provider.LastRateLimitWait()

	throttled := false
	reason := ""
	switch {
	case rl > throttleRateLimit:
		throttled = true
		reason = fmt.Sprintf("provider rate-limit wait %.1fs", rl.Seconds())
	case avgFile > throttleAvgFile.Seconds():
		throttled = true
		reason = fmt.Sprintf("average per-file time %.1fs exceeds %.0fs threshold", avgFile, throttleAvgFile.Seconds())
	}

	var eta float64
	filesPerMin := ratePerMinute(p.fileSamples, now)
	if filesPerMin > 0 && p.remainingFiles > 0 {
		eta = float64(p.remainingFiles) / filesPerMin * 60
	}

	return ThroughputStats{
		FilesPerMinute:  filesPerMin,
		ChunksPerMinute: ratePerMinute(p.chunkSamples, now),
		AvgFileSeconds:  avgFile,
		ETASeconds:      eta,
		Throttled:       throttled,
		ThrottleReason:  reason,
	}
}

// Shutdown stops accepting new work, drains in-flight jobs, and waits for
// every worker to exit.
func (p *Pool) Shutdown() error {
	p.lifecycle.Lock()
	if p.closed {
		p.lifecycle.Unlock()
		return nil
	}
	p.closed = true
	group := p.group
	cancel := p.cancel
	p.lifecycle.Unlock()

	close(p.jobs)
	if group == nil {
		return nil
	}
	err := group.Wait()
	if cancel != nil {
		cancel()
	}
	return err
}
