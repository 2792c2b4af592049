package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mvp-joe/codeindexd/internal/cache"
	"github.com/mvp-joe/codeindexd/internal/config"
	"github.com/mvp-joe/codeindexd/internal/daemon"
	"github.com/mvp-joe/codeindexd/internal/embed"
	"github.com/mvp-joe/codeindexd/internal/embedpool"
	"github.com/mvp-joe/codeindexd/internal/filewatch"
	"github.com/mvp-joe/codeindexd/internal/ftsindex"
	"github.com/mvp-joe/codeindexd/internal/gittopology"
	"github.com/mvp-joe/codeindexd/internal/metadata"
	"github.com/mvp-joe/codeindexd/internal/query"
	"github.com/mvp-joe/codeindexd/internal/rpcwire"
	"github.com/mvp-joe/codeindexd/internal/smartindex"
	"github.com/mvp-joe/codeindexd/internal/vectorstore"
	"github.com/mvp-joe/codeindexd/internal/watchmgr"
	"github.com/spf13/cobra"
)

const collectionBase = "codeindexd"

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the indexing daemon for --project in the foreground",
	Long: `Start the indexing daemon.

The daemon binds <project>/.code-indexer/daemon.sock; binding the socket
is itself the single-instance lock (spec.md §4.H), so running "daemon
start" a second time against the same project exits immediately once it
detects the live socket.

This command normally isn't run directly: client commands (query, index,
watch, clean) auto-start the daemon on demand and exit once it is
reachable. Run it directly to keep the daemon attached to a terminal.`,
	RunE: runDaemonStart,
}

func init() {
	daemonCmd.AddCommand(daemonStartCmd)
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	if err := ensureConfigFile(); err != nil {
		return fmt.Errorf("failed to prepare configuration: %w", err)
	}

	dir, err := stateDir()
	if err != nil {
		return err
	}

	logFile, err := os.OpenFile(filepath.Join(dir, "daemon.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open daemon.log: %w", err)
	}
	defer logFile.Close()

	var logWriter io.Writer = logFile
	if verbose {
		logWriter = io.MultiWriter(logFile, os.Stderr)
	}
	logger := log.New(logWriter, "", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.LoadConfigFromDir(projectPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	svc, cleanup, err := buildService(projectPath, dir, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize daemon: %w", err)
	}
	defer cleanup()

	sockPath := filepath.Join(dir, "daemon.sock")
	listener, err := daemon.BindSocket(sockPath)
	if err != nil {
		return fmt.Errorf("failed to bind socket: %w", err)
	}
	defer os.Remove(sockPath)

	srv := rpcwire.NewServer()
	svc.Register(srv)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	svc.OnShutdown(func() {
		logger.Printf("shutdown requested via RPC")
		cancel()
	})

	logger.Printf("codeindexd started (pid %d) on %s", os.Getpid(), sockPath)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx, listener) }()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Printf("serve error: %v", err)
		}
	}

	logger.Printf("codeindexd shutting down")
	return nil
}

// buildService constructs every domain package the daemon's RPC surface
// depends on, in the teacher's constructor-injection style (no package
// globals), and returns a cleanup func releasing the owned resources.
func buildService(projPath, stateDir string, cfg *config.Config, logger *log.Logger) (*daemon.Service, func(), error) {
	cacheStore := cache.NewStore(cfg.Daemon.AutoShutdownOnIdle)

	evictionInterval := time.Duration(cfg.Daemon.EvictionIntervalSeconds) * time.Second
	if evictionInterval <= 0 {
		evictionInterval = 60 * time.Second
	}
	cacheStore.StartEvictionLoop(evictionInterval)

	vectors, err := vectorstore.Open(filepath.Join(stateDir, "index"))
	if err != nil {
		cacheStore.StopEvictionLoop()
		return nil, nil, fmt.Errorf("failed to open vector store: %w", err)
	}

	fts, err := ftsindex.Open(filepath.Join(stateDir, "tantivy_index"))
	if err != nil {
		cacheStore.StopEvictionLoop()
		return nil, nil, fmt.Errorf("failed to open fts index: %w", err)
	}

	meta, err := metadata.Open(filepath.Join(stateDir, "metadata.json"))
	if err != nil {
		cacheStore.StopEvictionLoop()
		fts.Close()
		return nil, nil, fmt.Errorf("failed to open metadata store: %w", err)
	}

	provider, err := embed.NewProvider(embed.Config{
		Provider:   cfg.Embedding.Provider,
		Endpoint:   cfg.Embedding.Endpoint,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
	})
	if err != nil {
		cacheStore.StopEvictionLoop()
		fts.Close()
		return nil, nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}

	pool := embedpool.New(provider, cfg.Resources.MaxEmbedWorkers)
	poolCtx, poolCancel := context.WithCancel(context.Background())
	pool.Start(poolCtx)

	git := gittopology.New()
	watch := watchmgr.New(git)

	runner := &smartindex.Runner{
		ProjectPath:  projPath,
		Collection:   vectorstore.CollectionName(collectionBase, projPath, cfg.Embedding.Provider, provider.Model()),
		Metadata:     meta,
		Vectors:      vectors,
		Pool:         pool,
		Provider:     provider,
		ProviderName: cfg.Embedding.Provider,
		Git:          git,
		FTS:          fts,
	}

	cacheTTL := time.Duration(cfg.Daemon.CacheTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 600 * time.Second
	}
	queryService := &query.Service{
		Cache:          cacheStore,
		Vectors:        vectors,
		FTS:            fts,
		Provider:       provider,
		ProviderName:   cfg.Embedding.Provider,
		CollectionBase: collectionBase,
		TTL:            cacheTTL,
	}

	watchLimits := filewatch.Limits{
		MaxDirectories: cfg.Resources.MaxWatchedDirectories,
		MaxDepth:       cfg.Resources.MaxWatchDepth,
	}

	svc := &daemon.Service{
		ProjectPath:     projPath,
		CollectionBase:  collectionBase,
		IncludePatterns: cfg.Paths.Include,
		ExcludePatterns: cfg.Paths.Exclude,
		WatchLimits:     watchLimits,
		Cache:           cacheStore,
		Vectors:         vectors,
		FTS:             fts,
		Metadata:        meta,
		Git:             git,
		Watch:           watch,
		Runner:          runner,
		Query:           queryService,
	}

	cleanup := func() {
		cacheStore.StopEvictionLoop()
		cacheStore.Drop()
		if err := pool.Shutdown(); err != nil {
			logger.Printf("embed pool shutdown error: %v", err)
		}
		poolCancel()
		if err := provider.Close(); err != nil {
			logger.Printf("embed provider close error: %v", err)
		}
		if err := fts.Close(); err != nil {
			logger.Printf("fts index close error: %v", err)
		}
		logger.Printf("released daemon resources")
	}

	return svc, cleanup, nil
}
