package filewatch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/mvp-joe/codeindexd/internal/gittopology"
)

// gitWatcher is the concrete implementation of GitWatcher. It only supplies
// the "something under .git changed" trigger; resolving that into a branch
// name is delegated to internal/gittopology.Service, the same collaborator
// internal/smartindex's incremental strategy uses, so there is exactly one
// place in the codebase that knows how to turn git state into a branch
// name instead of this package re-parsing .git/HEAD on its own.
type gitWatcher struct {
	projectPath string
	gitDir      string
	git         gittopology.Service
	watcher     *fsnotify.Watcher
	lastBranch  string
	stopCh      chan struct{}
	doneCh      chan struct{}
	stopOnce    sync.Once
	mu          sync.RWMutex // Protects lastBranch
}

// NewGitWatcher creates a GitWatcher that reports branch switches for
// projectPath. git resolves the current branch; this watcher only decides
// when to ask again.
func NewGitWatcher(projectPath string, git gittopology.Service) (GitWatcher, error) {
	gitDir := filepath.Join(projectPath, ".git")
	if _, err := os.Stat(gitDir); err != nil {
		return nil, fmt.Errorf("cannot access %s: %w", gitDir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &gitWatcher{
		projectPath: projectPath,
		gitDir:      gitDir,
		git:         git,
		watcher:     watcher,
		lastBranch:  git.CurrentBranch(projectPath),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins monitoring .git for changes that might indicate a branch
// switch (HEAD being rewritten or recreated).
func (gw *gitWatcher) Start(ctx context.Context, callback func(oldBranch, newBranch string)) error {
	// Watch the .git directory instead of the HEAD file directly so we
	// still catch the change if HEAD is deleted and recreated.
	if err := gw.watcher.Add(gw.gitDir); err != nil {
		return fmt.Errorf("failed to watch .git directory: %w", err)
	}

	go gw.watch(ctx, callback)

	return nil
}

// Stop stops the watcher and cleans up resources.
func (gw *gitWatcher) Stop() error {
	var err error
	gw.stopOnce.Do(func() {
		close(gw.stopCh)
		<-gw.doneCh // Wait for goroutine to finish
		err = gw.watcher.Close()
	})
	return err
}

// watch is the main event loop.
func (gw *gitWatcher) watch(ctx context.Context, callback func(oldBranch, newBranch string)) {
	defer close(gw.doneCh)

	headPath := filepath.Join(gw.gitDir, "HEAD")

	for {
		select {
		case <-ctx.Done():
			return

		case <-gw.stopCh:
			return

		case event, ok := <-gw.watcher.Events:
			if !ok {
				return
			}

			// Only process events for the HEAD file
			if event.Name != headPath {
				continue
			}

			// Only care about WRITE, CREATE, and REMOVE events
			// (CREATE happens when HEAD is recreated after deletion)
			// (REMOVE happens when HEAD is deleted - we'll wait for recreation)
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) == 0 {
				continue
			}

			// If file was removed, skip this event (wait for recreation)
			if event.Op&fsnotify.Remove != 0 {
				continue
			}

			newBranch := gw.git.CurrentBranch(gw.projectPath)

			gw.mu.RLock()
			oldBranch := gw.lastBranch
			gw.mu.RUnlock()

			if newBranch != oldBranch {
				gw.mu.Lock()
				gw.lastBranch = newBranch
				gw.mu.Unlock()

				// Fire callback with panic recovery
				func() {
					defer func() {
						if r := recover(); r != nil {
							log.Printf("Warning: git watcher callback panic: %v", r)
						}
					}()
					callback(oldBranch, newBranch)
				}()
			}

		case err, ok := <-gw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("Git watcher error: %v", err)
		}
	}
}
