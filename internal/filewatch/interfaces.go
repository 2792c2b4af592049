package filewatch

import "context"

// FileWatcher monitors source files for changes with debouncing and
// pause/resume support (spec.md §4.F: the watch manager pauses file
// events while a branch switch is being reconciled).
type FileWatcher interface {
	// Start begins watching source directories, calling callback with debounced file changes.
	Start(ctx context.Context, callback func(files []string)) error

	// Stop stops the file watcher and cleans up resources.
	Stop() error

	// Pause stops firing callbacks but continues accumulating events.
	Pause()

	// Resume resumes firing callbacks. If events accumulated during pause, fires immediately.
	Resume()
}

// GitWatcher monitors .git/HEAD for branch switches, independent of file
// content changes.
type GitWatcher interface {
	// Start begins watching .git/HEAD, invoking callback(oldBranch, newBranch)
	// whenever the checked-out branch changes.
	Start(ctx context.Context, callback func(oldBranch, newBranch string)) error

	// Stop stops the git watcher and cleans up resources.
	Stop() error
}
