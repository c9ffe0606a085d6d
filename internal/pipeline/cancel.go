package pipeline

import (
	"os"
	"sync"
	"sync/atomic"
)

// Token is the cooperative cancellation object shared by every pipeline
// stage. Any component may request cancellation (an OS signal handler, the
// progress sink, the API); every long-running loop checks it and stops
// promptly. The token also carries the intermediate-file registry so cleanup
// happens even when a run dies halfway through.
type Token struct {
	cancelled atomic.Bool

	mu    sync.Mutex
	files map[string]struct{}
}

// NewToken returns a fresh, uncancelled token with an empty file registry.
func NewToken() *Token {
	return &Token{files: make(map[string]struct{})}
}

// Cancel sets the cancellation flag. Safe to call from any goroutine, and
// from an OS signal handler. Idempotent.
func (t *Token) Cancel() {
	t.cancelled.Store(true)
}

// Cancelled reports whether cancellation has been requested.
func (t *Token) Cancelled() bool {
	return t.cancelled.Load()
}

// Register records intermediate files so they are removed on Cleanup.
func (t *Token) Register(paths ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range paths {
		if p != "" {
			t.files[p] = struct{}{}
		}
	}
}

// Release forgets a path without deleting it. Used when an intermediate file
// is promoted to an output the caller keeps.
func (t *Token) Release(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.files, path)
}

// Registered returns the number of files currently tracked.
func (t *Token) Registered() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.files)
}

// Cleanup deletes every registered file best-effort and drains the registry.
// Missing files are not errors.
func (t *Token) Cleanup() {
	t.mu.Lock()
	paths := make([]string, 0, len(t.files))
	for p := range t.files {
		paths = append(paths, p)
	}
	t.files = make(map[string]struct{})
	t.mu.Unlock()

	for _, p := range paths {
		os.Remove(p)
	}
}
