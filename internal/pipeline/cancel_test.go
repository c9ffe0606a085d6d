package pipeline

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestTokenCancelIsIdempotent(t *testing.T) {
	token := NewToken()
	if token.Cancelled() {
		t.Fatal("fresh token already cancelled")
	}

	token.Cancel()
	token.Cancel()
	if !token.Cancelled() {
		t.Fatal("token not cancelled after Cancel")
	}
}

func TestTokenCleanupRemovesRegisteredFiles(t *testing.T) {
	dir := t.TempDir()
	token := NewToken()

	var paths []string
	for i := 0; i < 3; i++ {
		p := filepath.Join(dir, filepath.Base(t.Name())+string(rune('a'+i)))
		if err := os.WriteFile(p, []byte("temp"), 0644); err != nil {
			t.Fatalf("write temp: %v", err)
		}
		paths = append(paths, p)
	}
	token.Register(paths...)
	// Missing files must not break cleanup.
	token.Register(filepath.Join(dir, "never_created.mp4"))

	if got := token.Registered(); got != 4 {
		t.Fatalf("expected 4 registered, got %d", got)
	}

	token.Cleanup()

	if got := token.Registered(); got != 0 {
		t.Errorf("registry not drained: %d", got)
	}
	for _, p := range paths {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("file survived cleanup: %s", p)
		}
	}
}

func TestTokenReleaseKeepsFile(t *testing.T) {
	dir := t.TempDir()
	token := NewToken()

	keep := filepath.Join(dir, "keep.mp4")
	if err := os.WriteFile(keep, []byte("output"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	token.Register(keep)
	token.Release(keep)
	token.Cleanup()

	if _, err := os.Stat(keep); err != nil {
		t.Errorf("released file was deleted: %v", err)
	}
}

func TestTokenIgnoresEmptyPaths(t *testing.T) {
	token := NewToken()
	token.Register("", "")
	if got := token.Registered(); got != 0 {
		t.Errorf("empty paths registered: %d", got)
	}
}

func TestTokenConcurrentUse(t *testing.T) {
	dir := t.TempDir()
	token := NewToken()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p := filepath.Join(dir, filepath.Base(t.Name())+string(rune('a'+n)))
			os.WriteFile(p, []byte("x"), 0644)
			token.Register(p)
			if n%2 == 0 {
				token.Cancel()
			}
			token.Cancelled()
		}(i)
	}
	wg.Wait()

	if !token.Cancelled() {
		t.Error("token should be cancelled")
	}
	token.Cleanup()
	if token.Registered() != 0 {
		t.Error("registry not drained")
	}
}
