package services

import (
	"context"
	"errors"
	"testing"
)

type stubSource struct {
	paths []string
	err   error
	calls int
}

func (s *stubSource) Fetch(ctx context.Context, query string, minDuration float64) ([]string, error) {
	s.calls++
	return s.paths, s.err
}

func TestVisualChainFirstSourceWins(t *testing.T) {
	primary := &stubSource{paths: []string{"stock.mp4"}}
	fallback := &stubSource{paths: []string{"generated.png"}}

	chain := NewVisualChain(primary, fallback)
	paths, err := chain.Fetch(context.Background(), "ocean", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(paths) != 1 || paths[0] != "stock.mp4" {
		t.Errorf("expected primary result, got %v", paths)
	}
	if fallback.calls != 0 {
		t.Errorf("fallback consulted despite primary success: %d calls", fallback.calls)
	}
}

func TestVisualChainFallsThrough(t *testing.T) {
	primary := &stubSource{err: errors.New("quota exceeded")}
	fallback := &stubSource{paths: []string{"generated.png"}}

	chain := NewVisualChain(primary, fallback)
	paths, err := chain.Fetch(context.Background(), "ocean", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(paths) != 1 || paths[0] != "generated.png" {
		t.Errorf("expected fallback result, got %v", paths)
	}
}

func TestVisualChainAllFail(t *testing.T) {
	chain := NewVisualChain(
		&stubSource{err: errors.New("down")},
		&stubSource{err: errors.New("also down")},
	)
	if _, err := chain.Fetch(context.Background(), "ocean", 5); err == nil {
		t.Fatal("expected error when every source fails")
	}
}

func TestVisualChainEmpty(t *testing.T) {
	chain := NewVisualChain()
	if _, err := chain.Fetch(context.Background(), "ocean", 5); err == nil {
		t.Fatal("expected error with no sources")
	}
}

func TestBestFileLinkPrefersLargestUnderCap(t *testing.T) {
	v := pexelsVideo{
		VideoFiles: []pexelsVideoFile{
			{Link: "tiny", Width: 360},
			{Link: "good", Width: 1080},
			{Link: "huge", Width: 3840},
		},
	}
	if got := bestFileLink(v); got != "good" {
		t.Errorf("expected 1080p rendition, got %s", got)
	}
}

func TestBestFileLinkFallsBackWhenAllOversized(t *testing.T) {
	v := pexelsVideo{
		VideoFiles: []pexelsVideoFile{{Link: "huge", Width: 3840}},
	}
	if got := bestFileLink(v); got != "huge" {
		t.Errorf("expected fallback to first file, got %s", got)
	}
}
