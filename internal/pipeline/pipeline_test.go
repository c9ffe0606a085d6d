package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/reelworks/shortgen/internal/models"
)

// fakeEncoder is an in-memory Encoder: "encoding" writes a marker file,
// probing consults a duration map (default 1s), and concat captures the
// manifest contents.
type fakeEncoder struct {
	mu        sync.Mutex
	durations map[string]float64
	manifests []string
	rendered  []models.StaticSegment

	renderErr    error
	prerenderErr error
	validateErr  error
	concatErr    error

	// onRender, when set, runs before the default behavior and may cancel a
	// token or fail selectively.
	onRender func(seg models.StaticSegment, outputPath string) error
}

func newFakeEncoder() *fakeEncoder {
	return &fakeEncoder{durations: make(map[string]float64)}
}

func (f *fakeEncoder) RenderSegment(ctx context.Context, seg models.StaticSegment, fps int, outputPath string) error {
	if f.onRender != nil {
		if err := f.onRender(seg, outputPath); err != nil {
			return err
		}
	}
	if f.renderErr != nil {
		return f.renderErr
	}
	f.mu.Lock()
	f.rendered = append(f.rendered, seg)
	f.mu.Unlock()
	return os.WriteFile(outputPath, []byte("video"), 0644)
}

func (f *fakeEncoder) PrerenderSegment(ctx context.Context, seg models.StaticSegment, fps int, outputPath string) error {
	if f.prerenderErr != nil {
		return f.prerenderErr
	}
	return os.WriteFile(outputPath, []byte("baked"), 0644)
}

func (f *fakeEncoder) ValidateDecodable(ctx context.Context, path string) error {
	if f.validateErr != nil {
		return f.validateErr
	}
	if _, err := os.Stat(path); err != nil {
		return err
	}
	return nil
}

func (f *fakeEncoder) ProbeDuration(ctx context.Context, path string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if dur, ok := f.durations[path]; ok {
		return dur, nil
	}
	return 1.0, nil
}

func (f *fakeEncoder) Concat(ctx context.Context, manifestPath, outputPath string) error {
	if f.concatErr != nil {
		return f.concatErr
	}
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.manifests = append(f.manifests, string(data))
	f.mu.Unlock()
	return os.WriteFile(outputPath, []byte("concatenated"), 0644)
}

type fakeSynth struct {
	dir  string
	fail bool
}

func (f *fakeSynth) Synthesize(ctx context.Context, text, voiceStyle string) (string, error) {
	if f.fail {
		return "", errors.New("tts down")
	}
	path := filepath.Join(f.dir, fmt.Sprintf("narr_%d.mp3", len(text)))
	return path, os.WriteFile(path, []byte("audio"), 0644)
}

type fakeVisuals struct {
	dir  string
	fail bool
}

func (f *fakeVisuals) Fetch(ctx context.Context, query string, minDuration float64) ([]string, error) {
	if f.fail {
		return nil, errors.New("no footage")
	}
	path := filepath.Join(f.dir, fmt.Sprintf("bg_%d.mp4", len(query)))
	return []string{path}, os.WriteFile(path, []byte("stock"), 0644)
}

func sourceFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("media"), 0644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return path
}

func staticSegments(t *testing.T, dir string, n int) []models.Segment {
	segments := make([]models.Segment, n)
	for i := range segments {
		segments[i] = models.StaticSegment{
			SourcePath: sourceFile(t, dir, fmt.Sprintf("src_%d.mp4", i)),
			Duration:   2,
		}
	}
	return segments
}

func TestRenderSegmentsHappyPath(t *testing.T) {
	dir := t.TempDir()
	enc := newFakeEncoder()
	p := New(enc, nil, nil, NewToken(), dir)

	out := filepath.Join(dir, "final.mp4")
	got, err := p.RenderSegments(context.Background(), staticSegments(t, dir, 5), out, 30, NewEstimator(NopProgress))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != out {
		t.Errorf("expected %s, got %s", out, got)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("final output missing: %v", err)
	}
	if len(manifestLines(enc.manifests[0])) != 5 {
		t.Errorf("expected 5 segments concatenated, got %v", enc.manifests[0])
	}
}

func TestRenderSegmentsAbsorbsPartialFailure(t *testing.T) {
	dir := t.TempDir()
	enc := newFakeEncoder()
	enc.onRender = func(seg models.StaticSegment, outputPath string) error {
		if strings.Contains(seg.SourcePath, "src_1") {
			return errors.New("encoder crash")
		}
		return nil
	}
	p := New(enc, nil, nil, NewToken(), dir)

	out := filepath.Join(dir, "final.mp4")
	if _, err := p.RenderSegments(context.Background(), staticSegments(t, dir, 4), out, 30, NewEstimator(NopProgress)); err != nil {
		t.Fatalf("one bad segment must not fail the run: %v", err)
	}
	if len(manifestLines(enc.manifests[0])) != 3 {
		t.Errorf("expected 3 surviving segments, got %v", enc.manifests[0])
	}
}

func TestRenderSegmentsAllFailing(t *testing.T) {
	dir := t.TempDir()
	enc := newFakeEncoder()
	enc.renderErr = errors.New("encoder dead")
	p := New(enc, nil, nil, NewToken(), dir)

	_, err := p.RenderSegments(context.Background(), staticSegments(t, dir, 3), filepath.Join(dir, "final.mp4"), 30, NewEstimator(NopProgress))
	if !errors.Is(err, ErrNoRenderableSegments) {
		t.Fatalf("expected ErrNoRenderableSegments, got %v", err)
	}
}

func TestRenderSegmentsCancelMidBatch(t *testing.T) {
	dir := t.TempDir()
	token := NewToken()
	enc := newFakeEncoder()
	enc.onRender = func(seg models.StaticSegment, outputPath string) error {
		token.Cancel()
		return nil
	}
	p := New(enc, nil, nil, token, dir)
	p.Workers = 1

	_, err := p.RenderSegments(context.Background(), staticSegments(t, dir, 10), filepath.Join(dir, "final.mp4"), 30, NewEstimator(NopProgress))
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}
}

func TestRenderSegmentsBakesComplexSegments(t *testing.T) {
	dir := t.TempDir()
	enc := newFakeEncoder()
	p := New(enc, nil, nil, NewToken(), dir)

	animated := models.AnimatedSegment{
		StaticSegment: models.StaticSegment{
			SourcePath: sourceFile(t, dir, "animated_src.mp4"),
			Duration:   3,
			Overlay:    &models.Overlay{ImagePath: "ov.png", Scale: 1},
		},
		PositionFn: func(t float64) (float64, float64) { return 0.5, 0.5 },
	}
	segments := []models.Segment{animated, staticSegments(t, dir, 1)[0]}

	out := filepath.Join(dir, "final.mp4")
	if _, err := p.RenderSegments(context.Background(), segments, out, 30, NewEstimator(NopProgress)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The animated segment must reach the final encode as its baked file, not
	// the raw source.
	foundBaked := false
	for _, seg := range enc.rendered {
		if strings.Contains(seg.SourcePath, "prerender_0_") {
			foundBaked = true
		}
		if strings.Contains(seg.SourcePath, "animated_src") {
			t.Errorf("complex segment reached the pool unflattened: %s", seg.SourcePath)
		}
	}
	if !foundBaked {
		t.Error("pre-rendered file never reached the pool")
	}
}

func TestRenderEndToEnd(t *testing.T) {
	dir := t.TempDir()
	enc := newFakeEncoder()
	token := NewToken()
	p := New(enc, &fakeSynth{dir: dir}, &fakeVisuals{dir: dir}, token, dir)

	sections := []models.Section{
		{Text: "the hook", Duration: 5},
		{Text: "the middle part of the story", Duration: 5},
		{Text: "the payoff", Duration: 5},
	}

	out := filepath.Join(dir, "final.mp4")
	got, err := p.Render(context.Background(), sections, 12, out, 30, NopProgress)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != out {
		t.Errorf("expected %s, got %s", out, got)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("final output missing: %v", err)
	}
	if TotalDuration(sections) > 12+1e-9 {
		t.Errorf("durations not fitted to budget: %f", TotalDuration(sections))
	}
	if token.Registered() != 0 {
		t.Errorf("registry not drained after run: %d files", token.Registered())
	}
}

func TestRenderSurvivesTTSAndVisualFailures(t *testing.T) {
	dir := t.TempDir()
	enc := newFakeEncoder()
	p := New(enc, &fakeSynth{fail: true}, &fakeVisuals{dir: dir}, NewToken(), dir)

	sections := []models.Section{{Text: "silent but visible", Duration: 5}}
	if _, err := p.Render(context.Background(), sections, 10, filepath.Join(dir, "final.mp4"), 30, NopProgress); err != nil {
		t.Fatalf("TTS failure must render silent, not fail: %v", err)
	}

	// No visuals at all: every task fails validation.
	p2 := New(newFakeEncoder(), &fakeSynth{dir: dir}, &fakeVisuals{fail: true}, NewToken(), dir)
	_, err := p2.Render(context.Background(), sections, 10, filepath.Join(dir, "final2.mp4"), 30, NopProgress)
	if !errors.Is(err, ErrNoRenderableSegments) {
		t.Fatalf("expected ErrNoRenderableSegments, got %v", err)
	}
}

func TestRenderAbortThroughSink(t *testing.T) {
	dir := t.TempDir()
	enc := newFakeEncoder()
	token := NewToken()
	p := New(enc, &fakeSynth{dir: dir}, &fakeVisuals{dir: dir}, token, dir)

	sink := ProgressFunc(func(percent int, message string) bool { return true })
	sections := []models.Section{{Text: "doomed", Duration: 5}}

	_, err := p.Render(context.Background(), sections, 10, filepath.Join(dir, "final.mp4"), 30, sink)
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}
	if !token.Cancelled() {
		t.Error("sink abort must cancel the token")
	}
	if token.Registered() != 0 {
		t.Errorf("registry not drained after abort: %d files", token.Registered())
	}
}

func TestRenderValidatesInput(t *testing.T) {
	p := New(newFakeEncoder(), nil, nil, NewToken(), t.TempDir())

	if _, err := p.Render(context.Background(), nil, 10, "out.mp4", 30, NopProgress); err == nil {
		t.Error("expected error for empty sections")
	}
	sections := []models.Section{{Text: "x", Duration: 5}}
	if _, err := p.Render(context.Background(), sections, 0, "out.mp4", 30, NopProgress); err == nil {
		t.Error("expected error for non-positive target")
	}
}
