package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/reelworks/shortgen/internal/models"
)

// Sentinel outcomes. Cancellation is not a failure: it surfaces as
// ErrAborted and triggers cleanup rather than alarm-level logging.
var (
	ErrAborted              = errors.New("render aborted")
	ErrNoRenderableSegments = errors.New("no renderable segments")
)

// Encoder is the slice of the media toolchain the pipeline needs. The
// concrete implementation shells out to ffmpeg/ffprobe and hides the
// hardware-then-software encoder fallback from every caller.
type Encoder interface {
	// RenderSegment encodes one static segment (background, optional
	// overlay, audio) to outputPath at final quality, looping a too-short
	// source to the target duration.
	RenderSegment(ctx context.Context, seg models.StaticSegment, fps int, outputPath string) error
	// PrerenderSegment bakes the video track of a static segment with the
	// fast preset. Audio is not muxed in; the pre-rendered file is a
	// structural intermediate, not a deliverable.
	PrerenderSegment(ctx context.Context, seg models.StaticSegment, fps int, outputPath string) error
	// ValidateDecodable fails fast when the input cannot produce a single
	// decodable frame.
	ValidateDecodable(ctx context.Context, path string) error
	// ProbeDuration returns the media duration in seconds.
	ProbeDuration(ctx context.Context, path string) (float64, error)
	// Concat invokes the concat demuxer over a manifest without re-encoding
	// frame data.
	Concat(ctx context.Context, manifestPath, outputPath string) error
}

// Synthesizer converts narration text into an audio file on disk.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceStyle string) (string, error)
}

// VisualSource returns local media paths suitable as a segment background.
type VisualSource interface {
	Fetch(ctx context.Context, query string, minDuration float64) ([]string, error)
}

// Phase estimates feeding the progress easing curve. Deliberately rough —
// the estimator only needs an order of magnitude.
const (
	narrationSecsPerSection = 3 * time.Second
	visualSecsPerSection    = 2 * time.Second
	prerenderSecsPerSegment = 5 * time.Second
	renderSecsPerTask       = 8 * time.Second
	concatEstimate          = 10 * time.Second
	ttsConcurrency          = 4
)

// Pipeline assembles a narrated video from sections under a hard duration
// budget: allocate → synthesize → reconcile → source visuals → classify →
// pre-render → pool render → concatenate.
type Pipeline struct {
	enc     Encoder
	tts     Synthesizer
	visuals VisualSource
	token   *Token
	tempDir string

	// Workers overrides the pool size when positive.
	Workers int
	// TaskTimeout bounds each pool task when positive (hardening against
	// wedged encoder processes).
	TaskTimeout time.Duration
	// BannerPath, when set, overlays this image on the opening segment with
	// a slide-and-settle motion; the motion makes that segment complex and
	// routes it through the pre-renderer.
	BannerPath string
}

func New(enc Encoder, tts Synthesizer, visuals VisualSource, token *Token, tempDir string) *Pipeline {
	return &Pipeline{
		enc:     enc,
		tts:     tts,
		visuals: visuals,
		token:   token,
		tempDir: tempDir,
	}
}

// Render is the pipeline entry point. It renders sections into a single
// video at outputPath and returns the final path. Per-section failures are
// absorbed; zero renderable segments is ErrNoRenderableSegments; a sink or
// signal abort is ErrAborted. All intermediates live in one run-owned temp
// directory removed on every exit path.
func (p *Pipeline) Render(ctx context.Context, sections []models.Section, targetSeconds float64, outputPath string, fps int, sink ProgressSink) (string, error) {
	if len(sections) == 0 {
		return "", fmt.Errorf("no sections to render")
	}
	if targetSeconds <= 0 {
		return "", fmt.Errorf("target duration must be positive, got %.2f", targetSeconds)
	}
	if fps <= 0 {
		fps = 30
	}

	runDir, err := os.MkdirTemp(p.tempDir, "render_run_*")
	if err != nil {
		return "", fmt.Errorf("create run temp dir: %w", err)
	}
	defer os.RemoveAll(runDir)
	defer p.token.Cleanup()

	est := NewEstimator(sink)

	// Allocation is cheap and synchronous; it runs before anything else so
	// every later stage sees budget-fitted durations.
	Allocate(sections, targetSeconds, fps)

	audioPaths, audioDurs, err := p.synthesizeNarration(ctx, sections, runDir, est)
	if err != nil {
		return "", err
	}

	// Real narration may run longer than the allocation; reconcile and
	// re-fit before any frame is rendered.
	Reconcile(sections, audioDurs, targetSeconds, fps)
	log.Printf("[Pipeline] Durations reconciled: total %.2fs against budget %.2fs", TotalDuration(sections), targetSeconds)

	segments, err := p.buildSegments(ctx, sections, audioPaths, est)
	if err != nil {
		return "", err
	}

	return p.RenderSegments(ctx, segments, outputPath, fps, est)
}

// RenderSegments renders pre-built segments: classify, pre-render complex
// ones, render everything through the pool, and concatenate in original
// order. Exposed separately so callers with custom segment construction
// reuse the same pipeline tail.
func (p *Pipeline) RenderSegments(ctx context.Context, segments []models.Segment, outputPath string, fps int, est *Estimator) (string, error) {
	runDir, err := os.MkdirTemp(p.tempDir, "render_segments_*")
	if err != nil {
		return "", fmt.Errorf("create segment temp dir: %w", err)
	}
	defer os.RemoveAll(runDir)

	tasks, err := p.prepareTasks(ctx, segments, fps, runDir, est)
	if err != nil {
		return "", err
	}

	results, err := p.renderTasks(ctx, tasks, est)
	if err != nil {
		return "", err
	}

	succeeded := 0
	for _, res := range results {
		if res.OK() {
			succeeded++
		}
	}
	if succeeded == 0 {
		return "", fmt.Errorf("%w: 0 of %d tasks produced output", ErrNoRenderableSegments, len(tasks))
	}
	if succeeded < len(tasks) {
		log.Printf("[Pipeline] %d of %d segments failed; continuing with the rest", len(tasks)-succeeded, len(tasks))
	}

	if p.token.Cancelled() || est.Tick("concatenating") {
		p.token.Cancel()
		return "", ErrAborted
	}

	est.BeginPhase(90, 8, concatEstimate)
	if err := NewConcatenator(p.enc).Concatenate(ctx, results, outputPath); err != nil {
		return "", err
	}

	est.Complete(100, "completed")
	return outputPath, nil
}

// synthesizeNarration runs TTS for every section concurrently (bounded) and
// measures the produced audio. A failed synthesis or probe is absorbed: the
// section renders silent and the allocation stands.
func (p *Pipeline) synthesizeNarration(ctx context.Context, sections []models.Section, runDir string, est *Estimator) ([]string, []float64, error) {
	est.BeginPhase(0, 20, time.Duration(len(sections))*narrationSecsPerSection)

	audioPaths := make([]string, len(sections))
	audioDurs := make([]float64, len(sections))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ttsConcurrency)

	for i := range sections {
		if p.token.Cancelled() {
			break
		}
		g.Go(func() error {
			path, err := p.tts.Synthesize(gctx, sections[i].Text, sections[i].VoiceStyle)
			if err != nil {
				log.Printf("[Pipeline] TTS failed for section %d, rendering silent: %v", i, err)
				return nil
			}
			p.token.Register(path)
			audioPaths[i] = path

			dur, err := p.enc.ProbeDuration(gctx, path)
			if err != nil {
				log.Printf("[Pipeline] Could not measure narration %d, keeping allocation: %v", i, err)
				return nil
			}
			audioDurs[i] = dur
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("narration synthesis: %w", err)
	}
	if p.token.Cancelled() || est.Tick("narration synthesized") {
		p.token.Cancel()
		return nil, nil, ErrAborted
	}
	return audioPaths, audioDurs, nil
}

// buildSegments fetches a background per section and assembles the segment
// union. Sections without a usable background still produce a task; it
// fails validation in the worker and is absorbed as an input failure.
func (p *Pipeline) buildSegments(ctx context.Context, sections []models.Section, audioPaths []string, est *Estimator) ([]models.Segment, error) {
	est.BeginPhase(20, 15, time.Duration(len(sections))*visualSecsPerSection)

	segments := make([]models.Segment, len(sections))
	for i := range sections {
		if p.token.Cancelled() || est.Tick("sourcing visuals") {
			p.token.Cancel()
			return nil, ErrAborted
		}

		background := ""
		candidates, err := p.visuals.Fetch(ctx, visualQuery(sections[i].Text), sections[i].Duration)
		if err != nil || len(candidates) == 0 {
			log.Printf("[Pipeline] No visual for section %d (%v); task will fail validation", i, err)
		} else {
			background = candidates[0]
			p.token.Register(background)
		}

		static := models.StaticSegment{
			SourcePath: background,
			AudioPath:  audioPaths[i],
			Duration:   sections[i].Duration,
		}

		if i == 0 && p.BannerPath != "" {
			segments[i] = bannerSegment(static, p.BannerPath)
		} else {
			segments[i] = static
		}
	}
	return segments, nil
}

// bannerSegment decorates the opening segment with a slide-and-settle
// banner: the overlay drifts up from the lower third while gently pulsing.
// The motion functions make the segment complex on purpose.
func bannerSegment(base models.StaticSegment, bannerPath string) models.AnimatedSegment {
	dur := base.Duration
	base.Overlay = &models.Overlay{ImagePath: bannerPath, X: 0.5, Y: 0.5, Scale: 1.0}
	return models.AnimatedSegment{
		StaticSegment: base,
		PositionFn: func(t float64) (float64, float64) {
			frac := 0.0
			if dur > 0 {
				frac = t / dur
			}
			return 0.5, 0.75 - 0.25*frac
		},
		SizeFn: func(t float64) float64 {
			return 1.0 + 0.03*math.Sin(t*2*math.Pi/2)
		},
	}
}

// prepareTasks classifies each segment, pre-renders the complex ones, and
// produces file-backed tasks for the pool. A failed pre-render falls back to
// the segment's static form instead of aborting the batch.
func (p *Pipeline) prepareTasks(ctx context.Context, segments []models.Segment, fps int, runDir string, est *Estimator) ([]models.RenderTask, error) {
	complexCount := 0
	for _, seg := range segments {
		if Classify(seg) == models.ComplexityComplex {
			complexCount++
		}
	}
	est.BeginPhase(35, 20, time.Duration(complexCount+1)*prerenderSecsPerSegment)

	pre := NewPreRenderer(p.enc, p.token)
	tasks := make([]models.RenderTask, 0, len(segments))
	for i, seg := range segments {
		if p.token.Cancelled() || est.Tick("pre-rendering") {
			p.token.Cancel()
			return nil, ErrAborted
		}

		var static models.StaticSegment
		if Classify(seg) == models.ComplexityComplex {
			baked, err := pre.Prerender(ctx, seg, i, fps, runDir)
			if err != nil {
				if errors.Is(err, ErrAborted) {
					return nil, ErrAborted
				}
				log.Printf("[Pipeline] Pre-render failed for segment %d, rendering unflattened: %v", i, err)
				static = fallbackStatic(seg)
			} else {
				static = baked
			}
		} else {
			static = fallbackStatic(seg)
		}

		tasks = append(tasks, models.RenderTask{
			Index:     i,
			Segment:   static,
			OutputDir: runDir,
			FPS:       fps,
		})
	}
	return tasks, nil
}

// fallbackStatic reduces any segment kind to a renderable static form
// without encoding: animated segments drop their motion, composites reduce
// to their first flat part.
func fallbackStatic(seg models.Segment) models.StaticSegment {
	if s, ok := seg.(models.StaticSegment); ok {
		return s
	}
	parts := Flatten(seg)
	if len(parts) > 0 {
		first := parts[0]
		first.AudioPath = seg.SegmentAudio()
		first.Duration = seg.SegmentDuration()
		return first
	}
	return models.StaticSegment{AudioPath: seg.SegmentAudio(), Duration: seg.SegmentDuration()}
}

func (p *Pipeline) renderTasks(ctx context.Context, tasks []models.RenderTask, est *Estimator) ([]models.RenderResult, error) {
	est.BeginPhase(55, 35, time.Duration(len(tasks))*renderSecsPerTask)

	pool := NewPoolWithSize(p.Workers, p.taskRunner(), p.token)
	pool.TaskTimeout = p.TaskTimeout
	pool.Observe = func(done, total int) {
		if est.Tick(fmt.Sprintf("rendered %d/%d segments", done, total)) {
			p.token.Cancel()
		}
	}

	results, err := pool.Render(ctx, tasks)
	if err != nil {
		return nil, err
	}
	return results, nil
}

// taskRunner is the per-task body executed inside the pool: validate, render
// to a unique index-stamped path, and unconditionally remove partial output
// on failure.
func (p *Pipeline) taskRunner() RunFunc {
	return func(ctx context.Context, task models.RenderTask) (string, error) {
		if task.Segment.SourcePath == "" {
			return "", fmt.Errorf("segment %d has no source media", task.Index)
		}
		if err := p.enc.ValidateDecodable(ctx, task.Segment.SourcePath); err != nil {
			return "", fmt.Errorf("segment %d not renderable: %w", task.Index, err)
		}

		out := SegmentOutputPath(task.OutputDir, task.Index)
		p.token.Register(out)
		if err := p.enc.RenderSegment(ctx, task.Segment, task.FPS, out); err != nil {
			os.Remove(out)
			return "", fmt.Errorf("segment %d encode: %w", task.Index, err)
		}
		return out, nil
	}
}

// visualQuery derives a short search query from narration text.
func visualQuery(text string) string {
	words := strings.Fields(text)
	if len(words) > 6 {
		words = words[:6]
	}
	return strings.Join(words, " ")
}
