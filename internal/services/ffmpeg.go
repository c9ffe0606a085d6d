package services

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/reelworks/shortgen/internal/models"
)

// Output constants — portrait 1080x1920 (Shorts/Reels framing).
const (
	outputWidth  = 1080
	outputHeight = 1920

	softwareEncoder = "libx264"
)

// Hardware encoders probed in order. The first one that survives a tiny
// synthetic encode wins; libx264 is the software fallback when none do or
// when a hardware encode fails mid-run. The fallback is silent to callers.
var hwEncoderCandidates = []string{"h264_nvenc", "h264_qsv", "h264_videotoolbox"}

// ---------------------------------------------------------------------------
// FFmpegService
// ---------------------------------------------------------------------------

// FFmpegService shells out to ffmpeg/ffprobe for every encode, probe, and
// concatenation. Encoding therefore always runs in a child OS process that
// context cancellation can terminate.
type FFmpegService struct {
	tempDir string

	mu           sync.Mutex
	probed       bool
	videoEncoder string
}

func NewFFmpegService(tempDir string) *FFmpegService {
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		panic(fmt.Sprintf("failed to create temp dir: %v", err))
	}
	return &FFmpegService{tempDir: tempDir}
}

// VideoEncoder returns the best available H.264 encoder, probing hardware
// candidates once per process.
func (s *FFmpegService) VideoEncoder(ctx context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.probed {
		return s.videoEncoder
	}
	s.probed = true
	s.videoEncoder = softwareEncoder

	for _, name := range hwEncoderCandidates {
		if err := probeEncoder(ctx, name); err == nil {
			log.Printf("[FFmpeg] Using hardware encoder %s", name)
			s.videoEncoder = name
			break
		}
	}
	if s.videoEncoder == softwareEncoder {
		log.Printf("[FFmpeg] No hardware encoder available, using %s", softwareEncoder)
	}
	return s.videoEncoder
}

// demoteToSoftware pins the encoder to libx264 after a mid-run hardware
// encode failure so later segments skip the doomed attempt.
func (s *FFmpegService) demoteToSoftware() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probed = true
	s.videoEncoder = softwareEncoder
}

func probeEncoder(ctx context.Context, name string) error {
	args := []string{
		"-hide_banner", "-v", "error",
		"-f", "lavfi", "-i", "color=c=black:s=128x128:d=0.1",
		"-c:v", name,
		"-f", "null", "-",
	}
	return exec.CommandContext(ctx, "ffmpeg", args...).Run()
}

// ---------------------------------------------------------------------------
// Segment encoding
// ---------------------------------------------------------------------------

// RenderSegment encodes one static segment at final quality: background
// scaled and cropped to the output frame, optional overlay at its fixed
// position, narration audio (or generated silence) muxed in. A source
// shorter than the target duration is looped; -t trims the result to the
// target so it never exceeds it by more than a frame.
func (s *FFmpegService) RenderSegment(ctx context.Context, seg models.StaticSegment, fps int, outputPath string) error {
	return s.encodeSegment(ctx, seg, fps, outputPath, false)
}

// PrerenderSegment bakes a segment's video track with the fast preset. Used
// for structural flattening only — no audio, lower quality.
func (s *FFmpegService) PrerenderSegment(ctx context.Context, seg models.StaticSegment, fps int, outputPath string) error {
	return s.encodeSegment(ctx, seg, fps, outputPath, true)
}

func (s *FFmpegService) encodeSegment(ctx context.Context, seg models.StaticSegment, fps int, outputPath string, fast bool) error {
	encoder := s.VideoEncoder(ctx)

	err := s.runEncode(ctx, buildSegmentArgs(seg, fps, outputPath, fast, encoder))
	if err != nil && encoder != softwareEncoder {
		log.Printf("[FFmpeg] %s encode failed, falling back to %s: %v", encoder, softwareEncoder, err)
		s.demoteToSoftware()
		err = s.runEncode(ctx, buildSegmentArgs(seg, fps, outputPath, fast, softwareEncoder))
	}
	if err != nil {
		return fmt.Errorf("ffmpeg segment encode failed: %w", err)
	}
	return nil
}

// buildSegmentArgs assembles the full ffmpeg invocation for one segment.
// Input layout: background first, overlay image second when present, audio
// (file or generated silence) last.
func buildSegmentArgs(seg models.StaticSegment, fps int, outputPath string, fast bool, encoder string) []string {
	var args []string

	// Background. Still images loop a single frame; videos loop the whole
	// stream so short sources can fill the target duration.
	if isStillImage(seg.SourcePath) {
		args = append(args, "-loop", "1", "-i", seg.SourcePath)
	} else {
		args = append(args, "-stream_loop", "-1", "-i", seg.SourcePath)
	}

	overlayInput := -1
	if seg.Overlay != nil {
		overlayInput = 1
		args = append(args, "-i", seg.Overlay.ImagePath)
	}

	audioInput := 1
	if overlayInput > 0 {
		audioInput = 2
	}
	if seg.AudioPath != "" {
		args = append(args, "-i", seg.AudioPath)
	} else {
		// Keep the stream layout identical across segments so the concat
		// demuxer can stream-copy the batch.
		args = append(args,
			"-f", "lavfi", "-t", fmt.Sprintf("%.3f", seg.Duration),
			"-i", "anullsrc=channel_layout=stereo:sample_rate=44100",
		)
	}

	filter := fmt.Sprintf(
		"[0:v]scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,fps=%d[bg]",
		outputWidth, outputHeight, outputWidth, outputHeight, fps,
	)
	if seg.Overlay != nil {
		scale := seg.Overlay.Scale
		if scale <= 0 {
			scale = 1.0
		}
		// Normalized center coordinates map onto the padded position range.
		filter += fmt.Sprintf(
			";[%d:v]scale=iw*%.4f:-1[ov];[bg][ov]overlay=x='(main_w-overlay_w)*%.4f':y='(main_h-overlay_h)*%.4f'[v]",
			overlayInput, scale, clamp01(seg.Overlay.X), clamp01(seg.Overlay.Y),
		)
	} else {
		filter += ";[bg]null[v]"
	}

	args = append(args,
		"-filter_complex", filter,
		"-map", "[v]",
		"-map", fmt.Sprintf("%d:a", audioInput),
		"-c:v", encoder,
	)

	if encoder == softwareEncoder {
		if fast {
			args = append(args, "-preset", "ultrafast", "-crf", "28")
		} else {
			args = append(args, "-preset", "medium", "-crf", "21")
		}
	} else {
		// Hardware encoders ignore x264 presets; steer quality by bitrate.
		if fast {
			args = append(args, "-b:v", "3M")
		} else {
			args = append(args, "-b:v", "8M")
		}
	}

	args = append(args,
		"-c:a", "aac",
		"-b:a", "192k",
		"-pix_fmt", "yuv420p",
		"-t", fmt.Sprintf("%.3f", seg.Duration),
		"-y",
		outputPath,
	)
	return args
}

func (s *FFmpegService) runEncode(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s", err, tailOf(stderr.String(), 400))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Probing and validation
// ---------------------------------------------------------------------------

// ValidateDecodable fails fast when the input cannot produce a single
// decodable frame, so a dead input doesn't consume a pool slot on a full
// encode.
func (s *FFmpegService) ValidateDecodable(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("source missing: %w", err)
	}

	args := []string{
		"-v", "error",
		"-i", path,
		"-frames:v", "1",
		"-f", "null", "-",
	}
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("no decodable frame: %w: %s", err, tailOf(stderr.String(), 200))
	}
	return nil
}

// ProbeDuration returns the media duration in seconds via ffprobe.
func (s *FFmpegService) ProbeDuration(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}

	cmd := exec.CommandContext(ctx, "ffprobe", args...)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	var durationSec float64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(output)), "%f", &durationSec); err != nil {
		return 0, fmt.Errorf("failed to parse duration: %w", err)
	}
	return durationSec, nil
}

// ---------------------------------------------------------------------------
// Concatenation
// ---------------------------------------------------------------------------

// Concat invokes the concat demuxer over a prepared manifest, copying video
// frame data without re-encoding. A nonzero exit is returned with the
// process's error output attached — the caller decides whether it is fatal.
func (s *FFmpegService) Concat(ctx context.Context, manifestPath, outputPath string) error {
	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", manifestPath,
		"-c", "copy",
		"-y",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg concat failed: %w: %s", err, tailOf(string(output), 600))
	}

	if _, err := os.Stat(outputPath); err != nil {
		return fmt.Errorf("concat output not created: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Temp file helpers
// ---------------------------------------------------------------------------

// CreateTempFile returns a path inside the service's temp directory.
func (s *FFmpegService) CreateTempFile(filename string) string {
	return filepath.Join(s.tempDir, filename)
}

// Cleanup removes temporary files best-effort.
func (s *FFmpegService) Cleanup(paths ...string) {
	for _, path := range paths {
		os.Remove(path)
	}
}

func isStillImage(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".webp", ".bmp":
		return true
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func tailOf(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
