package models

import (
	"time"

	"github.com/google/uuid"
)

// Enums

type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusPlanning  RunStatus = "planning"
	RunStatusRendering RunStatus = "rendering"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusAborted   RunStatus = "aborted"
)

// Complexity is the classifier verdict for a segment. Simple segments can be
// handed straight to a render worker; complex ones must be pre-rendered first.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityComplex Complexity = "complex"
)

// ---------------------------------------------------------------------------
// Script model
// ---------------------------------------------------------------------------

// Section is the narrative unit a segment is derived from: narration text plus
// a target duration. The allocator rescales Duration in place; once rendering
// begins sections are treated as immutable.
type Section struct {
	Text       string  `json:"text"`
	Duration   float64 `json:"duration"` // seconds
	VoiceStyle string  `json:"voice_style,omitempty"`
}

// ---------------------------------------------------------------------------
// Segment model — a tagged union of renderable kinds. Complexity is a
// structural property of the concrete type, never a runtime attribute scan.
// ---------------------------------------------------------------------------

// Segment is one renderable slice of the final video: visual content, an
// audio track, and a target duration.
type Segment interface {
	SegmentDuration() float64
	SegmentAudio() string
}

// Overlay is an image composited over the background at a fixed position.
// X and Y are normalized (0..1) center coordinates; Scale multiplies the
// overlay's native size.
type Overlay struct {
	ImagePath string
	X, Y      float64
	Scale     float64
}

// StaticSegment has no time-varying attributes and is always safe to hand to
// a worker by value. SourcePath may be a video or a still image; a
// pre-rendered segment is a StaticSegment whose SourcePath is the baked file.
type StaticSegment struct {
	SourcePath string
	AudioPath  string
	Duration   float64
	Overlay    *Overlay
}

func (s StaticSegment) SegmentDuration() float64 { return s.Duration }
func (s StaticSegment) SegmentAudio() string     { return s.AudioPath }

// AnimatedSegment carries overlay motion as functions of time. Function
// values cannot cross a process boundary, so animated segments are always
// flattened by the pre-renderer before pool submission.
type AnimatedSegment struct {
	StaticSegment
	PositionFn func(t float64) (x, y float64)
	SizeFn     func(t float64) float64
}

// CompositeSegment plays its children back to back under one audio track.
type CompositeSegment struct {
	Children  []Segment
	AudioPath string
	Duration  float64
}

func (c CompositeSegment) SegmentDuration() float64 { return c.Duration }
func (c CompositeSegment) SegmentAudio() string     { return c.AudioPath }

// ---------------------------------------------------------------------------
// Render pipeline types
// ---------------------------------------------------------------------------

// RenderTask is one unit of pool work. Index is the sole ordering key and is
// embedded in the output filename so order survives unordered completion.
type RenderTask struct {
	Index     int
	Segment   StaticSegment
	OutputDir string
	FPS       int
}

// RenderResult reports one finished task. An empty OutputPath marks a failed
// task; failures never abort the batch.
type RenderResult struct {
	Index      int
	OutputPath string
}

// OK reports whether the task produced an output file.
func (r RenderResult) OK() bool { return r.OutputPath != "" }

// ---------------------------------------------------------------------------
// Run records (API + store)
// ---------------------------------------------------------------------------

type Run struct {
	ID                    uuid.UUID `json:"id"`
	Topic                 string    `json:"topic"`
	TargetDurationSeconds float64   `json:"target_duration_seconds"`
	FPS                   int       `json:"fps"`
	Status                RunStatus `json:"status"`
	Progress              int       `json:"progress"` // 0..100
	SectionsTotal         int       `json:"sections_total"`
	SectionsRendered      int       `json:"sections_rendered"`
	OutputPath            *string   `json:"output_path,omitempty"`
	ErrorMessage          *string   `json:"error_message,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

type CreateRunRequest struct {
	Topic                 string    `json:"topic"`
	TargetDurationSeconds *float64  `json:"target_duration_seconds,omitempty"` // default: 60
	FPS                   *int      `json:"fps,omitempty"`                     // default: 30
	Sections              []Section `json:"sections,omitempty"`                // skips the planner when provided
}

type CreateRunResponse struct {
	RunID  uuid.UUID `json:"run_id"`
	Status RunStatus `json:"status"`
}

type ListRunsResponse struct {
	Runs   []Run `json:"runs"`
	Total  int   `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}
