package models

import "testing"

func TestRunStatus(t *testing.T) {
	statuses := []RunStatus{
		RunStatusQueued,
		RunStatusPlanning,
		RunStatusRendering,
		RunStatusCompleted,
		RunStatusFailed,
		RunStatusAborted,
	}

	for _, status := range statuses {
		if status == "" {
			t.Errorf("empty status found")
		}
	}
}

func TestSegmentUnion(t *testing.T) {
	static := StaticSegment{SourcePath: "bg.mp4", AudioPath: "a.mp3", Duration: 4.5}
	animated := AnimatedSegment{
		StaticSegment: StaticSegment{SourcePath: "bg.png", AudioPath: "b.mp3", Duration: 3},
		PositionFn:    func(t float64) (float64, float64) { return 0.5, t },
	}
	composite := CompositeSegment{
		Children:  []Segment{static, animated},
		AudioPath: "c.mp3",
		Duration:  7.5,
	}

	segments := []Segment{static, animated, composite}
	wantDurations := []float64{4.5, 3, 7.5}
	wantAudio := []string{"a.mp3", "b.mp3", "c.mp3"}

	for i, seg := range segments {
		if seg.SegmentDuration() != wantDurations[i] {
			t.Errorf("segment %d: duration = %v, want %v", i, seg.SegmentDuration(), wantDurations[i])
		}
		if seg.SegmentAudio() != wantAudio[i] {
			t.Errorf("segment %d: audio = %q, want %q", i, seg.SegmentAudio(), wantAudio[i])
		}
	}
}

func TestRenderResultOK(t *testing.T) {
	if (RenderResult{Index: 0}).OK() {
		t.Error("empty output path should not be OK")
	}
	if !(RenderResult{Index: 1, OutputPath: "/tmp/segment_1_123.mp4"}).OK() {
		t.Error("non-empty output path should be OK")
	}
}
