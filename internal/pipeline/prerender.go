package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/reelworks/shortgen/internal/models"
)

// PreRenderer bakes complex segments to flat intermediate files so the pool
// only ever receives file-backed static segments. The goal is structural
// flattening, not final quality — encoding uses the fast preset.
type PreRenderer struct {
	enc   Encoder
	token *Token
}

func NewPreRenderer(enc Encoder, token *Token) *PreRenderer {
	return &PreRenderer{enc: enc, token: token}
}

// Prerender flattens a complex segment and encodes it to a standalone file
// under dir. The returned segment is guaranteed simple when re-classified:
// it is a plain StaticSegment whose source is the baked file and whose audio
// track is carried over untouched for the final render.
func (p *PreRenderer) Prerender(ctx context.Context, seg models.Segment, index, fps int, dir string) (models.StaticSegment, error) {
	parts := Flatten(seg)
	if len(parts) == 0 {
		return models.StaticSegment{}, fmt.Errorf("segment %d flattened to nothing", index)
	}

	outPath := filepath.Join(dir, fmt.Sprintf("prerender_%d_%d.mp4", index, time.Now().UnixNano()))
	p.token.Register(outPath)

	if len(parts) == 1 {
		if err := p.enc.PrerenderSegment(ctx, parts[0], fps, outPath); err != nil {
			return models.StaticSegment{}, fmt.Errorf("prerender segment %d: %w", index, err)
		}
	} else if err := p.bakeSequence(ctx, parts, index, fps, dir, outPath); err != nil {
		return models.StaticSegment{}, fmt.Errorf("prerender composite %d: %w", index, err)
	}

	return models.StaticSegment{
		SourcePath: outPath,
		AudioPath:  seg.SegmentAudio(),
		Duration:   seg.SegmentDuration(),
	}, nil
}

// bakeSequence encodes each flattened child to its own intermediate file and
// concatenates them into outPath in order.
func (p *PreRenderer) bakeSequence(ctx context.Context, parts []models.StaticSegment, index, fps int, dir, outPath string) error {
	partPaths := make([]string, 0, len(parts))
	defer func() {
		for _, path := range partPaths {
			os.Remove(path)
			p.token.Release(path)
		}
	}()

	for i, part := range parts {
		if p.token.Cancelled() {
			return ErrAborted
		}
		partPath := filepath.Join(dir, fmt.Sprintf("prerender_%d_part%d_%d.mp4", index, i, time.Now().UnixNano()))
		p.token.Register(partPath)
		partPaths = append(partPaths, partPath)
		if err := p.enc.PrerenderSegment(ctx, part, fps, partPath); err != nil {
			return fmt.Errorf("bake part %d: %w", i, err)
		}
	}

	manifest, err := writeManifest(dir, partPaths)
	if err != nil {
		return err
	}
	defer os.Remove(manifest)

	if err := p.enc.Concat(ctx, manifest, outPath); err != nil {
		return err
	}
	log.Printf("[PreRender] Baked %d-part composite %d to %s", len(parts), index, filepath.Base(outPath))
	return nil
}

// Flatten replaces every time-varying attribute with a constant sampled at
// the segment's temporal midpoint and rebuilds composites with the now-static
// children, returned in playback order. Pure: no encoding, no I/O. A sampler
// that panics is treated as unsampleable and replaced with the centered
// default rather than failing the segment.
func Flatten(seg models.Segment) []models.StaticSegment {
	switch s := seg.(type) {
	case models.StaticSegment:
		return []models.StaticSegment{s}
	case models.AnimatedSegment:
		return []models.StaticSegment{flattenAnimated(s)}
	case models.CompositeSegment:
		var parts []models.StaticSegment
		for _, child := range s.Children {
			parts = append(parts, Flatten(child)...)
		}
		return parts
	default:
		return nil
	}
}

func flattenAnimated(seg models.AnimatedSegment) models.StaticSegment {
	out := seg.StaticSegment
	if out.Overlay == nil {
		// Motion functions with nothing to move; the static base is already
		// the flat form.
		return out
	}

	ov := *out.Overlay
	mid := seg.Duration / 2

	if seg.PositionFn != nil {
		if x, y, ok := samplePosition(seg.PositionFn, mid); ok {
			ov.X, ov.Y = x, y
		} else {
			log.Printf("[PreRender] position sampler failed, using center")
			ov.X, ov.Y = 0.5, 0.5
		}
	}
	if seg.SizeFn != nil {
		if scale, ok := sampleSize(seg.SizeFn, mid); ok && scale > 0 {
			ov.Scale = scale
		} else {
			log.Printf("[PreRender] size sampler failed, using unit scale")
			ov.Scale = 1.0
		}
	}

	out.Overlay = &ov
	return out
}

func samplePosition(fn func(float64) (float64, float64), t float64) (x, y float64, ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	x, y = fn(t)
	return x, y, true
}

func sampleSize(fn func(float64) float64, t float64) (scale float64, ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return fn(t), true
}
