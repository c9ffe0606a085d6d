package pipeline

import "github.com/reelworks/shortgen/internal/models"

// Classify decides whether a segment can be handed directly to a render
// worker or must be pre-rendered first. The verdict is purely structural:
// a segment is complex when it (or any composite child) carries a
// time-varying position or size function. Plain file-backed static segments
// are always simple. Deterministic and side-effect-free.
func Classify(seg models.Segment) models.Complexity {
	switch s := seg.(type) {
	case models.StaticSegment:
		return models.ComplexitySimple
	case models.AnimatedSegment:
		if s.PositionFn != nil || s.SizeFn != nil {
			return models.ComplexityComplex
		}
		// An animated segment with no motion functions degenerates to its
		// static base.
		return models.ComplexitySimple
	case models.CompositeSegment:
		for _, child := range s.Children {
			if Classify(child) == models.ComplexityComplex {
				return models.ComplexityComplex
			}
		}
		return models.ComplexitySimple
	default:
		// Unknown segment kinds cannot be serialized for a worker; route
		// them through the pre-renderer.
		return models.ComplexityComplex
	}
}
