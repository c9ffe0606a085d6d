package pipeline

import "github.com/reelworks/shortgen/internal/models"

// Allocate rescales section durations in place so their sum fits the target
// budget. When the sum already fits, durations are left alone and the clip
// may finish under budget. Scaling is uniform — relative pacing between
// sections is preserved. Every duration is floored at one frame interval so
// nothing comes out zero or negative.
func Allocate(sections []models.Section, target float64, fps int) {
	if len(sections) == 0 || target <= 0 {
		return
	}

	frame := frameInterval(fps)

	sum := 0.0
	for i := range sections {
		if sections[i].Duration < frame {
			sections[i].Duration = frame
		}
		sum += sections[i].Duration
	}

	if sum <= target {
		return
	}

	scale := target / sum
	for i := range sections {
		d := sections[i].Duration * scale
		if d < frame {
			d = frame
		}
		sections[i].Duration = d
	}
}

// Reconcile adjusts allocated durations after real narration audio exists.
// Synthesized audio may run longer than the allocation; a section can never
// be shorter than its narration, so each duration becomes
// max(allocated, measured) and the whole set is re-normalized if the new sum
// blows the budget. audioDurations is indexed like sections; a non-positive
// entry means the measurement failed and the allocation stands.
func Reconcile(sections []models.Section, audioDurations []float64, target float64, fps int) {
	for i := range sections {
		if i < len(audioDurations) && audioDurations[i] > sections[i].Duration {
			sections[i].Duration = audioDurations[i]
		}
	}
	Allocate(sections, target, fps)
}

// TotalDuration sums section durations.
func TotalDuration(sections []models.Section) float64 {
	sum := 0.0
	for i := range sections {
		sum += sections[i].Duration
	}
	return sum
}

func frameInterval(fps int) float64 {
	if fps <= 0 {
		fps = 30
	}
	return 1.0 / float64(fps)
}
