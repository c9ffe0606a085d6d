package pipeline

import (
	"math"
	"time"
)

// ProgressSink receives percentage updates for external reporting. The
// return value is the sink's abort request: true means the caller wants the
// run stopped.
type ProgressSink interface {
	Report(percent int, message string) bool
}

// ProgressFunc adapts a plain function to a ProgressSink.
type ProgressFunc func(percent int, message string) bool

func (f ProgressFunc) Report(percent int, message string) bool { return f(percent, message) }

// NopProgress discards updates and never requests abort.
var NopProgress ProgressSink = ProgressFunc(func(int, string) bool { return false })

const defaultReportInterval = 3 * time.Second

// Estimator converts elapsed wall-clock time within a phase into a
// monotonically non-decreasing percentage. A logarithmic easing curve makes
// the number rise quickly at first and slow near the phase ceiling, which
// avoids the impression of stalling on long encodes. Updates are
// rate-limited; the estimator never originates an abort, it only relays the
// sink's request.
type Estimator struct {
	sink        ProgressSink
	minInterval time.Duration
	now         func() time.Time

	phaseStart time.Time
	estimate   time.Duration
	base       int
	span       int

	last       int
	lastReport time.Time
	aborted    bool
}

func NewEstimator(sink ProgressSink) *Estimator {
	if sink == nil {
		sink = NopProgress
	}
	return &Estimator{
		sink:        sink,
		minInterval: defaultReportInterval,
		now:         time.Now,
	}
}

// BeginPhase starts a phase covering the [base, base+span] percent range
// with a fixed wall-clock estimate. The reported value never drops below
// whatever an earlier phase already reached.
func (e *Estimator) BeginPhase(base, span int, estimate time.Duration) {
	e.base = base
	e.span = span
	e.estimate = estimate
	e.phaseStart = e.now()
}

// Tick reports the current estimate and returns whether an abort has been
// requested. Calls inside the rate-limit window skip the sink but still
// return the last known abort state; an abort request is sticky.
func (e *Estimator) Tick(message string) bool {
	if e.aborted {
		return true
	}

	now := e.now()
	if !e.lastReport.IsZero() && now.Sub(e.lastReport) < e.minInterval {
		return false
	}

	pct := e.percent(now)
	if pct < e.last {
		pct = e.last
	}
	e.last = pct
	e.lastReport = now

	if e.sink.Report(pct, message) {
		e.aborted = true
	}
	return e.aborted
}

// Complete reports an exact percentage immediately, bypassing both the
// easing curve and the rate limit. Used at phase boundaries and on finish.
func (e *Estimator) Complete(percent int, message string) bool {
	if percent < e.last {
		percent = e.last
	}
	e.last = percent
	e.lastReport = e.now()

	if e.sink.Report(percent, message) {
		e.aborted = true
	}
	return e.aborted
}

// Last returns the highest percentage reported so far.
func (e *Estimator) Last() int { return e.last }

func (e *Estimator) percent(now time.Time) int {
	if e.estimate <= 0 || e.span <= 0 {
		return e.base
	}
	x := float64(now.Sub(e.phaseStart)) / float64(e.estimate)
	if x < 0 {
		x = 0
	}
	if x > 1 {
		x = 1
	}
	// log easing: fast early rise, asymptotic approach to the ceiling.
	frac := math.Log1p(9*x) / math.Ln10
	return e.base + int(float64(e.span)*frac)
}
