package pipeline

import (
	"testing"
	"time"
)

type recordingSink struct {
	percents []int
	abortAt  int // request abort once this percent is reached (0 = never)
}

func (r *recordingSink) Report(percent int, message string) bool {
	r.percents = append(r.percents, percent)
	return r.abortAt > 0 && percent >= r.abortAt
}

// estimatorAt returns an estimator with a controllable clock.
func estimatorAt(sink ProgressSink) (*Estimator, *time.Time) {
	now := time.Unix(1000, 0)
	e := NewEstimator(sink)
	e.now = func() time.Time { return now }
	return e, &now
}

func TestEstimatorMonotonic(t *testing.T) {
	sink := &recordingSink{}
	e, now := estimatorAt(sink)

	e.BeginPhase(0, 50, 10*time.Second)
	for i := 0; i < 5; i++ {
		*now = now.Add(4 * time.Second)
		e.Tick("working")
	}

	// A later phase with a lower floor must not drag the number down.
	e.BeginPhase(10, 5, 10*time.Second)
	*now = now.Add(4 * time.Second)
	e.Tick("regressing phase")

	prev := -1
	for i, p := range sink.percents {
		if p < prev {
			t.Fatalf("report %d regressed: %d after %d", i, p, prev)
		}
		prev = p
	}
}

func TestEstimatorLogEasing(t *testing.T) {
	sink := &recordingSink{}
	e, now := estimatorAt(sink)

	e.BeginPhase(0, 100, 100*time.Second)

	*now = now.Add(10 * time.Second) // 10% elapsed
	e.Tick("early")
	*now = now.Add(80 * time.Second) // 90% elapsed
	e.Tick("late")

	if len(sink.percents) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(sink.percents))
	}
	early, late := sink.percents[0], sink.percents[1]

	// log1p(0.9)/ln(10) ≈ 0.28: the first tenth covers over a quarter of the
	// span, far ahead of linear.
	if early < 25 {
		t.Errorf("easing not front-loaded: %d%% after 10%% elapsed", early)
	}
	if late > 100 || late <= early {
		t.Errorf("unexpected late estimate: %d%% (early %d%%)", late, early)
	}
}

func TestEstimatorNeverExceedsPhaseCeiling(t *testing.T) {
	sink := &recordingSink{}
	e, now := estimatorAt(sink)

	e.BeginPhase(40, 20, time.Second)
	*now = now.Add(time.Hour) // way past the estimate
	e.Tick("overdue")

	if got := sink.percents[0]; got > 60 {
		t.Errorf("estimate exceeded ceiling: %d%%", got)
	}
}

func TestEstimatorRateLimit(t *testing.T) {
	sink := &recordingSink{}
	e, now := estimatorAt(sink)
	e.BeginPhase(0, 100, time.Minute)

	for i := 0; i < 10; i++ {
		*now = now.Add(time.Second)
		e.Tick("chatty")
	}

	// One report at t=1s, one more once 3s have passed, etc.
	if len(sink.percents) > 4 {
		t.Errorf("rate limit not applied: %d reports in 10s", len(sink.percents))
	}
}

func TestEstimatorCompleteBypassesRateLimit(t *testing.T) {
	sink := &recordingSink{}
	e, now := estimatorAt(sink)
	e.BeginPhase(0, 100, time.Minute)

	e.Tick("first")
	*now = now.Add(time.Millisecond)
	e.Complete(100, "done")

	if len(sink.percents) != 2 {
		t.Fatalf("Complete must always report, got %d reports", len(sink.percents))
	}
	if sink.percents[1] != 100 {
		t.Errorf("expected exact 100, got %d", sink.percents[1])
	}
	if e.Last() != 100 {
		t.Errorf("Last() = %d after completion", e.Last())
	}
}

func TestEstimatorAbortIsSticky(t *testing.T) {
	sink := &recordingSink{abortAt: 1}
	e, now := estimatorAt(sink)
	e.BeginPhase(0, 100, time.Second)

	*now = now.Add(time.Second)
	if !e.Tick("should abort") {
		t.Fatal("expected abort on first report")
	}

	reports := len(sink.percents)
	*now = now.Add(time.Minute)
	if !e.Tick("after abort") {
		t.Error("abort must be sticky")
	}
	if len(sink.percents) != reports {
		t.Error("aborted estimator must stop reporting")
	}
}

func TestNopProgressNeverAborts(t *testing.T) {
	if NopProgress.Report(50, "x") {
		t.Error("NopProgress requested abort")
	}
}
