package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/reelworks/shortgen/internal/models"
)

func makeTasks(n int) []models.RenderTask {
	tasks := make([]models.RenderTask, n)
	for i := range tasks {
		tasks[i] = models.RenderTask{Index: i, FPS: 30}
	}
	return tasks
}

func TestPoolRendersEveryTask(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[int]bool)

	run := func(ctx context.Context, task models.RenderTask) (string, error) {
		mu.Lock()
		seen[task.Index] = true
		mu.Unlock()
		return fmt.Sprintf("segment_%d_1.mp4", task.Index), nil
	}

	pool := NewPoolWithSize(3, run, NewToken())
	results, err := pool.Render(context.Background(), makeTasks(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 10 {
		t.Fatalf("expected 10 results, got %d", len(results))
	}
	for i := 0; i < 10; i++ {
		if !seen[i] {
			t.Errorf("task %d never ran", i)
		}
	}
}

func TestPoolAbsorbsFailures(t *testing.T) {
	run := func(ctx context.Context, task models.RenderTask) (string, error) {
		if task.Index%2 == 1 {
			return "", errors.New("encode blew up")
		}
		return fmt.Sprintf("segment_%d_1.mp4", task.Index), nil
	}

	pool := NewPoolWithSize(2, run, NewToken())
	results, err := pool.Render(context.Background(), makeTasks(6))
	if err != nil {
		t.Fatalf("failures must not abort the batch: %v", err)
	}
	if len(results) != 6 {
		t.Fatalf("expected 6 results, got %d", len(results))
	}

	ok := 0
	for _, res := range results {
		if res.OK() {
			ok++
		}
	}
	if ok != 3 {
		t.Errorf("expected 3 successful results, got %d", ok)
	}
}

func TestPoolStopsSubmittingAfterCancel(t *testing.T) {
	token := NewToken()
	var started atomic.Int32

	run := func(ctx context.Context, task models.RenderTask) (string, error) {
		n := started.Add(1)
		if n == 2 {
			token.Cancel()
		}
		return fmt.Sprintf("segment_%d_1.mp4", task.Index), nil
	}

	pool := NewPoolWithSize(1, run, token)
	results, err := pool.Render(context.Background(), makeTasks(50))
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}
	// With a single worker and cancellation on the second task, submission
	// stops well before the full batch.
	if len(results) >= 50 {
		t.Errorf("cancellation did not stop submission: %d results", len(results))
	}
}

func TestPoolCancelTerminatesTaskContext(t *testing.T) {
	token := NewToken()
	blocked := make(chan struct{})

	run := func(ctx context.Context, task models.RenderTask) (string, error) {
		if task.Index == 0 {
			return "segment_0_1.mp4", nil
		}
		close(blocked)
		<-ctx.Done()
		return "", ctx.Err()
	}

	pool := NewPoolWithSize(2, run, token)

	go func() {
		<-blocked
		token.Cancel()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := pool.Render(context.Background(), makeTasks(2)); !errors.Is(err, ErrAborted) {
			t.Errorf("expected ErrAborted, got %v", err)
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cancel did not terminate the in-flight task")
	}
}

func TestPoolTaskTimeout(t *testing.T) {
	run := func(ctx context.Context, task models.RenderTask) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Second):
			return "segment_0_1.mp4", nil
		}
	}

	pool := NewPoolWithSize(1, run, NewToken())
	pool.TaskTimeout = 20 * time.Millisecond

	start := time.Now()
	results, err := pool.Render(context.Background(), makeTasks(1))
	if err != nil {
		t.Fatalf("timeout must be a per-task failure, not a batch error: %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("task timeout did not fire")
	}
	if len(results) != 1 || results[0].OK() {
		t.Errorf("timed-out task should yield a failed result: %+v", results)
	}
}

func TestPoolWorkerRecycling(t *testing.T) {
	// With one slot and more tasks than the quota, the slot must be handed to
	// fresh goroutines and still finish every task.
	var count atomic.Int32
	run := func(ctx context.Context, task models.RenderTask) (string, error) {
		count.Add(1)
		return fmt.Sprintf("segment_%d_1.mp4", task.Index), nil
	}

	pool := NewPoolWithSize(1, run, NewToken())
	total := workerTaskQuota*3 + 1
	results, err := pool.Render(context.Background(), makeTasks(total))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if int(count.Load()) != total || len(results) != total {
		t.Errorf("expected %d tasks, ran %d with %d results", total, count.Load(), len(results))
	}
}

func TestPoolObserveSeesEveryCompletion(t *testing.T) {
	run := func(ctx context.Context, task models.RenderTask) (string, error) {
		return fmt.Sprintf("segment_%d_1.mp4", task.Index), nil
	}

	pool := NewPoolWithSize(2, run, NewToken())
	var calls []int
	pool.Observe = func(done, total int) {
		calls = append(calls, done)
		if total != 5 {
			t.Errorf("expected total 5, got %d", total)
		}
	}

	if _, err := pool.Render(context.Background(), makeTasks(5)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(calls) != 5 {
		t.Fatalf("expected 5 observations, got %d", len(calls))
	}
	for i, done := range calls {
		if done != i+1 {
			t.Errorf("observation %d: expected count %d, got %d", i, i+1, done)
		}
	}
}

func TestPoolSizeBounds(t *testing.T) {
	size := PoolSize()
	if size < 1 {
		t.Errorf("pool size below 1: %d", size)
	}
	if size > maxPoolSize {
		t.Errorf("pool size above cap: %d", size)
	}
}
