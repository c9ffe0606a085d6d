package pipeline

import (
	"context"
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/reelworks/shortgen/internal/models"
)

// Each worker goroutine drives one encoder child process at a time; the
// CPU-heavy work happens in those OS processes, so the pool is sized to
// leave one core for orchestration and capped to keep memory bounded on
// large machines.
const (
	maxPoolSize = 4

	// Workers hand their slot to a fresh goroutine after this many tasks.
	// Bounds growth from anything a long-lived worker accumulates.
	workerTaskQuota = 8
)

// PoolSize returns max(1, min(NumCPU-1, 4)).
func PoolSize() int {
	n := runtime.NumCPU() - 1
	if n < 1 {
		n = 1
	}
	if n > maxPoolSize {
		n = maxPoolSize
	}
	return n
}

// RunFunc renders one task and returns the output path. Failures are
// reported as errors; the pool absorbs them as empty results.
type RunFunc func(ctx context.Context, task models.RenderTask) (string, error)

// Pool renders tasks concurrently while preserving nothing about order —
// ordering is recovered downstream from the index embedded in each output
// filename. Completion order is irrelevant by design.
type Pool struct {
	size      int
	taskQuota int
	run       RunFunc
	token     *Token

	// TaskTimeout, when positive, bounds each task and force-terminates its
	// encoder process on expiry. Zero disables the bound: a wedged encoder
	// then blocks its pool slot indefinitely.
	TaskTimeout time.Duration

	// Observe, when set, is called from the collector after every task
	// completion with the running completion count. It runs on a single
	// goroutine.
	Observe func(done, total int)
}

func NewPool(run RunFunc, token *Token) *Pool {
	return &Pool{
		size:      PoolSize(),
		taskQuota: workerTaskQuota,
		run:       run,
		token:     token,
	}
}

// NewPoolWithSize is NewPool with an explicit worker count (minimum 1).
func NewPoolWithSize(size int, run RunFunc, token *Token) *Pool {
	p := NewPool(run, token)
	if size > 0 {
		p.size = size
	}
	return p
}

// Render executes every task and returns one result per completed task.
// Per-task failures yield empty-path results and never abort the batch. The
// cancellation token is checked between submissions and completions; once
// set, no new work is submitted, outstanding encoder processes are
// terminated through context cancellation, and ErrAborted is returned along
// with whatever completed.
func (p *Pool) Render(ctx context.Context, tasks []models.RenderTask) ([]models.RenderResult, error) {
	if len(tasks) == 0 {
		return nil, nil
	}

	poolCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Watch the token so a cancel lands even while every worker is blocked
	// inside an encoder process. Without this, termination would wait for the
	// next task completion.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-watchDone:
				return
			case <-ticker.C:
				if p.token.Cancelled() {
					cancel()
					return
				}
			}
		}
	}()

	taskCh := make(chan models.RenderTask)
	resultCh := make(chan models.RenderResult)

	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go p.worker(poolCtx, &wg, taskCh, resultCh)
	}

	go func() {
		defer close(taskCh)
		for _, task := range tasks {
			if p.token.Cancelled() {
				return
			}
			select {
			case taskCh <- task:
			case <-poolCtx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	results := make([]models.RenderResult, 0, len(tasks))
	aborted := false
	for res := range resultCh {
		results = append(results, res)
		if p.Observe != nil {
			p.Observe(len(results), len(tasks))
		}
		if !aborted && p.token.Cancelled() {
			aborted = true
			cancel()
		}
	}

	if aborted || p.token.Cancelled() {
		return results, ErrAborted
	}
	return results, nil
}

func (p *Pool) worker(ctx context.Context, wg *sync.WaitGroup, tasks <-chan models.RenderTask, results chan<- models.RenderResult) {
	defer wg.Done()

	done := 0
	for task := range tasks {
		results <- p.runTask(ctx, task)
		done++
		if done >= p.taskQuota {
			// Recycle the slot: a fresh goroutine takes over the channel.
			wg.Add(1)
			go p.worker(ctx, wg, tasks, results)
			return
		}
	}
}

func (p *Pool) runTask(ctx context.Context, task models.RenderTask) models.RenderResult {
	taskCtx := ctx
	if p.TaskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, p.TaskTimeout)
		defer cancel()
	}

	out, err := p.run(taskCtx, task)
	if err != nil {
		log.Printf("[Pool] task %d failed: %v", task.Index, err)
		return models.RenderResult{Index: task.Index}
	}
	return models.RenderResult{Index: task.Index, OutputPath: out}
}
