package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reelworks/shortgen/internal/models"
	"github.com/reelworks/shortgen/internal/pipeline"
	"github.com/reelworks/shortgen/internal/queue"
	"github.com/reelworks/shortgen/internal/services"
	"github.com/reelworks/shortgen/internal/storage"
	"github.com/reelworks/shortgen/internal/store"
)

// Planner turns a topic into narrated sections. Satisfied by the OpenAI
// service; a fake in tests.
type Planner interface {
	GenerateScript(ctx context.Context, topic string, targetSeconds float64) ([]models.Section, error)
}

// Worker consumes render jobs, drives the pipeline for each run, and tracks
// the cancellation token of every in-flight run so abort broadcasts can reach
// it.
type Worker struct {
	store   *store.Store
	queue   *queue.Queue
	storage *storage.Storage
	planner Planner
	enc     pipeline.Encoder
	tts     pipeline.Synthesizer
	visuals pipeline.VisualSource

	tempDir     string
	renderers   int           // pool size override, 0 = derived
	taskTimeout time.Duration // per-segment encode bound, 0 = none
	bannerPath  string

	mu     sync.Mutex
	active map[uuid.UUID]*pipeline.Token
}

type Options struct {
	TempDir     string
	Renderers   int
	TaskTimeout time.Duration
	BannerPath  string
}

func New(
	st *store.Store,
	q *queue.Queue,
	stor *storage.Storage,
	planner Planner,
	enc pipeline.Encoder,
	tts pipeline.Synthesizer,
	visuals pipeline.VisualSource,
	opts Options,
) *Worker {
	return &Worker{
		store:       st,
		queue:       q,
		storage:     stor,
		planner:     planner,
		enc:         enc,
		tts:         tts,
		visuals:     visuals,
		tempDir:     opts.TempDir,
		renderers:   opts.Renderers,
		taskTimeout: opts.TaskTimeout,
		bannerPath:  opts.BannerPath,
	}
}

// Start begins consuming runs with the given concurrency and blocks until ctx
// ends. On shutdown every in-flight run is cancelled so its child encoder
// processes die and its temp files are removed.
func (w *Worker) Start(ctx context.Context, concurrency int) {
	if concurrency < 1 {
		concurrency = 1
	}
	w.mu.Lock()
	w.active = make(map[uuid.UUID]*pipeline.Token)
	w.mu.Unlock()

	log.Printf("Worker started with concurrency: %d", concurrency)

	go w.queue.SubscribeAborts(ctx, w.abortRun)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.consume(ctx)
		}()
	}

	<-ctx.Done()
	log.Println("Worker shutting down, cancelling in-flight runs...")
	w.cancelAll()
	wg.Wait()
}

func (w *Worker) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			job, err := w.queue.Dequeue(ctx, 5*time.Second)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("Error dequeuing: %v", err)
				continue
			}
			if job == nil {
				continue // No job available, retry
			}

			log.Printf("Processing run %s (job %s)", job.RunID, job.ID)
			w.processRun(ctx, job.RunID)
		}
	}
}

// abortRun cancels the token of an in-flight run. A miss means the run is on
// another host or not dequeued yet; both are fine.
func (w *Worker) abortRun(runID uuid.UUID) {
	w.mu.Lock()
	token, ok := w.active[runID]
	w.mu.Unlock()
	if ok {
		log.Printf("Abort requested for run %s", runID)
		token.Cancel()
	}
}

func (w *Worker) cancelAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, token := range w.active {
		token.Cancel()
	}
}

func (w *Worker) track(runID uuid.UUID, token *pipeline.Token) {
	w.mu.Lock()
	w.active[runID] = token
	w.mu.Unlock()
}

func (w *Worker) untrack(runID uuid.UUID) {
	w.mu.Lock()
	delete(w.active, runID)
	w.mu.Unlock()
}

// processRun drives one run end to end and records its terminal status.
func (w *Worker) processRun(ctx context.Context, runID uuid.UUID) {
	run, err := w.store.GetRun(ctx, runID)
	if err != nil {
		log.Printf("Run %s not found, dropping job: %v", runID, err)
		return
	}
	if run.Status == models.RunStatusAborted {
		log.Printf("Run %s was aborted while queued, skipping", runID)
		return
	}

	token := pipeline.NewToken()
	w.track(runID, token)
	defer w.untrack(runID)

	outputPath, err := w.render(ctx, run, token)
	switch {
	case err == nil:
		if dbErr := w.store.CompleteRun(ctx, runID, outputPath); dbErr != nil {
			log.Printf("Run %s finished but status update failed: %v", runID, dbErr)
			return
		}
		log.Printf("Run %s completed: %s", runID, outputPath)
	case errors.Is(err, pipeline.ErrAborted):
		w.store.FailRun(ctx, runID, models.RunStatusAborted, "aborted by request")
		log.Printf("Run %s aborted", runID)
	default:
		w.store.FailRun(ctx, runID, models.RunStatusFailed, err.Error())
		log.Printf("Run %s failed: %v", runID, err)
	}
}

func (w *Worker) render(ctx context.Context, run *models.Run, token *pipeline.Token) (string, error) {
	sections, err := w.store.GetRunSections(ctx, run.ID)
	if err != nil {
		return "", fmt.Errorf("load sections: %w", err)
	}

	// Topic-only runs get a planned script first.
	if len(sections) == 0 {
		if err := w.store.UpdateRunStatus(ctx, run.ID, models.RunStatusPlanning); err != nil {
			log.Printf("Run %s: failed to mark planning: %v", run.ID, err)
		}
		sections, err = w.planner.GenerateScript(ctx, run.Topic, run.TargetDurationSeconds)
		if err != nil {
			return "", fmt.Errorf("script planning: %w", err)
		}
	}
	if token.Cancelled() {
		return "", pipeline.ErrAborted
	}

	if err := w.store.UpdateRunStatus(ctx, run.ID, models.RunStatusRendering); err != nil {
		log.Printf("Run %s: failed to mark rendering: %v", run.ID, err)
	}

	total := len(sections)
	sink := pipeline.ProgressFunc(func(percent int, message string) bool {
		rendered := total * percent / 100
		if err := w.store.UpdateRunProgress(ctx, run.ID, percent, total, rendered); err != nil {
			log.Printf("Run %s: progress update failed: %v", run.ID, err)
		}
		return token.Cancelled()
	})

	p := pipeline.New(w.enc, w.tts, w.visuals, token, w.tempDir)
	p.Workers = w.renderers
	p.TaskTimeout = w.taskTimeout
	p.BannerPath = w.bannerPath

	// Render to a staging path and publish afterwards so a half-written file
	// can never sit at the artifact path.
	staging := filepath.Join(w.tempDir, fmt.Sprintf("final_%s.mp4", run.ID))

	rendered, err := p.Render(ctx, sections, run.TargetDurationSeconds, staging, run.FPS, sink)
	if err != nil {
		os.Remove(staging)
		return "", err
	}

	final, err := w.storage.Publish(rendered, run.ID)
	if err != nil {
		return "", fmt.Errorf("publish artifact: %w", err)
	}
	return final, nil
}

// FFmpegEncoder narrows the concrete ffmpeg service to the pipeline's Encoder
// interface at compile time.
var _ pipeline.Encoder = (*services.FFmpegService)(nil)
