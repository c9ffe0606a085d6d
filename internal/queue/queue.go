package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	QueueRenderRun = "queue:render_run"

	abortChannel = "runs:abort"
)

type Queue struct {
	client *redis.Client
}

// Job is one queued render run. Everything else about the run lives in the
// database; the queue only carries the reference.
type Job struct {
	ID        uuid.UUID `json:"id"`
	RunID     uuid.UUID `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
}

func New(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{client: client}, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

// EnqueueRenderRun queues a run for the worker.
func (q *Queue) EnqueueRenderRun(ctx context.Context, runID uuid.UUID) error {
	job := &Job{
		ID:        uuid.New(),
		RunID:     runID,
		CreatedAt: time.Now(),
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	return q.client.RPush(ctx, QueueRenderRun, data).Err()
}

// Dequeue blocks up to timeout for the next render job. Returns (nil, nil)
// when the queue stayed empty.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLPop(ctx, timeout, QueueRenderRun).Result()
	if err == redis.Nil {
		return nil, nil // No job available
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected redis response")
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

func (q *Queue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, QueueRenderRun).Result()
}

// PublishAbort broadcasts an abort request for a run. The worker holding the
// run's cancellation token reacts; workers on other hosts ignore it.
func (q *Queue) PublishAbort(ctx context.Context, runID uuid.UUID) error {
	return q.client.Publish(ctx, abortChannel, runID.String()).Err()
}

// SubscribeAborts delivers abort requests until ctx ends. Malformed messages
// are dropped.
func (q *Queue) SubscribeAborts(ctx context.Context, handle func(runID uuid.UUID)) {
	sub := q.client.Subscribe(ctx, abortChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			id, err := uuid.Parse(msg.Payload)
			if err != nil {
				continue
			}
			handle(id)
		}
	}
}
