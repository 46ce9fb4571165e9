package tasks

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Pool bounds concurrent async task execution with a weighted
// semaphore. When no worker slot is free the dispatcher falls back to
// synchronous execution instead of queueing unboundedly.
type Pool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(workers))}
}

// TryGo runs fn on a worker slot if one is immediately available.
func (p *Pool) TryGo(fn func()) bool {
	if !p.sem.TryAcquire(1) {
		return false
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		fn()
	}()
	return true
}

// Wait blocks until all running tasks finish.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Wait blocks until all async detector runs dispatched through the pool
// have finished. No-op when no pool is attached.
func (r *Runner) Wait() {
	if r.pool != nil {
		r.pool.Wait()
	}
}

// TaskStatus describes a dispatched detector run.
type TaskStatus struct {
	TaskID     string     `json:"task_id"`
	DetectorID string     `json:"detector_id"`
	Mode       string     `json:"execution_mode"`
	Done       bool       `json:"done"`
	Result     *RunResult `json:"result,omitempty"`
}

// Dispatch runs a detector asynchronously when a worker slot is free,
// synchronously otherwise. The returned status carries the execution
// mode actually used; async callers poll TaskResult with the task ID.
func (r *Runner) Dispatch(ctx context.Context, detectorID string, start, end *time.Time) TaskStatus {
	taskID := uuid.NewString()

	if r.pool != nil {
		started := r.pool.TryGo(func() {
			// Detached from the request context: an async run outlives
			// the HTTP request that triggered it.
			result := r.RunDetector(context.WithoutCancel(ctx), detectorID, start, end)
			result.TaskID = taskID
			result.Mode = "async"
			r.results.Store(taskID, result)
		})
		if started {
			return TaskStatus{TaskID: taskID, DetectorID: detectorID, Mode: "async"}
		}
		log.Printf("No worker slot available, running detector %s synchronously", detectorID)
	}

	result := r.RunDetector(ctx, detectorID, start, end)
	result.TaskID = taskID
	r.results.Store(taskID, result)
	return TaskStatus{TaskID: taskID, DetectorID: detectorID, Mode: result.Mode, Done: true, Result: &result}
}

// TaskResult returns the stored result for a finished task.
func (r *Runner) TaskResult(taskID string) (RunResult, bool) {
	v, ok := r.results.Load(taskID)
	if !ok {
		return RunResult{}, false
	}
	return v.(RunResult), true
}
