package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/ThanhTuGenki/transfer-file-to-drive/pkg/logger"
)

var log = logger.Get("Worker")

// Task is the long-running body of a worker. It should block until the
// provided context is cancelled; a non-nil error indicates the worker
// stopped abnormally.
type Task func(ctx context.Context) error

type Worker struct {
	label string
	task  Task
}

func NewWorker(label string, task Task) *Worker {
	return &Worker{label: label, task: task}
}

// Label returns the label for this worker
func (worker *Worker) Label() string { return worker.label }

// WorkerPool contains a set of labeled workers which are each given
// their own goroutine when the pool is started. The pool's WaitGroup is
// managed automatically; consumers wishing to block until all workers
// have returned should use Wait.
type WorkerPool struct {
	workers []*Worker
	wg      sync.WaitGroup
	started bool
}

// NewWorkerPool creates a new WorkerPool struct
// and initialises the 'workers' slice.
func NewWorkerPool() *WorkerPool {
	return &WorkerPool{workers: make([]*Worker, 0)}
}

// PushWorker inserts the workers provided in to the worker pool. Workers
// cannot be added once the pool has been started.
func (pool *WorkerPool) PushWorker(workers ...*Worker) error {
	if pool.started {
		return errors.New("cannot push worker to already started worker pool")
	}

	pool.workers = append(pool.workers, workers...)
	return nil
}

// Start spawns a goroutine for every worker currently inside the
// WorkerPool, running each worker's task until the context provided is
// cancelled. Start does NOT block.
func (pool *WorkerPool) Start(ctx context.Context) error {
	if pool.started {
		return errors.New("cannot start an already started worker pool")
	}

	pool.started = true
	for _, w := range pool.workers {
		pool.wg.Add(1)
		go func(w *Worker) {
			defer pool.wg.Done()

			log.Emit(logger.NEW, "Starting worker %s\n", w.label)
			if err := w.task(ctx); err != nil {
				log.Emit(logger.ERROR, "Worker %s reported an error: %v\n", w.label, err)
				return
			}

			log.Emit(logger.STOP, "Worker %s has stopped\n", w.label)
		}(w)
	}

	return nil
}

// Wait blocks until every worker goroutine has returned. Cancellation of
// the workers is the caller's responsibility (via the context passed to Start).
func (pool *WorkerPool) Wait() {
	pool.wg.Wait()
	pool.started = false
}
