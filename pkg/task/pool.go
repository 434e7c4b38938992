package task

import (
	"sync"

	"github.com/dd0wney/cluso-controlplane/pkg/logging"
)

// workerPool runs submitted jobs on a fixed set of goroutines
type workerPool struct {
	workers int
	queue   chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex // guards queue against close during send
	closed  bool
	logger  logging.Logger
}

func newWorkerPool(workers int, logger logging.Logger) *workerPool {
	if workers <= 0 {
		workers = 1
	}
	wp := &workerPool{
		workers: workers,
		queue:   make(chan func(), workers*2),
		logger:  logger,
	}
	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker()
	}
	return wp
}

func (wp *workerPool) worker() {
	defer wp.wg.Done()

	for job := range wp.queue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					wp.logger.Error("Task handler panicked", logging.Any("panic", r))
				}
			}()
			job()
		}()
	}
}

// submit queues job. It returns false once the pool is closed.
func (wp *workerPool) submit(job func()) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if wp.closed {
		return false
	}
	wp.queue <- job
	return true
}

// close stops accepting jobs and waits for queued ones to finish
func (wp *workerPool) close() {
	wp.once.Do(func() {
		wp.mu.Lock()
		wp.closed = true
		close(wp.queue)
		wp.mu.Unlock()
	})
	wp.wg.Wait()
}
