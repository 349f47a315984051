// File: internal/worker/pool.go
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/soroscan/soroscan/internal/metrics"
	"github.com/soroscan/soroscan/pkg/utils"
)

// slowTaskThreshold is the duration past which a completed task is logged
// as slow.
const slowTaskThreshold = 5 * time.Second

// Task is one schedulable unit of work
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Pool runs tasks on a fixed set of worker goroutines. Every task is wrapped
// in a timing decorator that observes task duration and logs failures, so
// all scheduled work is instrumented uniformly.
type Pool struct {
	workers int
	queue   chan Task
	logger  *logrus.Entry

	metricsManager *metrics.Manager

	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
	cancel  context.CancelFunc
}

// NewPool creates a worker pool with the given worker count and queue size
func NewPool(workers, queueSize int, metricsManager *metrics.Manager) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	return &Pool{
		workers:        workers,
		queue:          make(chan Task, queueSize),
		logger:         utils.ComponentLogger("worker"),
		metricsManager: metricsManager,
	}
}

// Start launches the worker goroutines
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.WithField("workers", p.workers).Info("Worker pool started")
}

// Stop drains in-flight tasks and shuts the pool down
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	if p.cancel != nil {
		p.cancel()
	}
	p.logger.Info("Worker pool stopped")
}

// Submit enqueues a task. Returns false when the queue is full or the pool
// is stopped; the caller decides whether to drop or run inline.
func (p *Pool) Submit(task Task) bool {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return false
	}

	select {
	case p.queue <- task:
		return true
	default:
		p.logger.WithField("task", task.Name).Warn("Task queue full, dropping task")
		return false
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for task := range p.queue {
		select {
		case <-ctx.Done():
			return
		default:
		}
		p.runTask(ctx, task)
	}
}

// runTask is the timing decorator around every scheduled unit of work
func (p *Pool) runTask(ctx context.Context, task Task) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			p.logger.WithFields(logrus.Fields{
				"task":  task.Name,
				"panic": r,
			}).Error("Task panicked")
		}
	}()

	err := task.Run(ctx)
	elapsed := time.Since(start)

	if p.metricsManager != nil {
		p.metricsManager.GetPrometheusMetrics().ObserveTaskDuration(task.Name, elapsed)
	}

	fields := logrus.Fields{
		"task":     task.Name,
		"duration": elapsed.String(),
	}
	switch {
	case err != nil:
		p.logger.WithFields(fields).WithField("error", err.Error()).Error("Task failed")
	case elapsed > slowTaskThreshold:
		p.logger.WithFields(fields).Warn("Slow task")
	default:
		p.logger.WithFields(fields).Debug("Task completed")
	}
}
