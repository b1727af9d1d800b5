package tasks

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/hyperjump/tiku/internal/models"
	"github.com/hyperjump/tiku/pkg/utils"
)

// DefaultWorkers bounds concurrent jobs when no size is given.
const DefaultWorkers = 2

// Job is one unit of background work. report forwards progress to the
// task record.
type Job func(ctx context.Context, report func(current, total int, message string)) (string, error)

// Pool runs jobs with at most n in flight. Submit never blocks; queued jobs
// wait for a slot on their own goroutine.
type Pool struct {
	ctx      context.Context
	sem      *semaphore.Weighted
	wg       sync.WaitGroup
	registry *Registry
	logger   *zap.Logger
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithLogger sets a logger for job failures.
func WithLogger(l *zap.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// NewPool creates a pool whose jobs run under ctx and are recorded in registry.
func NewPool(ctx context.Context, registry *Registry, workers int, opts ...PoolOption) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	p := &Pool{ctx: ctx, sem: semaphore.NewWeighted(int64(workers)), registry: registry}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = utils.OrNop(p.logger)
	return p
}

// Submit records a running task for job and schedules it. The returned
// snapshot carries the task id to poll.
func (p *Pool) Submit(kind, docID string, job Job) *models.Task {
	t := p.registry.Start(kind, docID, "queued")
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			_ = p.registry.Fail(t.ID, err)
			return
		}
		defer p.sem.Release(1)
		p.run(t.ID, job)
	}()
	return t
}

func (p *Pool) run(id string, job Job) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("job panicked: %v", r)
			p.logger.Error("task failed", zap.String("task_id", id), zap.Error(err))
			_ = p.registry.Fail(id, err)
		}
	}()
	_ = p.registry.Update(id, 0, 0, "running")
	msg, err := job(p.ctx, func(current, total int, message string) {
		_ = p.registry.Update(id, current, total, message)
	})
	if err != nil {
		p.logger.Warn("task failed", zap.String("task_id", id), zap.Error(err))
		_ = p.registry.Fail(id, err)
		return
	}
	_ = p.registry.Finish(id, msg)
}

// Wait blocks until every submitted job has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
