// Package workerpool manages the lifecycle of the goroutines backing each
// pipeline queue's workers: registration, graceful shutdown, and a live
// registry of what's currently running. It replaces a connection registry
// with a goroutine registry, but keeps the same shape: an in-memory map
// guarded by a mutex, safe for concurrent use by the component that starts
// workers and whatever later wants to inspect or stop them.
package workerpool

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Runnable is anything workerpool can run: every queue worker (LLM adapter,
// validator, reconciler) implements Run(ctx) and blocks until ctx is done.
type Runnable interface {
	Run(ctx context.Context)
}

// entry tracks one running worker for the registry.
type entry struct {
	name      string
	startedAt time.Time
	cancel    context.CancelFunc
}

// Pool is the in-memory registry of currently running workers. The zero
// value is not usable — create instances with New.
type Pool struct {
	mu      sync.RWMutex
	workers map[string]*entry
	wg      sync.WaitGroup
	logger  *zap.Logger
}

// New creates a new Pool instance.
func New(logger *zap.Logger) *Pool {
	return &Pool{
		workers: make(map[string]*entry),
		logger:  logger.Named("workerpool"),
	}
}

// Start launches count copies of newWorker(name-i) as goroutines, each
// registered under a unique name derived from name and its index, and
// stoppable individually or as part of Pool.Stop.
func (p *Pool) Start(ctx context.Context, name string, count int, newWorker func(id string) Runnable) {
	for i := 0; i < count; i++ {
		id := workerID(name, i)
		p.startOne(ctx, id, newWorker(id))
	}
}

func (p *Pool) startOne(ctx context.Context, id string, r Runnable) {
	workerCtx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	if existing, ok := p.workers[id]; ok {
		p.logger.Warn("replacing already-running worker", zap.String("worker_id", id))
		existing.cancel()
	}
	p.workers[id] = &entry{name: id, startedAt: time.Now(), cancel: cancel}
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.deregister(id)
		r.Run(workerCtx)
	}()

	p.logger.Info("worker started", zap.String("worker_id", id))
}

func (p *Pool) deregister(id string) {
	p.mu.Lock()
	delete(p.workers, id)
	p.mu.Unlock()
	p.logger.Info("worker stopped", zap.String("worker_id", id))
}

// StopOne cancels a single worker's context. Safe to call even if the
// worker has already stopped.
func (p *Pool) StopOne(id string) {
	p.mu.RLock()
	e, ok := p.workers[id]
	p.mu.RUnlock()
	if !ok {
		return
	}
	e.cancel()
}

// Stop cancels every running worker and waits for all of them to return.
func (p *Pool) Stop() {
	p.mu.RLock()
	cancels := make([]context.CancelFunc, 0, len(p.workers))
	for _, e := range p.workers {
		cancels = append(cancels, e.cancel)
	}
	p.mu.RUnlock()

	for _, cancel := range cancels {
		cancel()
	}
	p.wg.Wait()
}

// Running returns the ids of currently registered workers, for diagnostics.
func (p *Pool) Running() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.workers))
	for id := range p.workers {
		ids = append(ids, id)
	}
	return ids
}

func workerID(name string, index int) string {
	if index == 0 {
		return name
	}
	return name + "-" + strconv.Itoa(index)
}
