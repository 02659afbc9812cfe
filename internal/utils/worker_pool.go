package utils

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var ErrPoolStopped = errors.New("worker pool stopped")

// WorkerPool 固定数量 worker 的协程池，用于限制 sweep/reap 对存储的并发访问
type WorkerPool struct {
	jobs      chan func()
	workerNum int
	logger    *zap.Logger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// NewWorkerPool 创建协程池，workerNum 和 queueSize 至少为 1
func NewWorkerPool(workerNum, queueSize int, logger *zap.Logger) *WorkerPool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkerPool{
		jobs:      make(chan func(), max(queueSize, 1)),
		workerNum: max(workerNum, 1),
		logger:    logger,
	}
}

// Start 启动 worker
func (p *WorkerPool) Start() {
	for i := 0; i < p.workerNum; i++ {
		p.wg.Add(1)
		go func(workerID int) {
			defer p.wg.Done()
			for job := range p.jobs {
				p.run(workerID, job)
			}
		}(i)
	}
}

// run 执行单个任务，panic 不会杀死 worker
func (p *WorkerPool) run(workerID int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker job panicked", zap.Int("worker", workerID), zap.Any("panic", r))
		}
	}()
	job()
}

// Submit 提交任务；队列满时阻塞，直到有空位或 ctx 结束
func (p *WorkerPool) Submit(ctx context.Context, job func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop 停止接收新任务，等待已提交的任务全部执行完
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.jobs)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
