// Package scheduler drives sweep and reap passes. The lifecycle engine itself
// owns no timers: every pass is started here, by a ticker, a kafka trigger or
// an admin request.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Gopher0727/Ephemera/config"
	"github.com/Gopher0727/Ephemera/internal/services"
	logger "github.com/Gopher0727/Ephemera/middleware/log"
)

const (
	OpSweep = "sweep"
	OpReap  = "reap"
)

// Sweeper is satisfied by *services.SweepService.
type Sweeper interface {
	Sweep(ctx context.Context) (*services.SweepReport, error)
}

// Reaper is satisfied by *services.ReaperService.
type Reaper interface {
	Reap(ctx context.Context) (*services.ReapReport, error)
}

// Scheduler 周期性触发 sweep 与 reap；同一种操作同一时刻只跑一轮
type Scheduler struct {
	sweeper       Sweeper
	reaper        Reaper
	sweepInterval time.Duration
	reapInterval  time.Duration
	logger        *logger.Logger

	sweepMu sync.Mutex
	reapMu  sync.Mutex

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New 创建调度器；间隔为 0 的操作不会被定时触发，只能按需调用
func New(sweeper Sweeper, reaper Reaper, cfg config.LifecycleConfig, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Scheduler{
		sweeper:       sweeper,
		reaper:        reaper,
		sweepInterval: cfg.SweepInterval,
		reapInterval:  cfg.ReapInterval,
		logger:        log,
	}
}

// RunSweep 执行一轮 sweep，ctx 中没有 trace id 时分配一个新的
func (s *Scheduler) RunSweep(ctx context.Context) (*services.SweepReport, error) {
	ctx = logger.StartOperation(ctx, OpSweep)
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	report, err := s.sweeper.Sweep(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "sweep failed", zap.Error(err))
		return report, err
	}
	if len(report.Errors) > 0 {
		s.logger.WarnContext(ctx, "sweep finished with errors",
			zap.Int("transitioned", report.Transitioned),
			zap.Int("errors", len(report.Errors)),
		)
	} else {
		s.logger.DebugContext(ctx, "sweep pass done", zap.Int("transitioned", report.Transitioned))
	}
	return report, nil
}

// RunReap 执行一轮 reap
func (s *Scheduler) RunReap(ctx context.Context) (*services.ReapReport, error) {
	ctx = logger.StartOperation(ctx, OpReap)
	s.reapMu.Lock()
	defer s.reapMu.Unlock()

	report, err := s.reaper.Reap(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "reap failed", zap.Error(err))
		return report, err
	}
	s.logger.InfoContext(ctx, "reap pass done",
		zap.Int("purged", report.Purged),
		zap.Int("errors", len(report.Errors)),
	)
	return report, nil
}

// Start 启动定时循环，立即返回
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.loop(ctx, s.sweepInterval, func(ctx context.Context) { _, _ = s.RunSweep(ctx) })
	s.loop(ctx, s.reapInterval, func(ctx context.Context) { _, _ = s.RunReap(ctx) })
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, run func(context.Context)) {
	if interval <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run(ctx)
			}
		}
	}()
}

// Stop 停止定时循环并等待正在执行的一轮结束
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}
