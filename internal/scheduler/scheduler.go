// Package scheduler 定时触发同步：预热延迟后按固定周期执行
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/callmeahab/energy-management-sub000/internal/models"

	"go.uber.org/zap"
)

// Syncer 执行一次同步
type Syncer interface {
	Synchronize(ctx context.Context, mode models.SyncType) *models.SyncResult
}

// Options 调度参数
type Options struct {
	Interval time.Duration
	WarmUp   time.Duration
	SyncType models.SyncType
}

// Status 调度器状态
type Status struct {
	IsRunning    bool       `json:"isRunning"`
	NextSyncTime *time.Time `json:"nextSyncTime"`
}

// Scheduler 同步调度器
// Stop 只取消后续触发，正在执行的同步会跑完
type Scheduler struct {
	syncer   Syncer
	interval time.Duration
	warmUp   time.Duration
	mode     models.SyncType
	logger   *zap.Logger

	mu         sync.Mutex
	running    bool
	inFlight   bool
	generation uint64
	timer      *time.Timer
	next       time.Time

	wg sync.WaitGroup
}

// New 创建调度器
func New(syncer Syncer, opts Options, logger *zap.Logger) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	if opts.WarmUp < 0 {
		opts.WarmUp = 0
	}
	if opts.SyncType == "" {
		opts.SyncType = models.SyncFull
	}
	return &Scheduler{
		syncer:   syncer,
		interval: opts.Interval,
		warmUp:   opts.WarmUp,
		mode:     opts.SyncType,
		logger:   logger,
	}
}

// Start 启动调度；已在运行时不做任何事
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.generation++
	s.arm(s.warmUp, s.generation)

	s.logger.Info("Sync scheduler started",
		zap.Duration("warm_up", s.warmUp),
		zap.Duration("interval", s.interval),
		zap.String("sync_type", string(s.mode)),
	)
}

// Stop 停止调度
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	s.generation++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.next = time.Time{}
	s.logger.Info("Sync scheduler stopped")
}

// IsRunning 是否处于运行状态
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextSyncTime 下一次触发时间；未运行时为 nil
func (s *Scheduler) NextSyncTime() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.next.IsZero() {
		return nil
	}
	next := s.next
	return &next
}

// Status 当前状态快照
func (s *Scheduler) Status() Status {
	return Status{IsRunning: s.IsRunning(), NextSyncTime: s.NextSyncTime()}
}

// Wait 等待正在执行的同步结束
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// arm 调用方持有 mu
func (s *Scheduler) arm(d time.Duration, gen uint64) {
	s.next = time.Now().Add(d)
	s.timer = time.AfterFunc(d, func() { s.fire(gen) })
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if !s.running || gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.arm(s.interval, gen)
	if s.inFlight {
		s.mu.Unlock()
		s.logger.Warn("Previous sync still running, skipping this tick")
		return
	}
	s.inFlight = true
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
		s.wg.Done()
	}()
	s.runPass()
}

// runPass 在独立 ctx 上执行，panic 只记录
func (s *Scheduler) runPass() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Scheduled sync panicked", zap.String("panic", fmt.Sprint(r)))
		}
	}()

	result := s.syncer.Synchronize(context.Background(), s.mode)
	if result == nil {
		return
	}
	if !result.Success {
		s.logger.Warn("Scheduled sync finished with errors",
			zap.Int("errors_count", result.ErrorsCount),
			zap.String("error_message", result.ErrorMessage),
		)
	}
}
