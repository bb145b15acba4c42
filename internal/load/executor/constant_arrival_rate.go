package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/prload/internal/load"
	"github.com/wesleyorama2/prload/internal/load/metrics"
	"github.com/wesleyorama2/prload/internal/load/rate"
)

// ConstantArrivalRate starts iterations at a fixed rate (open model).
//
// Iteration starts are paced by a LeakyBucket and handed to a pool of VUs.
// PreAllocatedVUs are spawned up front; when every VU is busy another one is
// spawned, up to MaxVUs. Once MaxVUs are busy, an iteration that comes due
// is dropped and counted rather than queued, so the schedule never slips
// and no more than MaxVUs requests are ever in flight.
//
// Every slot that comes due before Duration elapses is either started or
// counted as dropped. If the scheduler wakes late, the slots it overslept
// are worked off immediately. Iterations still running when scheduling ends
// are left to finish; any still running after GracefulStop have their
// requests cancelled.
//
//	scenario:
//	  executor: constant-arrival-rate
//	  rate: 20
//	  timeUnit: 1s
//	  duration: 1m
//	  preAllocatedVUs: 10
//	  maxVUs: 50
type ConstantArrivalRate struct {
	config    *Config
	scheduler *load.VUScheduler
	metrics   *metrics.Engine

	bucket *rate.LeakyBucket

	vuPool    chan *load.VirtualUser
	allocated atomic.Int32
	vuPoolMu  sync.Mutex

	active     atomic.Int32
	iterations atomic.Int64
	dropped    atomic.Int64
	running    atomic.Bool

	startTime time.Time
	endTime   time.Time
	mu        sync.RWMutex

	cancelMu    sync.Mutex
	stopping    bool
	cancelFunc  context.CancelFunc
	cancelIters context.CancelFunc
	wg          sync.WaitGroup
	done        chan struct{}
}

// NewConstantArrivalRate creates a new constant arrival rate executor.
func NewConstantArrivalRate() *ConstantArrivalRate {
	return &ConstantArrivalRate{done: make(chan struct{})}
}

// Type returns the executor type.
func (e *ConstantArrivalRate) Type() Type {
	return TypeConstantArrivalRate
}

// Init validates cfg and keeps a copy with defaults filled in.
func (e *ConstantArrivalRate) Init(ctx context.Context, cfg *Config) error {
	if cfg.Type != TypeConstantArrivalRate {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeConstantArrivalRate, cfg.Type)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	c := *cfg
	if c.TimeUnit <= 0 {
		c.TimeUnit = DefaultTimeUnit
	}
	if c.PreAllocatedVUs <= 0 {
		c.PreAllocatedVUs = 1
	}
	if c.MaxVUs < c.PreAllocatedVUs {
		c.MaxVUs = c.PreAllocatedVUs
	}
	if c.GracefulStop == 0 {
		c.GracefulStop = DefaultGracefulStop
	}

	e.config = &c
	return nil
}

// Config returns the effective configuration after Init.
func (e *ConstantArrivalRate) Config() Config {
	return *e.config
}

// Run schedules iterations for the configured duration and returns once
// every started iteration has finished or been cancelled.
func (e *ConstantArrivalRate) Run(ctx context.Context, scheduler *load.VUScheduler, metricsEngine *metrics.Engine) error {
	if e.config == nil {
		return errors.New("executor not initialized")
	}
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("executor already running")
	}

	e.scheduler = scheduler
	e.metrics = metricsEngine
	e.bucket = rate.NewLeakyBucket(e.config.Rate, e.config.TimeUnit)
	e.vuPool = make(chan *load.VirtualUser, e.config.MaxVUs)

	// Requests run on a context that outlives the scheduling deadline and
	// is only cancelled once gracefulStop has expired.
	iterCtx, cancelIters := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelIters()
	schedCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.cancelMu.Lock()
	e.cancelFunc = cancel
	e.cancelIters = cancelIters
	if e.stopping {
		cancel()
	}
	e.cancelMu.Unlock()

	for i := 0; i < e.config.PreAllocatedVUs; i++ {
		e.vuPool <- e.spawnVU()
	}

	e.mu.Lock()
	e.startTime = time.Now()
	e.mu.Unlock()

	e.metrics.SetPhase(metrics.PhaseSteady)
	e.schedule(schedCtx, iterCtx)

	e.metrics.SetPhase(metrics.PhaseGracefulStop)
	e.scheduler.StopAllVUs()
	if !e.waitInFlight(e.config.GracefulStop) {
		cancelIters()
		e.wg.Wait()
	}

	e.metrics.SetPhase(metrics.PhaseDone)

	e.mu.Lock()
	e.endTime = time.Now()
	e.mu.Unlock()
	e.running.Store(false)
	close(e.done)

	return nil
}

// schedule starts one iteration per bucket slot that falls within Duration
// of the first slot, or until ctx ends.
func (e *ConstantArrivalRate) schedule(ctx, iterCtx context.Context) {
	var deadline time.Time
	for {
		slot := e.bucket.Next()
		if deadline.IsZero() {
			deadline = slot.Add(e.config.Duration)
		}
		if !slot.Before(deadline) {
			return
		}
		if err := rate.SleepUntil(ctx, slot); err != nil {
			return
		}

		vu := e.acquireVU()
		if vu == nil {
			e.dropped.Add(1)
			e.metrics.RecordDroppedIteration()
			continue
		}

		e.wg.Add(1)
		go e.runIteration(iterCtx, vu)
	}
}

func (e *ConstantArrivalRate) spawnVU() *load.VirtualUser {
	vu := e.scheduler.SpawnVU()
	e.allocated.Add(1)
	return vu
}

// acquireVU returns an idle VU, spawning one if the pool is below MaxVUs.
// It returns nil when all MaxVUs are busy.
func (e *ConstantArrivalRate) acquireVU() *load.VirtualUser {
	select {
	case vu := <-e.vuPool:
		return vu
	default:
	}

	e.vuPoolMu.Lock()
	defer e.vuPoolMu.Unlock()

	if int(e.allocated.Load()) >= e.config.MaxVUs {
		return nil
	}
	return e.spawnVU()
}

func (e *ConstantArrivalRate) returnVU(vu *load.VirtualUser) {
	select {
	case <-vu.Stopping():
		return
	default:
	}

	select {
	case e.vuPool <- vu:
	default:
	}
}

func (e *ConstantArrivalRate) runIteration(ctx context.Context, vu *load.VirtualUser) {
	defer e.wg.Done()

	e.active.Add(1)
	e.metrics.IncActiveVUs()
	if _, err := vu.RunIteration(ctx); err == nil {
		e.iterations.Add(1)
	}
	e.metrics.DecActiveVUs()
	e.active.Add(-1)

	e.returnVU(vu)
}

// waitInFlight reports whether all iterations finished within timeout.
func (e *ConstantArrivalRate) waitInFlight(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// GetProgress returns progress through Duration (0.0 to 1.0).
func (e *ConstantArrivalRate) GetProgress() float64 {
	e.mu.RLock()
	start, end := e.startTime, e.endTime
	e.mu.RUnlock()

	if start.IsZero() {
		return 0.0
	}
	if !end.IsZero() {
		return 1.0
	}

	progress := float64(time.Since(start)) / float64(e.config.Duration)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// GetActiveVUs returns how many VUs are running an iteration.
func (e *ConstantArrivalRate) GetActiveVUs() int {
	return int(e.active.Load())
}

// GetStats returns executor statistics.
func (e *ConstantArrivalRate) GetStats() *Stats {
	e.mu.RLock()
	start, end := e.startTime, e.endTime
	e.mu.RUnlock()

	now := time.Now()
	var elapsed time.Duration
	switch {
	case !end.IsZero():
		elapsed = end.Sub(start)
	case !start.IsZero():
		elapsed = now.Sub(start)
	}

	stats := &Stats{
		StartTime:         start,
		CurrentTime:       now,
		Elapsed:           elapsed,
		ActiveVUs:         int(e.active.Load()),
		AllocatedVUs:      int(e.allocated.Load()),
		Iterations:        e.iterations.Load(),
		DroppedIterations: e.dropped.Load(),
	}
	if e.config != nil {
		stats.TotalDuration = e.config.Duration
		stats.MaxVUs = e.config.MaxVUs
		stats.TargetRate = e.config.RatePerSecond()
	}
	return stats
}

// Stop ends scheduling now and waits for Run to return. If ctx ends first,
// in-flight requests are cancelled and ctx.Err() is returned. A Stop that
// arrives before Run has set up makes Run return without scheduling.
func (e *ConstantArrivalRate) Stop(ctx context.Context) error {
	e.cancelMu.Lock()
	e.stopping = true
	cancel, cancelIters := e.cancelFunc, e.cancelIters
	e.cancelMu.Unlock()

	if cancel == nil {
		if !e.running.Load() {
			return nil
		}
		select {
		case <-e.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	cancel()

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		cancelIters()
		<-e.done
		return ctx.Err()
	}
}

var _ Executor = (*ConstantArrivalRate)(nil)
