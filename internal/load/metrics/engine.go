// Package metrics aggregates request timings, check outcomes and iteration
// counts for a load run.
package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Engine collects run metrics. Counters are atomic; histograms and the
// check/status tables are mutex protected. A background goroutine emits one
// TimeBucket per BucketInterval until Stop is called.
type Engine struct {
	latencyHist   *hdrhistogram.Histogram
	latencyHistMu sync.Mutex

	requestHists   map[string]*hdrhistogram.Histogram
	requestHistsMu sync.Mutex

	totalRequests   atomic.Int64
	successRequests atomic.Int64
	failedRequests  atomic.Int64
	totalBytes      atomic.Int64
	iterations      atomic.Int64
	dropped         atomic.Int64

	activeVUs atomic.Int32
	maxVUs    atomic.Int32

	checks     map[string]*checkCounter
	checkOrder []string
	checksMu   sync.RWMutex

	statusCodes   map[int]int64
	statusCodesMu sync.Mutex

	bucketStore *TimeBucketStore

	currentPhase Phase
	phaseHistory []PhaseChange
	phaseMu      sync.RWMutex

	startTime time.Time
	stoppedAt atomic.Int64

	emitterCancel context.CancelFunc
	emitterWg     sync.WaitGroup
	stopOnce      sync.Once

	config EngineConfig
}

type checkCounter struct {
	passes atomic.Int64
	fails  atomic.Int64
}

// NewEngine creates an engine with DefaultEngineConfig.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig creates an engine and starts its bucket emitter.
func NewEngineWithConfig(config EngineConfig) *Engine {
	if config.BucketInterval <= 0 {
		config.BucketInterval = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		latencyHist:   hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		requestHists:  make(map[string]*hdrhistogram.Histogram),
		checks:        make(map[string]*checkCounter),
		statusCodes:   make(map[int]int64),
		bucketStore:   NewTimeBucketStore(config.MaxBuckets),
		currentPhase:  PhaseInit,
		startTime:     time.Now(),
		emitterCancel: cancel,
		config:        config,
	}

	e.emitterWg.Add(1)
	go e.runEmitter(ctx)

	return e
}

// RecordRequest records one finished HTTP request. status is 0 when the
// request never got a response. failed is the caller's http_req_failed
// verdict: a transport error or an unexpected status.
func (e *Engine) RecordRequest(name string, duration time.Duration, status int, failed bool, bytes int64) {
	micros := e.clamp(duration.Microseconds())

	e.latencyHistMu.Lock()
	_ = e.latencyHist.RecordValue(micros)
	e.latencyHistMu.Unlock()

	if name != "" {
		e.requestHistsMu.Lock()
		h, ok := e.requestHists[name]
		if !ok {
			h = hdrhistogram.New(e.config.HistogramMin, e.config.HistogramMax, e.config.HistogramSigFigs)
			e.requestHists[name] = h
		}
		_ = h.RecordValue(micros)
		e.requestHistsMu.Unlock()
	}

	e.statusCodesMu.Lock()
	e.statusCodes[status]++
	e.statusCodesMu.Unlock()

	e.totalRequests.Add(1)
	e.totalBytes.Add(bytes)
	if failed {
		e.failedRequests.Add(1)
	} else {
		e.successRequests.Add(1)
	}

	e.bucketStore.RecordRequest(failed)
}

func (e *Engine) clamp(micros int64) int64 {
	if micros < e.config.HistogramMin {
		return e.config.HistogramMin
	}
	if micros > e.config.HistogramMax {
		return e.config.HistogramMax
	}
	return micros
}

// RecordCheck records one evaluation of the named check.
func (e *Engine) RecordCheck(name string, passed bool) {
	e.checksMu.RLock()
	c, ok := e.checks[name]
	e.checksMu.RUnlock()

	if !ok {
		e.checksMu.Lock()
		if c, ok = e.checks[name]; !ok {
			c = &checkCounter{}
			e.checks[name] = c
			e.checkOrder = append(e.checkOrder, name)
		}
		e.checksMu.Unlock()
	}

	if passed {
		c.passes.Add(1)
		return
	}
	c.fails.Add(1)
	e.bucketStore.RecordCheckFailure()
}

// RecordIteration counts a completed iteration.
func (e *Engine) RecordIteration() {
	e.iterations.Add(1)
}

// RecordDroppedIteration counts an iteration that was due but had no free VU.
func (e *Engine) RecordDroppedIteration() {
	e.dropped.Add(1)
	e.bucketStore.RecordDropped()
}

// SetPhase records a phase transition. Setting the current phase is a no-op.
func (e *Engine) SetPhase(phase Phase) {
	e.phaseMu.Lock()
	defer e.phaseMu.Unlock()

	if e.currentPhase == phase {
		return
	}
	e.currentPhase = phase
	e.phaseHistory = append(e.phaseHistory, PhaseChange{
		Phase:     phase,
		Timestamp: time.Now(),
		Requests:  e.totalRequests.Load(),
	})
}

// GetPhase returns the current phase.
func (e *Engine) GetPhase() Phase {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()
	return e.currentPhase
}

// IncActiveVUs marks one more VU as running an iteration and raises the
// high-water mark if needed.
func (e *Engine) IncActiveVUs() {
	count := e.activeVUs.Add(1)
	for {
		peak := e.maxVUs.Load()
		if count <= peak || e.maxVUs.CompareAndSwap(peak, count) {
			return
		}
	}
}

// DecActiveVUs marks a VU as done with its iteration.
func (e *Engine) DecActiveVUs() {
	e.activeVUs.Add(-1)
}

// GetActiveVUs returns the live VU gauge.
func (e *Engine) GetActiveVUs() int {
	return int(e.activeVUs.Load())
}

func (e *Engine) runEmitter(ctx context.Context) {
	defer e.emitterWg.Done()

	ticker := time.NewTicker(e.config.BucketInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.emitBucket()
		}
	}
}

func (e *Engine) emitBucket() {
	e.bucketStore.CreateBucket(
		e.totalRequests.Load(),
		e.successRequests.Load(),
		e.failedRequests.Load(),
		e.totalBytes.Load(),
		e.GetLatencyPercentiles(),
		e.GetActiveVUs(),
		e.GetPhase(),
	)
}

// GetLatencyPercentiles returns the current overall percentiles.
func (e *Engine) GetLatencyPercentiles() LatencyPercentiles {
	e.latencyHistMu.Lock()
	defer e.latencyHistMu.Unlock()

	return LatencyPercentiles{
		Min: micros(e.latencyHist.Min()),
		Max: micros(e.latencyHist.Max()),
		P50: micros(e.latencyHist.ValueAtQuantile(50)),
		P90: micros(e.latencyHist.ValueAtQuantile(90)),
		P95: micros(e.latencyHist.ValueAtQuantile(95)),
		P99: micros(e.latencyHist.ValueAtQuantile(99)),
	}
}

func micros(v int64) time.Duration {
	return time.Duration(v) * time.Microsecond
}

func latencyStats(h *hdrhistogram.Histogram) LatencyStats {
	return LatencyStats{
		Min:    micros(h.Min()),
		Max:    micros(h.Max()),
		Mean:   time.Duration(h.Mean() * float64(time.Microsecond)),
		StdDev: time.Duration(h.StdDev() * float64(time.Microsecond)),
		P50:    micros(h.ValueAtQuantile(50)),
		P90:    micros(h.ValueAtQuantile(90)),
		P95:    micros(h.ValueAtQuantile(95)),
		P99:    micros(h.ValueAtQuantile(99)),
		Count:  h.TotalCount(),
	}
}

// GetChecks returns check counters in first-seen order.
func (e *Engine) GetChecks() []CheckStats {
	e.checksMu.RLock()
	defer e.checksMu.RUnlock()

	out := make([]CheckStats, 0, len(e.checkOrder))
	for _, name := range e.checkOrder {
		c := e.checks[name]
		out = append(out, CheckStats{
			Name:   name,
			Passes: c.passes.Load(),
			Fails:  c.fails.Load(),
		})
	}
	return out
}

// GetStatusCodes returns a copy of the per-status response counts.
func (e *Engine) GetStatusCodes() map[int]int64 {
	e.statusCodesMu.Lock()
	defer e.statusCodesMu.Unlock()

	out := make(map[int]int64, len(e.statusCodes))
	for k, v := range e.statusCodes {
		out[k] = v
	}
	return out
}

// GetSnapshot returns a point-in-time view of all metrics.
func (e *Engine) GetSnapshot() *Snapshot {
	e.latencyHistMu.Lock()
	lat := latencyStats(e.latencyHist)
	e.latencyHistMu.Unlock()

	elapsed := e.elapsed()
	total := e.totalRequests.Load()
	failed := e.failedRequests.Load()

	rps := 0.0
	if elapsed > 0 {
		rps = float64(total) / elapsed.Seconds()
	}
	steadyRPS, _ := e.bucketStore.CalculateSteadyStateRPS()

	errRate := 0.0
	if total > 0 {
		errRate = float64(failed) / float64(total)
	}

	checks := e.GetChecks()
	var passes, evals int64
	for _, c := range checks {
		passes += c.Passes
		evals += c.Total()
	}
	checksRate := 0.0
	if evals > 0 {
		checksRate = float64(passes) / float64(evals)
	}

	return &Snapshot{
		TotalRequests:     total,
		SuccessRequests:   e.successRequests.Load(),
		FailedRequests:    failed,
		TotalBytes:        e.totalBytes.Load(),
		Iterations:        e.iterations.Load(),
		DroppedIterations: e.dropped.Load(),
		Latency:           lat,
		RPS:               rps,
		SteadyStateRPS:    steadyRPS,
		ErrorRate:         errRate,
		Checks:            checks,
		ChecksRate:        checksRate,
		StatusCodes:       e.GetStatusCodes(),
		ActiveVUs:         e.GetActiveVUs(),
		MaxActiveVUs:      int(e.maxVUs.Load()),
		CurrentPhase:      e.GetPhase(),
		Elapsed:           elapsed,
		StartTime:         e.startTime,
		Timestamp:         time.Now(),
	}
}

// elapsed is frozen once the engine is stopped, so rates stay stable.
func (e *Engine) elapsed() time.Duration {
	if ns := e.stoppedAt.Load(); ns != 0 {
		return time.Duration(ns - e.startTime.UnixNano())
	}
	return time.Since(e.startTime)
}

// GetTimeSeries returns all emitted buckets oldest first.
func (e *Engine) GetTimeSeries() []*TimeBucket {
	return e.bucketStore.GetBuckets()
}

// GetPhaseHistory returns a copy of the phase transitions.
func (e *Engine) GetPhaseHistory() []PhaseChange {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()

	out := make([]PhaseChange, len(e.phaseHistory))
	copy(out, e.phaseHistory)
	return out
}

// GetRequestStats returns latency stats keyed by request name.
func (e *Engine) GetRequestStats() map[string]LatencyStats {
	e.requestHistsMu.Lock()
	defer e.requestHistsMu.Unlock()

	out := make(map[string]LatencyStats, len(e.requestHists))
	for name, h := range e.requestHists {
		out[name] = latencyStats(h)
	}
	return out
}

// Stop halts the emitter and emits a final bucket. Safe to call twice.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.stoppedAt.Store(time.Now().UnixNano())
		e.emitterCancel()
		e.emitterWg.Wait()
		e.emitBucket()
	})
}
