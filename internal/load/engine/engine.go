// Package engine runs one load test end to end.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wesleyorama2/prload/internal/load"
	"github.com/wesleyorama2/prload/internal/load/check"
	"github.com/wesleyorama2/prload/internal/load/config"
	"github.com/wesleyorama2/prload/internal/load/executor"
	"github.com/wesleyorama2/prload/internal/load/metrics"
)

// Engine coordinates a run: it builds the generator and checks from the
// config, drives the executor, and evaluates thresholds on the result.
//
//	cfg := config.Default()
//	eng, _ := engine.NewEngine(cfg, logger)
//	result, _ := eng.Run(ctx)
//	fmt.Println(result.Passed)
type Engine struct {
	config    *config.RunConfig
	generator *load.Generator
	log       *zap.SugaredLogger
	runID     string

	// MetricsConfig tunes the metrics engine created by Run.
	MetricsConfig metrics.EngineConfig

	metricsEngine *metrics.Engine
	exec          executor.Executor
	mu            sync.RWMutex

	startTime time.Time
	running   bool
	stopped   bool
}

// TestResult contains the complete run results.
type TestResult struct {
	RunID     string        `json:"runId"`
	Name      string        `json:"name"`
	URL       string        `json:"url"`
	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"duration"`

	Scenario config.ScenarioConfig `json:"scenario"`
	Executor *executor.Stats       `json:"executor,omitempty"`

	Metrics      *metrics.Snapshot               `json:"metrics"`
	Checks       []metrics.CheckStats            `json:"checks"`
	RequestStats map[string]metrics.LatencyStats `json:"requestStats,omitempty"`
	TimeSeries   []*metrics.TimeBucket           `json:"timeSeries,omitempty"`
	Phases       []metrics.PhaseChange           `json:"phases,omitempty"`

	// Passed is false when any threshold failed. Failed checks alone do not
	// fail a run.
	Passed      bool              `json:"passed"`
	Thresholds  []ThresholdResult `json:"thresholds,omitempty"`
	Interrupted bool              `json:"interrupted,omitempty"`

	Error error `json:"-"`
}

// ThresholdResult contains the result of a threshold evaluation.
type ThresholdResult struct {
	Metric     string `json:"metric"`
	Expression string `json:"expression"`
	Passed     bool   `json:"passed"`
	Value      string `json:"value"`
	Message    string `json:"message,omitempty"`
}

// NewEngine validates cfg and prepares a run. The engine keeps its own copy
// of cfg.
func NewEngine(cfg *config.RunConfig, logger *zap.SugaredLogger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	cfg = cfg.Clone()
	checks, err := buildChecks(&cfg.Checks)
	if err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	gen := &load.Generator{
		URL:             cfg.URL(),
		RequestName:     cfg.Request.Name,
		IDPrefix:        cfg.Request.IDPrefix,
		PullRequestName: cfg.Request.PullRequestName,
		AuthorID:        cfg.Request.AuthorID,
		Expected:        cfg.Checks.AcceptStatus,
		Checks:          checks,
		Logger:          logger.With("run_id", runID),
	}

	return &Engine{
		config:        cfg,
		generator:     gen,
		log:           logger,
		runID:         runID,
		MetricsConfig: metrics.DefaultEngineConfig(),
	}, nil
}

func buildChecks(c *config.ChecksConfig) ([]check.Check, error) {
	checks := []check.Check{check.StatusIn(c.AcceptStatus...)}

	if c.EchoID {
		checks = append(checks, check.EchoesID(check.DefaultIDPath))
	}

	if c.Schema != "" {
		schema, err := os.ReadFile(c.Schema)
		if err != nil {
			return nil, fmt.Errorf("failed to read schema: %w", err)
		}
		sc, err := check.MatchesSchema("", schema)
		if err != nil {
			return nil, fmt.Errorf("invalid schema %s: %w", c.Schema, err)
		}
		checks = append(checks, sc)
	}

	return checks, nil
}

// RunID identifies this run in logs and exports.
func (e *Engine) RunID() string {
	return e.runID
}

// Run executes the scenario and returns the results. Cancelling ctx stops
// scheduling; in-flight iterations still get the graceful stop period.
func (e *Engine) Run(ctx context.Context) (*TestResult, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, fmt.Errorf("engine is already running")
	}
	if e.metricsEngine != nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("engine has already run")
	}

	exec, err := executor.CreateAndInitExecutor(ctx, e.config.ExecutorConfig())
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}

	m := metrics.NewEngineWithConfig(e.MetricsConfig)
	m.SetPhase(metrics.PhaseInit)
	e.metricsEngine = m
	e.exec = exec
	e.running = true
	e.startTime = time.Now()
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	scheduler := load.NewVUScheduler(e.generator, m, e.config.HTTPClientConfig())

	sc := e.config.Scenario
	e.log.Infow("starting run",
		"run_id", e.runID,
		"url", e.generator.URL,
		"rate", sc.Rate,
		"time_unit", sc.TimeUnit.String(),
		"duration", sc.Duration.String(),
		"pre_allocated_vus", sc.PreAllocatedVUs,
		"max_vus", sc.MaxVUs,
	)

	runErr := exec.Run(ctx, scheduler, m)
	scheduler.Shutdown()
	m.Stop()

	snapshot := m.GetSnapshot()
	thresholds := e.evaluateThresholds(snapshot)
	passed := runErr == nil
	for _, tr := range thresholds {
		if !tr.Passed {
			passed = false
		}
	}

	e.mu.RLock()
	interrupted := e.stopped || ctx.Err() != nil
	e.mu.RUnlock()

	end := time.Now()
	result := &TestResult{
		RunID:        e.runID,
		Name:         e.config.Name,
		URL:          e.generator.URL,
		StartTime:    e.startTime,
		EndTime:      end,
		Duration:     end.Sub(e.startTime),
		Scenario:     sc,
		Executor:     exec.GetStats(),
		Metrics:      snapshot,
		Checks:       snapshot.Checks,
		RequestStats: m.GetRequestStats(),
		TimeSeries:   m.GetTimeSeries(),
		Phases:       m.GetPhaseHistory(),
		Passed:       passed,
		Thresholds:   thresholds,
		Interrupted:  interrupted,
		Error:        runErr,
	}

	e.log.Infow("run finished",
		"run_id", e.runID,
		"requests", snapshot.TotalRequests,
		"checks_rate", snapshot.ChecksRate,
		"dropped_iterations", snapshot.DroppedIterations,
		"passed", passed,
		"interrupted", interrupted,
	)

	return result, runErr
}

// Stop ends the run early. It returns once the executor has wound down, or
// when ctx ends.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	exec := e.exec
	e.mu.Unlock()

	if err := exec.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// IsRunning returns true if the engine is currently running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// GetConfig returns the engine's copy of the configuration.
func (e *Engine) GetConfig() *config.RunConfig {
	return e.config
}

// GetMetrics returns the current metrics snapshot, or nil before Run.
func (e *Engine) GetMetrics() *metrics.Snapshot {
	e.mu.RLock()
	m := e.metricsEngine
	e.mu.RUnlock()

	if m == nil {
		return nil
	}
	return m.GetSnapshot()
}

// GetProgress returns run progress (0.0 to 1.0).
func (e *Engine) GetProgress() float64 {
	e.mu.RLock()
	exec := e.exec
	e.mu.RUnlock()

	if exec == nil {
		return 0.0
	}
	return exec.GetProgress()
}

// GetExecutorStats returns live executor stats, or nil before Run.
func (e *Engine) GetExecutorStats() *executor.Stats {
	e.mu.RLock()
	exec := e.exec
	e.mu.RUnlock()

	if exec == nil {
		return nil
	}
	return exec.GetStats()
}
