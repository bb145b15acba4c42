// Package executor decides when iterations start.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/wesleyorama2/prload/internal/load"
	"github.com/wesleyorama2/prload/internal/load/metrics"
)

// Type identifies the type of executor.
type Type string

const (
	// TypeConstantArrivalRate starts a fixed number of iterations per time
	// unit regardless of how long they take.
	TypeConstantArrivalRate Type = "constant-arrival-rate"
)

const (
	DefaultTimeUnit     = time.Second
	DefaultGracefulStop = 30 * time.Second
)

// Executor drives a VU pool.
//
// Run blocks until the executor has finished, including the graceful stop
// of in-flight iterations.
type Executor interface {
	Type() Type

	// Init validates and stores cfg. Called once before Run.
	Init(ctx context.Context, cfg *Config) error

	Run(ctx context.Context, scheduler *load.VUScheduler, m *metrics.Engine) error

	// GetProgress returns progress through the scheduled duration (0.0 to 1.0).
	GetProgress() float64

	// GetActiveVUs returns how many VUs are running an iteration.
	GetActiveVUs() int

	GetStats() *Stats

	// Stop ends scheduling early and waits for the run to wind down, or for
	// ctx to end.
	Stop(ctx context.Context) error
}

// Config contains configuration for an executor.
type Config struct {
	Name string `json:"name" yaml:"name"`
	Type Type   `json:"type" yaml:"type"`

	// Rate iterations are started every TimeUnit.
	Rate     float64       `json:"rate" yaml:"rate"`
	TimeUnit time.Duration `json:"timeUnit,omitempty" yaml:"timeUnit,omitempty"`
	Duration time.Duration `json:"duration" yaml:"duration"`

	PreAllocatedVUs int `json:"preAllocatedVUs,omitempty" yaml:"preAllocatedVUs,omitempty"`
	MaxVUs          int `json:"maxVUs,omitempty" yaml:"maxVUs,omitempty"`

	// GracefulStop bounds how long in-flight iterations may run after
	// Duration before they are cancelled.
	GracefulStop time.Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`
}

// Stats contains real-time executor statistics.
type Stats struct {
	StartTime     time.Time     `json:"startTime"`
	CurrentTime   time.Time     `json:"currentTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	ActiveVUs    int `json:"activeVUs"`
	AllocatedVUs int `json:"allocatedVUs"`
	MaxVUs       int `json:"maxVUs"`

	Iterations        int64 `json:"iterations"`
	DroppedIterations int64 `json:"droppedIterations"`

	// TargetRate is in iterations per second.
	TargetRate float64 `json:"targetRate"`
}

// Validate validates the executor configuration.
func (c *Config) Validate() error {
	if c.Type == "" {
		return &ValidationError{Field: "type", Message: "executor type is required"}
	}

	switch c.Type {
	case TypeConstantArrivalRate:
		if c.Rate <= 0 {
			return &ValidationError{Field: "rate", Message: "rate must be > 0"}
		}
		if c.TimeUnit < 0 {
			return &ValidationError{Field: "timeUnit", Message: "timeUnit must be >= 0"}
		}
		if c.Duration <= 0 {
			return &ValidationError{Field: "duration", Message: "duration must be > 0"}
		}
		if c.PreAllocatedVUs < 0 {
			return &ValidationError{Field: "preAllocatedVUs", Message: "preAllocatedVUs must be >= 0"}
		}
		if c.MaxVUs > 0 && c.MaxVUs < c.PreAllocatedVUs {
			return &ValidationError{Field: "maxVUs", Message: "maxVUs must be >= preAllocatedVUs"}
		}
		if c.GracefulStop < 0 {
			return &ValidationError{Field: "gracefulStop", Message: "gracefulStop must be >= 0"}
		}

	default:
		return &ValidationError{Field: "type", Message: "unknown executor type: " + string(c.Type)}
	}

	return nil
}

// RatePerSecond converts Rate per TimeUnit into iterations per second.
func (c *Config) RatePerSecond() float64 {
	unit := c.TimeUnit
	if unit <= 0 {
		unit = DefaultTimeUnit
	}
	return c.Rate / unit.Seconds()
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error on field '" + e.Field + "': " + e.Message
}

// NewExecutor returns an uninitialized executor of the given type.
func NewExecutor(t Type) (Executor, error) {
	switch t {
	case TypeConstantArrivalRate:
		return NewConstantArrivalRate(), nil
	default:
		return nil, fmt.Errorf("unknown executor type: %s", t)
	}
}

// CreateAndInitExecutor creates and initializes an executor for cfg.
func CreateAndInitExecutor(ctx context.Context, cfg *Config) (Executor, error) {
	exec, err := NewExecutor(cfg.Type)
	if err != nil {
		return nil, err
	}
	if err := exec.Init(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize executor: %w", err)
	}
	return exec, nil
}
