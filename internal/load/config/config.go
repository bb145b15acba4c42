// Package config holds the run configuration for prload.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/prload/internal/load"
	"github.com/wesleyorama2/prload/internal/load/executor"
)

const (
	DefaultBaseURL = "http://localhost:8080"
	DefaultPath    = "/pullRequest/create"
)

// RunConfig is the root configuration for one run. Anything not set in a
// file keeps the value from Default.
//
// Example YAML:
//
//	name: pr-create
//	baseUrl: http://localhost:8080
//	scenario:
//	  executor: constant-arrival-rate
//	  rate: 20
//	  timeUnit: 1s
//	  duration: 1m
//	  preAllocatedVUs: 10
//	  maxVUs: 50
//	checks:
//	  acceptStatus: [201, 409]
//	thresholds:
//	  checks: ["rate > 0.99"]
type RunConfig struct {
	Name    string `json:"name" yaml:"name"`
	BaseURL string `json:"baseUrl" yaml:"baseUrl"`

	Scenario   ScenarioConfig    `json:"scenario" yaml:"scenario"`
	Request    RequestConfig     `json:"request" yaml:"request"`
	HTTP       HTTPConfig        `json:"http" yaml:"http"`
	Checks     ChecksConfig      `json:"checks" yaml:"checks"`
	Thresholds *ThresholdsConfig `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
}

// ScenarioConfig is the arrival-rate schedule.
type ScenarioConfig struct {
	Executor        string   `json:"executor" yaml:"executor"`
	Rate            float64  `json:"rate" yaml:"rate"`
	TimeUnit        Duration `json:"timeUnit,omitempty" yaml:"timeUnit,omitempty"`
	Duration        Duration `json:"duration" yaml:"duration"`
	PreAllocatedVUs int      `json:"preAllocatedVUs" yaml:"preAllocatedVUs"`
	MaxVUs          int      `json:"maxVUs" yaml:"maxVUs"`
	GracefulStop    Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`
}

// RequestConfig shapes the create request.
type RequestConfig struct {
	Path string `json:"path" yaml:"path"`

	// Name tags latency samples.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	IDPrefix        string `json:"idPrefix,omitempty" yaml:"idPrefix,omitempty"`
	PullRequestName string `json:"pullRequestName,omitempty" yaml:"pullRequestName,omitempty"`
	AuthorID        string `json:"authorId,omitempty" yaml:"authorId,omitempty"`
}

// HTTPConfig configures the shared client.
type HTTPConfig struct {
	Timeout             Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	MaxIdleConnsPerHost int      `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`
	MaxConnsPerHost     int      `json:"maxConnsPerHost,omitempty" yaml:"maxConnsPerHost,omitempty"`
	InsecureSkipVerify  bool     `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`
}

// ChecksConfig selects the checks run against every response.
type ChecksConfig struct {
	// AcceptStatus is the status set for the status check. It is also the
	// set that does not count towards http_req_failed.
	AcceptStatus []int `json:"acceptStatus" yaml:"acceptStatus"`

	// EchoID adds a check that a 201 body carries the sent id.
	EchoID bool `json:"echoId,omitempty" yaml:"echoId,omitempty"`

	// Schema is a path to a JSON Schema that every body must satisfy.
	Schema string `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// ThresholdsConfig defines pass/fail criteria for the run.
type ThresholdsConfig struct {
	// Checks, e.g. ["rate > 0.99"]
	Checks []string `json:"checks,omitempty" yaml:"checks,omitempty"`

	// HTTPReqDuration, e.g. ["p95 < 500ms", "avg < 200ms"]
	HTTPReqDuration []string `json:"http_req_duration,omitempty" yaml:"http_req_duration,omitempty"`

	// HTTPReqFailed, e.g. ["rate < 0.01"]
	HTTPReqFailed []string `json:"http_req_failed,omitempty" yaml:"http_req_failed,omitempty"`

	// HTTPReqs, e.g. ["count > 1000"]
	HTTPReqs []string `json:"http_reqs,omitempty" yaml:"http_reqs,omitempty"`

	// DroppedIterations, e.g. ["count < 1"]
	DroppedIterations []string `json:"dropped_iterations,omitempty" yaml:"dropped_iterations,omitempty"`
}

// Default returns the configuration of the stock load script: 20 creates
// per second for one minute against localhost:8080, 10 to 50 VUs.
func Default() *RunConfig {
	return &RunConfig{
		Name:    "pr-create",
		BaseURL: DefaultBaseURL,
		Scenario: ScenarioConfig{
			Executor:        string(executor.TypeConstantArrivalRate),
			Rate:            20,
			TimeUnit:        Duration(time.Second),
			Duration:        Duration(time.Minute),
			PreAllocatedVUs: 10,
			MaxVUs:          50,
			GracefulStop:    Duration(executor.DefaultGracefulStop),
		},
		Request: RequestConfig{
			Path:            DefaultPath,
			Name:            load.DefaultRequestName,
			IDPrefix:        load.DefaultIDPrefix,
			PullRequestName: load.DefaultPullRequestName,
			AuthorID:        load.DefaultAuthorID,
		},
		HTTP: HTTPConfig{
			Timeout:             Duration(load.DefaultRequestTimeout),
			MaxIdleConnsPerHost: 100,
		},
		Checks: ChecksConfig{
			AcceptStatus: []int{201, 409},
		},
	}
}

// Load reads a YAML (or JSON) file on top of Default.
func Load(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data on top of Default. Unknown keys are rejected.
func Parse(data []byte) (*RunConfig, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return cfg, nil
}

// URL returns the full create endpoint.
func (c *RunConfig) URL() string {
	return strings.TrimRight(c.BaseURL, "/") + c.Request.Path
}

// ExecutorConfig converts the scenario into an executor config.
func (c *RunConfig) ExecutorConfig() *executor.Config {
	return &executor.Config{
		Name:            c.Name,
		Type:            executor.Type(c.Scenario.Executor),
		Rate:            c.Scenario.Rate,
		TimeUnit:        time.Duration(c.Scenario.TimeUnit),
		Duration:        time.Duration(c.Scenario.Duration),
		PreAllocatedVUs: c.Scenario.PreAllocatedVUs,
		MaxVUs:          c.Scenario.MaxVUs,
		GracefulStop:    time.Duration(c.Scenario.GracefulStop),
	}
}

// HTTPClientConfig converts the http section into a client config.
func (c *RunConfig) HTTPClientConfig() load.HTTPClientConfig {
	hc := load.DefaultHTTPClientConfig()
	hc.Timeout = c.HTTP.Timeout.GetDuration(load.DefaultRequestTimeout)
	if c.HTTP.MaxIdleConnsPerHost > 0 {
		hc.MaxIdleConnsPerHost = c.HTTP.MaxIdleConnsPerHost
	}
	hc.MaxConnsPerHost = c.HTTP.MaxConnsPerHost
	hc.InsecureSkipVerify = c.HTTP.InsecureSkipVerify
	return hc
}

// Clone returns a deep copy, so a running engine is unaffected by later
// changes to the caller's config.
func (c *RunConfig) Clone() *RunConfig {
	out := *c
	out.Checks.AcceptStatus = append([]int(nil), c.Checks.AcceptStatus...)
	if c.Thresholds != nil {
		t := ThresholdsConfig{
			Checks:            append([]string(nil), c.Thresholds.Checks...),
			HTTPReqDuration:   append([]string(nil), c.Thresholds.HTTPReqDuration...),
			HTTPReqFailed:     append([]string(nil), c.Thresholds.HTTPReqFailed...),
			HTTPReqs:          append([]string(nil), c.Thresholds.HTTPReqs...),
			DroppedIterations: append([]string(nil), c.Thresholds.DroppedIterations...),
		}
		out.Thresholds = &t
	}
	return &out
}

// Duration is a time.Duration that is written as a string ("30s", "1m")
// in YAML and JSON.
type Duration time.Duration

// GetDuration returns the duration or a default if zero.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	return d.set(s)
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a string such as \"30s\"", value.Line)
	}
	if err := d.set(value.Value); err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	return nil
}

func (d *Duration) set(s string) error {
	if s == "" || s == "null" {
		*d = 0
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
