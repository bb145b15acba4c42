package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wesleyorama2/prload/internal/load/executor"
)

func TestDefault_MatchesScript(t *testing.T) {
	cfg := Default()

	if cfg.URL() != "http://localhost:8080/pullRequest/create" {
		t.Errorf("URL() = %q", cfg.URL())
	}

	ec := cfg.ExecutorConfig()
	if ec.Type != executor.TypeConstantArrivalRate {
		t.Errorf("Type = %v", ec.Type)
	}
	if ec.Rate != 20 || ec.TimeUnit != time.Second {
		t.Errorf("rate = %v per %v, want 20 per 1s", ec.Rate, ec.TimeUnit)
	}
	if ec.Duration != time.Minute {
		t.Errorf("Duration = %v, want 1m", ec.Duration)
	}
	if ec.PreAllocatedVUs != 10 || ec.MaxVUs != 50 {
		t.Errorf("VUs = %d/%d, want 10/50", ec.PreAllocatedVUs, ec.MaxVUs)
	}
	if got := cfg.Checks.AcceptStatus; len(got) != 2 || got[0] != 201 || got[1] != 409 {
		t.Errorf("AcceptStatus = %v, want [201 409]", got)
	}
	if cfg.Request.PullRequestName != "load-pr" || cfg.Request.AuthorID != "u1" {
		t.Errorf("request = %+v", cfg.Request)
	}
	if cfg.HTTPClientConfig().Timeout != 60*time.Second {
		t.Errorf("HTTP timeout = %v, want 60s", cfg.HTTPClientConfig().Timeout)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestParse_OverridesDefaults(t *testing.T) {
	data := []byte(`
name: smoke
baseUrl: http://pr-service:8080/
scenario:
  rate: 5
  duration: 10s
  maxVUs: 20
checks:
  acceptStatus: [201]
  echoId: true
thresholds:
  checks: ["rate > 0.99"]
  http_req_duration: ["p95 < 500ms"]
`)

	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Name != "smoke" {
		t.Errorf("Name = %q", cfg.Name)
	}
	if cfg.URL() != "http://pr-service:8080/pullRequest/create" {
		t.Errorf("URL() = %q", cfg.URL())
	}
	if cfg.Scenario.Rate != 5 || time.Duration(cfg.Scenario.Duration) != 10*time.Second {
		t.Errorf("scenario = %+v", cfg.Scenario)
	}
	// Untouched keys keep their defaults.
	if cfg.Scenario.PreAllocatedVUs != 10 || cfg.Scenario.Executor != "constant-arrival-rate" {
		t.Errorf("defaults lost: %+v", cfg.Scenario)
	}
	if len(cfg.Checks.AcceptStatus) != 1 || cfg.Checks.AcceptStatus[0] != 201 {
		t.Errorf("AcceptStatus = %v, want [201]", cfg.Checks.AcceptStatus)
	}
	if !cfg.Checks.EchoID {
		t.Error("EchoID = false")
	}
	if cfg.Thresholds == nil || len(cfg.Thresholds.HTTPReqDuration) != 1 {
		t.Errorf("Thresholds = %+v", cfg.Thresholds)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil) error = %v", err)
	}
	if cfg.Scenario.Rate != 20 {
		t.Errorf("Rate = %v, want default 20", cfg.Scenario.Rate)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown key", "scenario:\n  rat: 5\n"},
		{"bad duration", "scenario:\n  duration: soon\n"},
		{"duration without unit", "scenario:\n  duration: 60\n"},
		{"not yaml", "scenario: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.data)); err == nil {
				t.Error("Parse() error = nil, want error")
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	if err := os.WriteFile(path, []byte("scenario:\n  rate: 7\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Scenario.Rate != 7 {
		t.Errorf("Rate = %v, want 7", cfg.Scenario.Rate)
	}
}

func TestLoad_NotFound(t *testing.T) {
	if _, err := Load("/nonexistent/run.yaml"); err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestClone_IsIndependent(t *testing.T) {
	orig := Default()
	orig.Thresholds = &ThresholdsConfig{Checks: []string{"rate > 0.9"}}

	c := orig.Clone()
	orig.Checks.AcceptStatus[0] = 500
	orig.Thresholds.Checks[0] = "rate > 0.1"
	orig.Scenario.Rate = 1

	if c.Checks.AcceptStatus[0] != 201 {
		t.Errorf("clone AcceptStatus changed: %v", c.Checks.AcceptStatus)
	}
	if c.Thresholds.Checks[0] != "rate > 0.9" {
		t.Errorf("clone thresholds changed: %v", c.Thresholds.Checks)
	}
	if c.Scenario.Rate != 20 {
		t.Errorf("clone rate changed: %v", c.Scenario.Rate)
	}
}

func TestDuration_JSON(t *testing.T) {
	var v struct {
		D Duration `json:"d"`
	}
	if err := json.Unmarshal([]byte(`{"d":"1m30s"}`), &v); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}
	if time.Duration(v.D) != 90*time.Second {
		t.Errorf("D = %v, want 1m30s", v.D)
	}

	out, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}
	if string(out) != `{"d":"1m30s"}` {
		t.Errorf("Marshal = %s", out)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RunConfig)
		field  string
	}{
		{"zero rate", func(c *RunConfig) { c.Scenario.Rate = 0 }, "scenario.rate"},
		{"negative rate", func(c *RunConfig) { c.Scenario.Rate = -1 }, "scenario.rate"},
		{"zero duration", func(c *RunConfig) { c.Scenario.Duration = 0 }, "scenario.duration"},
		{"maxVUs below preAllocated", func(c *RunConfig) { c.Scenario.MaxVUs = 5 }, "scenario.maxVUs"},
		{"unknown executor", func(c *RunConfig) { c.Scenario.Executor = "ramping-vus" }, "scenario.executor"},
		{"no scheme", func(c *RunConfig) { c.BaseURL = "localhost:8080" }, "baseUrl"},
		{"ftp scheme", func(c *RunConfig) { c.BaseURL = "ftp://localhost" }, "baseUrl"},
		{"empty url", func(c *RunConfig) { c.BaseURL = "" }, "baseUrl"},
		{"relative path", func(c *RunConfig) { c.Request.Path = "pullRequest/create" }, "request.path"},
		{"empty accept set", func(c *RunConfig) { c.Checks.AcceptStatus = nil }, "checks.acceptStatus"},
		{"bogus status", func(c *RunConfig) { c.Checks.AcceptStatus = []int{201, 999} }, "checks.acceptStatus[1]"},
		{"negative timeout", func(c *RunConfig) { c.HTTP.Timeout = -1 }, "http.timeout"},
		{"bad threshold", func(c *RunConfig) {
			c.Thresholds = &ThresholdsConfig{HTTPReqDuration: []string{"p95 500ms"}}
		}, "thresholds.http_req_duration[0]"},
		{"wrong stat for metric", func(c *RunConfig) {
			c.Thresholds = &ThresholdsConfig{Checks: []string{"p95 < 1"}}
		}, "thresholds.checks[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			var verrs *ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("Validate() error type = %T", err)
			}
			found := false
			for _, e := range verrs.Errors {
				if e.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("no error on %s in %v", tt.field, err)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Scenario.Rate = 0
	cfg.Scenario.Duration = 0
	cfg.BaseURL = "nope"

	err := cfg.Validate()
	var verrs *ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("Validate() error = %v", err)
	}
	if len(verrs.Errors) < 3 {
		t.Errorf("got %d errors, want >= 3", len(verrs.Errors))
	}
	if !strings.Contains(err.Error(), "validation errors:") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestParseThreshold(t *testing.T) {
	tests := []struct {
		metric    string
		expr      string
		wantStat  string
		wantOp    string
		wantValue float64
		wantErr   bool
	}{
		{"checks", "rate>0.99", "rate", ">", 0.99, false},
		{"http_req_duration", "p95 < 500ms", "p95", "<", 500, false},
		{"http_req_duration", "avg <= 1.5s", "avg", "<=", 1500, false},
		{"http_req_duration", "p99<250", "p99", "<", 250, false},
		{"http_req_failed", "rate < 0.01", "rate", "<", 0.01, false},
		{"http_reqs", "count >= 1000", "count", ">=", 1000, false},
		{"dropped_iterations", "count == 0", "count", "==", 0, false},
		{"checks", "", "", "", 0, true},
		{"checks", "rate", "", "", 0, true},
		{"checks", "rate > lots", "", "", 0, true},
		{"http_reqs", "p95 < 1", "", "", 0, true},
		{"vus", "count > 1", "", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.metric+"/"+tt.expr, func(t *testing.T) {
			th, err := ParseThreshold(tt.metric, tt.expr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseThreshold() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if th.Stat != tt.wantStat || th.Op != tt.wantOp || th.Value != tt.wantValue {
				t.Errorf("ParseThreshold() = %s %s %v, want %s %s %v",
					th.Stat, th.Op, th.Value, tt.wantStat, tt.wantOp, tt.wantValue)
			}
		})
	}
}

func TestThreshold_Compare(t *testing.T) {
	tests := []struct {
		op     string
		value  float64
		actual float64
		want   bool
	}{
		{"<", 10, 5, true},
		{"<", 10, 10, false},
		{"<=", 10, 10, true},
		{">", 0.99, 1.0, true},
		{">", 0.99, 0.5, false},
		{">=", 1, 1, true},
		{"==", 0, 0, true},
		{"!=", 0, 1, true},
	}
	for _, tt := range tests {
		th := &Threshold{Op: tt.op, Value: tt.value}
		if got := th.Compare(tt.actual); got != tt.want {
			t.Errorf("%v %s %v = %v, want %v", tt.actual, tt.op, tt.value, got, tt.want)
		}
	}
}
