package output

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/wesleyorama2/prload/internal/load/config"
	"github.com/wesleyorama2/prload/internal/load/engine"
	"github.com/wesleyorama2/prload/internal/load/executor"
	"github.com/wesleyorama2/prload/internal/load/metrics"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{500 * time.Millisecond, "500ms"},
		{time.Second, "1.0s"},
		{time.Minute + 30*time.Second, "1m 30s"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1h 02m 03s"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := formatDuration(tt.duration); got != tt.expected {
				t.Errorf("formatDuration(%v) = %q, want %q", tt.duration, got, tt.expected)
			}
		})
	}
}

func TestFormatDurationShort(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{0, "0ms"},
		{500 * time.Microsecond, "500µs"},
		{50 * time.Millisecond, "50.00ms"},
		{1500 * time.Millisecond, "1.50s"},
		{2 * time.Minute, "2.0m"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := formatDurationShort(tt.duration); got != tt.expected {
				t.Errorf("formatDurationShort(%v) = %q, want %q", tt.duration, got, tt.expected)
			}
		})
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		number   int64
		expected string
	}{
		{0, "0"},
		{100, "100"},
		{1000, "1,000"},
		{12345, "12,345"},
		{1234567, "1,234,567"},
		{-1200, "-1,200"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := formatNumber(tt.number); got != tt.expected {
				t.Errorf("formatNumber(%d) = %q, want %q", tt.number, got, tt.expected)
			}
		})
	}
}

func TestStripANSI(t *testing.T) {
	if got := stripANSI("\033[32mok\033[0m done"); got != "ok done" {
		t.Errorf("stripANSI() = %q", got)
	}
}

func TestProgressBar(t *testing.T) {
	if got := progressBar(0.5, 4); got != "[██░░]" {
		t.Errorf("progressBar(0.5) = %q", got)
	}
	if got := progressBar(2, 2); got != "[██]" {
		t.Errorf("progressBar(2) = %q", got)
	}
	if got := progressBar(-1, 2); got != "[░░]" {
		t.Errorf("progressBar(-1) = %q", got)
	}
}

func sampleResult() *engine.TestResult {
	snap := &metrics.Snapshot{
		TotalRequests:     1200,
		FailedRequests:    6,
		Iterations:        1200,
		DroppedIterations: 3,
		ErrorRate:         0.005,
		RPS:               20,
		StatusCodes:       map[int]int64{201: 1000, 409: 194, 500: 5, 0: 1},
		Latency: metrics.LatencyStats{
			Min:  2 * time.Millisecond,
			Mean: 12 * time.Millisecond,
			P50:  10 * time.Millisecond,
			P95:  40 * time.Millisecond,
			Max:  300 * time.Millisecond,
		},
	}
	checks := []metrics.CheckStats{
		{Name: "status is 201 or 409", Passes: 1188, Fails: 12},
		{Name: "echoes pull_request_id", Passes: 1200},
	}
	snap.Checks = checks

	return &engine.TestResult{
		RunID:    "run-1",
		Name:     "pr-create",
		Duration: time.Minute,
		Scenario: config.ScenarioConfig{PreAllocatedVUs: 10, MaxVUs: 50},
		Executor: &executor.Stats{AllocatedVUs: 12},
		Metrics:  snap,
		Checks:   checks,
		Passed:   true,
		Thresholds: []engine.ThresholdResult{
			{Metric: "http_req_duration", Expression: "p95 < 500ms", Passed: true, Value: "40.00ms"},
		},
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(Config{Name: "pr-create", Writer: &buf})
	c.PrintSummary(sampleResult())

	out := buf.String()
	for _, want := range []string{
		"pr-create - Completed ✓",
		"✗ status is 201 or 409",
		"↳  99% : ✓ 1188 / ✗ 12",
		"✓ echoes pull_request_id",
		"checks",
		"99.50%",
		"http_reqs",
		"1,200  20.00/s",
		"0.50%  6 out of 1200",
		"p(95)=40.00ms",
		"dropped_iterations",
		"vus_max",
		"12  min=10 max=50",
		"409    194",
		"error  1",
		"✓ http_req_duration p95 < 500ms (actual: 40.00ms)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q\n%s", want, out)
		}
	}
	if strings.Contains(out, "\033[") {
		t.Error("summary to a buffer should not contain escape codes")
	}
	if strings.Index(out, "  201    1,000") > strings.Index(out, "409    194") {
		t.Error("status codes should be sorted")
	}
}

func TestPrintSummary_FailedAndQuiet(t *testing.T) {
	result := sampleResult()
	result.Passed = false
	result.Error = errors.New("boom")
	result.Thresholds[0].Passed = false

	var buf bytes.Buffer
	NewConsole(Config{Name: "pr-create", Writer: &buf}).PrintSummary(result)
	out := buf.String()
	if !strings.Contains(out, "Failed ✗") || !strings.Contains(out, "error: boom") {
		t.Errorf("unexpected summary:\n%s", out)
	}
	if !strings.Contains(out, "✗ http_req_duration") {
		t.Errorf("failed threshold not marked:\n%s", out)
	}

	buf.Reset()
	NewConsole(Config{Writer: &buf, Quiet: true}).PrintSummary(result)
	if got := strings.TrimSpace(buf.String()); got != "FAILED" {
		t.Errorf("quiet summary = %q, want FAILED", got)
	}
}

func TestUpdate(t *testing.T) {
	stats := &LiveStats{
		Progress:      0.5,
		Elapsed:       30 * time.Second,
		Remaining:     30 * time.Second,
		ActiveVUs:     3,
		AllocatedVUs:  10,
		TotalRequests: 600,
		CurrentRPS:    20,
		TargetRPS:     20,
		Phase:         metrics.PhaseSteady,
	}

	var buf bytes.Buffer
	c := NewConsole(Config{Writer: &buf})
	if c.IsTTY() {
		t.Fatal("a buffer is not a terminal")
	}
	c.Update(stats)
	if buf.Len() != 0 {
		t.Errorf("Update wrote to a non-terminal: %q", buf.String())
	}

	c.PrintNonInteractiveUpdate(stats)
	line := buf.String()
	if !strings.Contains(line, "[30.0s] steady 50%") || !strings.Contains(line, "VUs: 3/10") {
		t.Errorf("unexpected status line %q", line)
	}

	buf.Reset()
	tty := NewConsole(Config{Writer: &buf, ForceTTY: true, NoColor: true})
	tty.Update(stats)
	tty.Update(stats)
	out := buf.String()
	if !strings.Contains(out, "Requests:    600") {
		t.Errorf("live block missing requests:\n%s", out)
	}
	if !strings.Contains(out, clearLine) {
		t.Error("second update should clear the previous block")
	}

	buf.Reset()
	NewConsole(Config{Writer: &buf, Quiet: true}).PrintNonInteractiveUpdate(stats)
	if buf.Len() != 0 {
		t.Error("quiet console printed a status line")
	}
}

func TestStatsFrom(t *testing.T) {
	s := StatsFrom(nil, nil, 0)
	if s.Phase != metrics.PhaseInit {
		t.Errorf("phase = %s, want init", s.Phase)
	}

	snap := &metrics.Snapshot{
		TotalRequests: 100,
		ActiveVUs:     4,
		CurrentPhase:  metrics.PhaseSteady,
		Elapsed:       5 * time.Second,
	}
	exec := &executor.Stats{
		AllocatedVUs:  10,
		MaxVUs:        50,
		TargetRate:    20,
		Elapsed:       5 * time.Second,
		TotalDuration: time.Minute,
	}
	s = StatsFrom(snap, exec, 5.0/60)
	if s.TotalRequests != 100 || s.ActiveVUs != 4 || s.AllocatedVUs != 10 {
		t.Errorf("unexpected stats %+v", s)
	}
	if s.Remaining != 55*time.Second {
		t.Errorf("remaining = %v, want 55s", s.Remaining)
	}
	if s.Phase != metrics.PhaseSteady {
		t.Errorf("phase = %s, want steady", s.Phase)
	}
}

func TestPrintHeader(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(Config{Name: "pr-create", URL: "http://localhost:8080/pullRequest/create", Writer: &buf})
	c.PrintHeader(executor.Config{
		Type:            executor.TypeConstantArrivalRate,
		Rate:            20,
		TimeUnit:        time.Second,
		Duration:        time.Minute,
		PreAllocatedVUs: 10,
		MaxVUs:          50,
		GracefulStop:    30 * time.Second,
	})
	out := buf.String()
	if !strings.Contains(out, "20 iterations/1s for 1m0s") {
		t.Errorf("header missing scenario:\n%s", out)
	}
	if !strings.Contains(out, "http://localhost:8080/pullRequest/create") {
		t.Errorf("header missing target:\n%s", out)
	}
}
