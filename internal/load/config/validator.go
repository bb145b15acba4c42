package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/prload/internal/load/executor"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e.Errors))
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate checks the whole configuration.
//
// Returns nil if valid, or a *ValidationErrors listing every problem.
func (c *RunConfig) Validate() error {
	errs := &ValidationErrors{}

	validateBaseURL(c.BaseURL, errs)
	validateScenario(&c.Scenario, errs)
	validateRequest(&c.Request, errs)
	validateHTTP(&c.HTTP, errs)
	validateChecks(&c.Checks, errs)
	if c.Thresholds != nil {
		validateThresholds(c.Thresholds, errs)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateBaseURL(raw string, errs *ValidationErrors) {
	if raw == "" {
		errs.Add("baseUrl", "base URL is required")
		return
	}
	u, err := url.Parse(raw)
	if err != nil {
		errs.Add("baseUrl", fmt.Sprintf("invalid URL: %v", err))
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		errs.Add("baseUrl", "scheme must be http or https")
	}
	if u.Host == "" {
		errs.Add("baseUrl", "host is required")
	}
}

func validateScenario(sc *ScenarioConfig, errs *ValidationErrors) {
	const prefix = "scenario"

	if sc.Executor != string(executor.TypeConstantArrivalRate) {
		errs.Add(prefix+".executor", fmt.Sprintf("unsupported executor type: %q", sc.Executor))
	}
	if sc.Rate <= 0 {
		errs.Add(prefix+".rate", "rate must be > 0")
	}
	if sc.TimeUnit < 0 {
		errs.Add(prefix+".timeUnit", "cannot be negative")
	}
	if sc.Duration <= 0 {
		errs.Add(prefix+".duration", "duration must be > 0")
	}
	if sc.PreAllocatedVUs < 0 {
		errs.Add(prefix+".preAllocatedVUs", "cannot be negative")
	}
	if sc.MaxVUs < 0 {
		errs.Add(prefix+".maxVUs", "cannot be negative")
	} else if sc.MaxVUs > 0 && sc.MaxVUs < sc.PreAllocatedVUs {
		errs.Add(prefix+".maxVUs", "maxVUs must be >= preAllocatedVUs")
	}
	if sc.GracefulStop < 0 {
		errs.Add(prefix+".gracefulStop", "cannot be negative")
	}
}

func validateRequest(r *RequestConfig, errs *ValidationErrors) {
	if !strings.HasPrefix(r.Path, "/") {
		errs.Add("request.path", "path must start with /")
	}
	if strings.ContainsAny(r.IDPrefix, " \t\n") {
		errs.Add("request.idPrefix", "must not contain whitespace")
	}
}

func validateHTTP(h *HTTPConfig, errs *ValidationErrors) {
	if h.Timeout < 0 {
		errs.Add("http.timeout", "cannot be negative")
	}
	if h.MaxIdleConnsPerHost < 0 {
		errs.Add("http.maxIdleConnsPerHost", "cannot be negative")
	}
	if h.MaxConnsPerHost < 0 {
		errs.Add("http.maxConnsPerHost", "cannot be negative")
	}
}

func validateChecks(c *ChecksConfig, errs *ValidationErrors) {
	if len(c.AcceptStatus) == 0 {
		errs.Add("checks.acceptStatus", "at least one status is required")
	}
	for i, code := range c.AcceptStatus {
		if code < 100 || code > 599 {
			errs.Add(fmt.Sprintf("checks.acceptStatus[%d]", i), fmt.Sprintf("invalid HTTP status: %d", code))
		}
	}
}

// Metric names usable in thresholds.
const (
	MetricChecks            = "checks"
	MetricHTTPReqDuration   = "http_req_duration"
	MetricHTTPReqFailed     = "http_req_failed"
	MetricHTTPReqs          = "http_reqs"
	MetricDroppedIterations = "dropped_iterations"
)

var metricStats = map[string][]string{
	MetricChecks:            {"rate"},
	MetricHTTPReqDuration:   {"p50", "p90", "p95", "p99", "min", "max", "avg", "med"},
	MetricHTTPReqFailed:     {"rate", "count"},
	MetricHTTPReqs:          {"count", "rate"},
	MetricDroppedIterations: {"count"},
}

// Entries returns every threshold keyed by metric, in a fixed metric order.
func (t *ThresholdsConfig) Entries() []ThresholdEntry {
	if t == nil {
		return nil
	}
	var out []ThresholdEntry
	add := func(metric string, exprs []string) {
		for _, e := range exprs {
			out = append(out, ThresholdEntry{Metric: metric, Expr: e})
		}
	}
	add(MetricChecks, t.Checks)
	add(MetricHTTPReqDuration, t.HTTPReqDuration)
	add(MetricHTTPReqFailed, t.HTTPReqFailed)
	add(MetricHTTPReqs, t.HTTPReqs)
	add(MetricDroppedIterations, t.DroppedIterations)
	return out
}

// ThresholdEntry is one configured expression for a metric.
type ThresholdEntry struct {
	Metric string
	Expr   string
}

func validateThresholds(t *ThresholdsConfig, errs *ValidationErrors) {
	counts := map[string]int{}
	for _, entry := range t.Entries() {
		i := counts[entry.Metric]
		counts[entry.Metric]++
		if _, err := ParseThreshold(entry.Metric, entry.Expr); err != nil {
			errs.Add(fmt.Sprintf("thresholds.%s[%d]", entry.Metric, i), err.Error())
		}
	}
}

// Threshold is a parsed "stat op value" expression.
//
// Values for http_req_duration are in milliseconds; "500ms" and "500" are
// the same threshold.
type Threshold struct {
	Metric string
	Expr   string
	Stat   string
	Op     string
	Value  float64
}

var thresholdRe = regexp.MustCompile(`^(\w+)\s*(<=|>=|==|!=|<|>)\s*(.+)$`)

// ParseThreshold parses expr for metric, e.g. ParseThreshold("http_req_duration", "p95 < 500ms").
func ParseThreshold(metric, expr string) (*Threshold, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("threshold expression cannot be empty")
	}

	stats, ok := metricStats[metric]
	if !ok {
		return nil, fmt.Errorf("unknown metric: %s", metric)
	}

	m := thresholdRe.FindStringSubmatch(expr)
	if m == nil {
		return nil, fmt.Errorf("invalid threshold expression %q: want \"<stat> <op> <value>\"", expr)
	}
	stat, op, raw := m[1], m[2], strings.TrimSpace(m[3])

	valid := false
	for _, s := range stats {
		if s == stat {
			valid = true
			break
		}
	}
	if !valid {
		return nil, fmt.Errorf("stat %q not supported for %s (want one of %s)", stat, metric, strings.Join(stats, ", "))
	}

	value, err := parseThresholdValue(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid threshold value %q: %w", raw, err)
	}

	return &Threshold{Metric: metric, Expr: expr, Stat: stat, Op: op, Value: value}, nil
}

func parseThresholdValue(s string) (float64, error) {
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	return float64(d) / float64(time.Millisecond), nil
}

// Compare reports whether actual satisfies the threshold.
func (t *Threshold) Compare(actual float64) bool {
	switch t.Op {
	case "<":
		return actual < t.Value
	case "<=":
		return actual <= t.Value
	case ">":
		return actual > t.Value
	case ">=":
		return actual >= t.Value
	case "==":
		return actual == t.Value
	case "!=":
		return actual != t.Value
	default:
		return false
	}
}
