package engine

import (
	"fmt"
	"time"

	"github.com/wesleyorama2/prload/internal/load/config"
	"github.com/wesleyorama2/prload/internal/load/metrics"
)

func (e *Engine) evaluateThresholds(snapshot *metrics.Snapshot) []ThresholdResult {
	return EvaluateThresholds(e.config.Thresholds, snapshot)
}

// EvaluateThresholds checks every configured threshold against snapshot.
func EvaluateThresholds(t *config.ThresholdsConfig, snapshot *metrics.Snapshot) []ThresholdResult {
	var results []ThresholdResult
	for _, entry := range t.Entries() {
		results = append(results, evaluateThreshold(entry, snapshot))
	}
	return results
}

func evaluateThreshold(entry config.ThresholdEntry, snapshot *metrics.Snapshot) ThresholdResult {
	result := ThresholdResult{
		Metric:     entry.Metric,
		Expression: entry.Expr,
	}

	th, err := config.ParseThreshold(entry.Metric, entry.Expr)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse expression: %v", err)
		return result
	}

	actual, display, ok := metricValue(th, snapshot)
	if !ok {
		result.Message = fmt.Sprintf("unsupported stat %s for %s", th.Stat, th.Metric)
		return result
	}

	result.Value = display
	result.Passed = th.Compare(actual)
	if !result.Passed {
		result.Message = fmt.Sprintf("%s %s is %s, threshold: %s %s", th.Metric, th.Stat, display, th.Op, formatThresholdValue(th))
	}
	return result
}

// metricValue returns the value a threshold is compared against. Durations
// are in milliseconds.
func metricValue(th *config.Threshold, s *metrics.Snapshot) (float64, string, bool) {
	switch th.Metric {
	case config.MetricChecks:
		if th.Stat == "rate" {
			return s.ChecksRate, fmt.Sprintf("%.4f", s.ChecksRate), true
		}

	case config.MetricHTTPReqDuration:
		var d time.Duration
		switch th.Stat {
		case "min":
			d = s.Latency.Min
		case "max":
			d = s.Latency.Max
		case "avg":
			d = s.Latency.Mean
		case "med", "p50":
			d = s.Latency.P50
		case "p90":
			d = s.Latency.P90
		case "p95":
			d = s.Latency.P95
		case "p99":
			d = s.Latency.P99
		default:
			return 0, "", false
		}
		return float64(d) / float64(time.Millisecond), d.String(), true

	case config.MetricHTTPReqFailed:
		switch th.Stat {
		case "rate":
			return s.ErrorRate, fmt.Sprintf("%.4f", s.ErrorRate), true
		case "count":
			return float64(s.FailedRequests), fmt.Sprintf("%d", s.FailedRequests), true
		}

	case config.MetricHTTPReqs:
		switch th.Stat {
		case "count":
			return float64(s.TotalRequests), fmt.Sprintf("%d", s.TotalRequests), true
		case "rate":
			return s.RPS, fmt.Sprintf("%.2f/s", s.RPS), true
		}

	case config.MetricDroppedIterations:
		if th.Stat == "count" {
			return float64(s.DroppedIterations), fmt.Sprintf("%d", s.DroppedIterations), true
		}
	}
	return 0, "", false
}

func formatThresholdValue(th *config.Threshold) string {
	if th.Metric == config.MetricHTTPReqDuration {
		return time.Duration(th.Value * float64(time.Millisecond)).String()
	}
	return fmt.Sprintf("%g", th.Value)
}
