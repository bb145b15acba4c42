package metrics

import "time"

// Phase is the stage a run is in when a bucket is emitted.
type Phase string

const (
	PhaseInit         Phase = "init"
	PhaseSteady       Phase = "steady"
	PhaseGracefulStop Phase = "graceful-stop"
	PhaseDone         Phase = "done"
)

// Snapshot is a point-in-time view of everything the engine has recorded.
type Snapshot struct {
	TotalRequests     int64         `json:"http_reqs"`
	SuccessRequests   int64         `json:"http_reqs_ok"`
	FailedRequests    int64         `json:"http_req_failed_count"`
	TotalBytes        int64         `json:"data_received"`
	Iterations        int64         `json:"iterations"`
	DroppedIterations int64         `json:"dropped_iterations"`
	Latency           LatencyStats  `json:"http_req_duration"`
	RPS               float64       `json:"rps"`
	SteadyStateRPS    float64       `json:"steady_rps"`
	ErrorRate         float64       `json:"http_req_failed"`
	Checks            []CheckStats  `json:"checks"`
	ChecksRate        float64       `json:"checks_rate"`
	StatusCodes       map[int]int64 `json:"status_codes"`
	ActiveVUs         int           `json:"vus"`
	MaxActiveVUs      int           `json:"vus_max"`
	CurrentPhase      Phase         `json:"phase"`
	Elapsed           time.Duration `json:"elapsed"`
	StartTime         time.Time     `json:"start_time"`
	Timestamp         time.Time     `json:"timestamp"`
}

// CheckStats holds pass/fail counts for one named check.
type CheckStats struct {
	Name   string `json:"name"`
	Passes int64  `json:"passes"`
	Fails  int64  `json:"fails"`
}

// Total is the number of evaluations of the check.
func (c CheckStats) Total() int64 {
	return c.Passes + c.Fails
}

// Rate is the fraction of passing evaluations, 0 when never evaluated.
func (c CheckStats) Rate() float64 {
	if c.Total() == 0 {
		return 0
	}
	return float64(c.Passes) / float64(c.Total())
}

// LatencyStats summarizes request durations.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"avg"`
	StdDev time.Duration `json:"stddev"`
	P50    time.Duration `json:"med"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}

// LatencyPercentiles is the subset of LatencyStats stored per time bucket.
type LatencyPercentiles struct {
	Min time.Duration
	Max time.Duration
	P50 time.Duration
	P90 time.Duration
	P95 time.Duration
	P99 time.Duration
}

// TimeBucket carries cumulative totals plus deltas for one emit interval.
type TimeBucket struct {
	Timestamp time.Time `json:"timestamp"`

	TotalRequests  int64 `json:"totalRequests"`
	TotalSuccesses int64 `json:"totalSuccesses"`
	TotalFailures  int64 `json:"totalFailures"`
	TotalBytes     int64 `json:"totalBytes"`

	IntervalRequests     int64   `json:"intervalRequests"`
	IntervalRPS          float64 `json:"intervalRPS"`
	IntervalErrorRate    float64 `json:"intervalErrorRate"`
	IntervalCheckFails   int64   `json:"intervalCheckFails"`
	IntervalDroppedIters int64   `json:"intervalDroppedIterations"`

	LatencyMin time.Duration `json:"latencyMin"`
	LatencyMax time.Duration `json:"latencyMax"`
	LatencyP50 time.Duration `json:"latencyP50"`
	LatencyP90 time.Duration `json:"latencyP90"`
	LatencyP95 time.Duration `json:"latencyP95"`
	LatencyP99 time.Duration `json:"latencyP99"`

	ActiveVUs int   `json:"activeVUs"`
	Phase     Phase `json:"phase"`
}

// PhaseChange records a transition and the request count at that moment.
type PhaseChange struct {
	Phase     Phase     `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
	Requests  int64     `json:"requests"`
}

// EngineConfig tunes bucket emission and histogram bounds.
// Histogram bounds are in microseconds.
type EngineConfig struct {
	BucketInterval   time.Duration
	MaxBuckets       int
	HistogramMin     int64
	HistogramMax     int64
	HistogramSigFigs int
}

// DefaultEngineConfig keeps an hour of 1s buckets and records 1µs..1h.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BucketInterval:   time.Second,
		MaxBuckets:       3600,
		HistogramMin:     1,
		HistogramMax:     int64(time.Hour / time.Microsecond),
		HistogramSigFigs: 3,
	}
}
