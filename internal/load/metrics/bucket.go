package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// TimeBucketStore is a fixed-size ring of TimeBuckets. Interval counters are
// updated lock-free by recorders and swapped out when a bucket is emitted.
type TimeBucketStore struct {
	buckets    []*TimeBucket
	head       int
	count      int
	maxBuckets int
	mu         sync.RWMutex

	lastBucketTime time.Time

	curRequests   atomic.Int64
	curFailures   atomic.Int64
	curCheckFails atomic.Int64
	curDropped    atomic.Int64
}

// NewTimeBucketStore returns a store holding at most maxBuckets buckets.
func NewTimeBucketStore(maxBuckets int) *TimeBucketStore {
	if maxBuckets <= 0 {
		maxBuckets = 3600
	}
	return &TimeBucketStore{
		buckets:        make([]*TimeBucket, maxBuckets),
		maxBuckets:     maxBuckets,
		lastBucketTime: time.Now(),
	}
}

// RecordRequest counts a finished request in the open interval.
func (s *TimeBucketStore) RecordRequest(failed bool) {
	s.curRequests.Add(1)
	if failed {
		s.curFailures.Add(1)
	}
}

// RecordCheckFailure counts a failed check evaluation in the open interval.
func (s *TimeBucketStore) RecordCheckFailure() {
	s.curCheckFails.Add(1)
}

// RecordDropped counts a dropped iteration in the open interval.
func (s *TimeBucketStore) RecordDropped() {
	s.curDropped.Add(1)
}

// CreateBucket closes the open interval and appends it to the ring.
func (s *TimeBucketStore) CreateBucket(
	totalRequests, totalSuccesses, totalFailures, totalBytes int64,
	latencies LatencyPercentiles,
	activeVUs int,
	phase Phase,
) *TimeBucket {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	reqs := s.curRequests.Swap(0)
	fails := s.curFailures.Swap(0)

	secs := now.Sub(s.lastBucketTime).Seconds()
	if secs <= 0 {
		secs = 1
	}

	var errRate float64
	if reqs > 0 {
		errRate = float64(fails) / float64(reqs)
	}

	b := &TimeBucket{
		Timestamp:            now,
		TotalRequests:        totalRequests,
		TotalSuccesses:       totalSuccesses,
		TotalFailures:        totalFailures,
		TotalBytes:           totalBytes,
		IntervalRequests:     reqs,
		IntervalRPS:          float64(reqs) / secs,
		IntervalErrorRate:    errRate,
		IntervalCheckFails:   s.curCheckFails.Swap(0),
		IntervalDroppedIters: s.curDropped.Swap(0),
		LatencyMin:           latencies.Min,
		LatencyMax:           latencies.Max,
		LatencyP50:           latencies.P50,
		LatencyP90:           latencies.P90,
		LatencyP95:           latencies.P95,
		LatencyP99:           latencies.P99,
		ActiveVUs:            activeVUs,
		Phase:                phase,
	}

	s.buckets[s.head] = b
	s.head = (s.head + 1) % s.maxBuckets
	if s.count < s.maxBuckets {
		s.count++
	}
	s.lastBucketTime = now

	return b
}

// GetBuckets returns the stored buckets oldest first.
func (s *TimeBucketStore) GetBuckets() []*TimeBucket {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.count == 0 {
		return nil
	}

	out := make([]*TimeBucket, s.count)
	start := 0
	if s.count == s.maxBuckets {
		start = s.head
	}
	for i := 0; i < s.count; i++ {
		out[i] = s.buckets[(start+i)%s.maxBuckets]
	}
	return out
}

// GetLatestBucket returns the newest bucket or nil.
func (s *TimeBucketStore) GetLatestBucket() *TimeBucket {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.count == 0 {
		return nil
	}
	return s.buckets[(s.head-1+s.maxBuckets)%s.maxBuckets]
}

// Count returns the number of stored buckets.
func (s *TimeBucketStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// CalculateSteadyStateRPS averages interval RPS over steady buckets.
// The second return value is the number of buckets averaged.
func (s *TimeBucketStore) CalculateSteadyStateRPS() (float64, int) {
	var (
		sum float64
		n   int
	)
	for _, b := range s.GetBuckets() {
		if b.Phase != PhaseSteady {
			continue
		}
		sum += b.IntervalRPS
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}
