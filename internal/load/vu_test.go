package load

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/wesleyorama2/prload/internal/load/check"
	"github.com/wesleyorama2/prload/internal/load/metrics"
)

func createTestServer(delay time.Duration) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if delay > 0 {
			time.Sleep(delay)
		}
		w.WriteHeader(http.StatusCreated)
	}))
}

func createTestGenerator(serverURL string) *Generator {
	return &Generator{
		URL:         serverURL + "/pullRequest/create",
		RequestName: DefaultRequestName,
		Expected:    []int{201, 409},
		Checks:      []check.Check{check.StatusIn(201, 409)},
	}
}

func TestVUState_String(t *testing.T) {
	tests := []struct {
		state VUState
		want  string
	}{
		{VUStateIdle, "idle"},
		{VUStateRunning, "running"},
		{VUStateStopping, "stopping"},
		{VUStateStopped, "stopped"},
		{VUState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("VUState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestVirtualUser_IterationIndicesStartAtZero(t *testing.T) {
	server := createTestServer(0)
	defer server.Close()

	m := metrics.NewEngine()
	defer m.Stop()

	vu := NewVirtualUser(3, createTestGenerator(server.URL), server.Client(), m)

	for want := int64(0); want < 3; want++ {
		res, err := vu.RunIteration(context.Background())
		if err != nil {
			t.Fatalf("RunIteration() error = %v", err)
		}
		if res.Iteration != want {
			t.Errorf("Iteration = %d, want %d", res.Iteration, want)
		}
		if res.PullRequestID != PullRequestID("pr", 3, want) {
			t.Errorf("PullRequestID = %q", res.PullRequestID)
		}
	}

	if vu.Iterations() != 3 {
		t.Errorf("Iterations() = %d, want 3", vu.Iterations())
	}
	if vu.GetState() != VUStateIdle {
		t.Errorf("state = %v, want idle", vu.GetState())
	}
	if got := m.GetSnapshot().Iterations; got != 3 {
		t.Errorf("metrics iterations = %d, want 3", got)
	}
}

func TestVirtualUser_RefusesConcurrentIteration(t *testing.T) {
	server := createTestServer(100 * time.Millisecond)
	defer server.Close()

	m := metrics.NewEngine()
	defer m.Stop()

	vu := NewVirtualUser(1, createTestGenerator(server.URL), server.Client(), m)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = vu.RunIteration(context.Background())
	}()

	time.Sleep(30 * time.Millisecond)
	if _, err := vu.RunIteration(context.Background()); err == nil {
		t.Error("second concurrent RunIteration() succeeded, want error")
	}
	wg.Wait()
}

func TestVirtualUser_StopLetsIterationFinish(t *testing.T) {
	server := createTestServer(80 * time.Millisecond)
	defer server.Close()

	m := metrics.NewEngine()
	defer m.Stop()

	vu := NewVirtualUser(1, createTestGenerator(server.URL), server.Client(), m)

	done := make(chan *RequestResult, 1)
	go func() {
		res, _ := vu.RunIteration(context.Background())
		done <- res
	}()

	time.Sleep(20 * time.Millisecond)
	vu.RequestStop()

	select {
	case <-vu.Stopping():
	default:
		t.Error("Stopping() not closed after RequestStop")
	}

	res := <-done
	if res == nil || res.StatusCode != http.StatusCreated {
		t.Fatalf("in-flight iteration did not complete: %+v", res)
	}
	if vu.GetState() != VUStateStopping {
		t.Errorf("state = %v, want stopping", vu.GetState())
	}
	if _, err := vu.RunIteration(context.Background()); err == nil {
		t.Error("RunIteration() after stop succeeded, want error")
	}

	vu.RequestStop()
	vu.MarkStopped()
	if vu.GetState() != VUStateStopped {
		t.Errorf("state = %v, want stopped", vu.GetState())
	}
}

func TestVUScheduler_SpawnVU(t *testing.T) {
	m := metrics.NewEngine()
	defer m.Stop()

	s := NewVUScheduler(createTestGenerator("http://localhost"), m, DefaultHTTPClientConfig())

	first := s.SpawnVU()
	second := s.SpawnVU()

	if first.ID != 1 || second.ID != 2 {
		t.Errorf("ids = %d, %d, want 1, 2", first.ID, second.ID)
	}
	if first.HTTPClient != second.HTTPClient {
		t.Error("VUs do not share the HTTP client")
	}
	if s.Count() != 2 {
		t.Errorf("Count() = %d, want 2", s.Count())
	}
	if s.GetVU(2) != second {
		t.Error("GetVU(2) returned a different VU")
	}

	s.StopAllVUs()
	if first.GetState() != VUStateStopping {
		t.Errorf("state after StopAllVUs = %v", first.GetState())
	}

	s.Shutdown()
	if second.GetState() != VUStateStopped {
		t.Errorf("state after Shutdown = %v", second.GetState())
	}
}

func TestNewHTTPClient_DefaultTimeout(t *testing.T) {
	c := NewHTTPClient(HTTPClientConfig{})
	if c.Timeout != DefaultRequestTimeout {
		t.Errorf("Timeout = %v, want %v", c.Timeout, DefaultRequestTimeout)
	}
}
