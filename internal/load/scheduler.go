package load

import (
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/wesleyorama2/prload/internal/load/metrics"
)

// DefaultRequestTimeout is k6's default per-request timeout.
const DefaultRequestTimeout = 60 * time.Second

// HTTPClientConfig configures the client shared by all VUs.
type HTTPClientConfig struct {
	Timeout             time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	DisableKeepAlives   bool
	InsecureSkipVerify  bool
}

// DefaultHTTPClientConfig keeps enough idle connections per host for a
// 50 VU pool.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		Timeout:             DefaultRequestTimeout,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}
}

// NewHTTPClient builds a pooled client from cfg.
func NewHTTPClient(cfg HTTPClientConfig) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableKeepAlives:   cfg.DisableKeepAlives,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

// VUScheduler creates VUs for executors and owns the shared HTTP client.
type VUScheduler struct {
	generator *Generator
	metrics   *metrics.Engine
	client    *http.Client

	vus    map[int]*VirtualUser
	nextID int
	mu     sync.RWMutex
}

// NewVUScheduler returns a scheduler whose VUs run gen.
func NewVUScheduler(gen *Generator, m *metrics.Engine, httpConfig HTTPClientConfig) *VUScheduler {
	return &VUScheduler{
		generator: gen,
		metrics:   m,
		client:    NewHTTPClient(httpConfig),
		vus:       make(map[int]*VirtualUser),
	}
}

// SpawnVU registers and returns a new idle VU. ids are 1, 2, 3, ...
func (s *VUScheduler) SpawnVU() *VirtualUser {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	vu := NewVirtualUser(s.nextID, s.generator, s.client, s.metrics)
	s.vus[vu.ID] = vu
	return vu
}

// GetVU returns the VU with id, or nil.
func (s *VUScheduler) GetVU(id int) *VirtualUser {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vus[id]
}

// Count returns how many VUs have been spawned.
func (s *VUScheduler) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vus)
}

// StopAllVUs asks every VU to stop after its current iteration.
func (s *VUScheduler) StopAllVUs() {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, vu := range s.vus {
		vu.RequestStop()
	}
}

// Shutdown marks every VU stopped and releases idle connections. Call it
// after the executor has returned.
func (s *VUScheduler) Shutdown() {
	s.mu.RLock()
	for _, vu := range s.vus {
		vu.MarkStopped()
	}
	s.mu.RUnlock()

	s.client.CloseIdleConnections()
}
