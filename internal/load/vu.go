package load

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/wesleyorama2/prload/internal/load/metrics"
)

// VUState is the lifecycle state of a VirtualUser.
type VUState int32

const (
	VUStateIdle VUState = iota
	VUStateRunning
	VUStateStopping
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// VirtualUser is one simulated client slot. It runs at most one iteration at
// a time; its iteration index starts at 0 and grows by one per iteration.
type VirtualUser struct {
	ID int

	Generator  *Generator
	HTTPClient *http.Client
	Metrics    *metrics.Engine

	state     atomic.Int32
	iteration atomic.Int64
	stopCh    chan struct{}
}

// NewVirtualUser creates an idle VU. ids are expected to start at 1.
func NewVirtualUser(id int, gen *Generator, client *http.Client, m *metrics.Engine) *VirtualUser {
	return &VirtualUser{
		ID:         id,
		Generator:  gen,
		HTTPClient: client,
		Metrics:    m,
		stopCh:     make(chan struct{}),
	}
}

// GetState returns the current state.
func (vu *VirtualUser) GetState() VUState {
	return VUState(vu.state.Load())
}

// Iterations returns how many iterations the VU has started.
func (vu *VirtualUser) Iterations() int64 {
	return vu.iteration.Load()
}

// RunIteration runs the next iteration to completion. It refuses to start
// once the VU is stopping, or if another iteration is still running on it.
func (vu *VirtualUser) RunIteration(ctx context.Context) (*RequestResult, error) {
	if !vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateRunning)) {
		return nil, fmt.Errorf("VU %d is %s", vu.ID, vu.GetState())
	}
	defer vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateIdle))

	iter := vu.iteration.Add(1) - 1
	result := vu.Generator.Iterate(ctx, vu.HTTPClient, vu.Metrics, vu.ID, iter)
	vu.Metrics.RecordIteration()

	return result, nil
}

// RequestStop asks the VU not to start further iterations. A running
// iteration is not interrupted.
func (vu *VirtualUser) RequestStop() {
	for {
		cur := vu.state.Load()
		if cur == int32(VUStateStopping) || cur == int32(VUStateStopped) {
			return
		}
		if vu.state.CompareAndSwap(cur, int32(VUStateStopping)) {
			close(vu.stopCh)
			return
		}
	}
}

// Stopping is closed once RequestStop has been called.
func (vu *VirtualUser) Stopping() <-chan struct{} {
	return vu.stopCh
}

// MarkStopped moves the VU to its terminal state.
func (vu *VirtualUser) MarkStopped() {
	vu.RequestStop()
	vu.state.Store(int32(VUStateStopped))
}
