// Package load issues create-pull-request traffic from a pool of virtual
// users. Executors decide when iterations start; this package decides what
// an iteration does.
package load

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/wesleyorama2/prload/internal/load/check"
	"github.com/wesleyorama2/prload/internal/load/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	DefaultIDPrefix        = "pr"
	DefaultPullRequestName = "load-pr"
	DefaultAuthorID        = "u1"
	DefaultRequestName     = "create_pr"
)

// Descriptor is the JSON body of one create request.
type Descriptor struct {
	PullRequestID   string `json:"pull_request_id"`
	PullRequestName string `json:"pull_request_name"`
	AuthorID        string `json:"author_id"`
}

// PullRequestID formats the id for a (vu, iteration) pair as
// "<prefix>-<vu>-<iter>". Distinct pairs never share an id.
func PullRequestID(prefix string, vu int, iter int64) string {
	if prefix == "" {
		prefix = DefaultIDPrefix
	}
	return fmt.Sprintf("%s-%d-%d", prefix, vu, iter)
}

// NewDescriptor returns the default body for a (vu, iteration) pair.
func NewDescriptor(vu int, iter int64) Descriptor {
	return Descriptor{
		PullRequestID:   PullRequestID(DefaultIDPrefix, vu, iter),
		PullRequestName: DefaultPullRequestName,
		AuthorID:        DefaultAuthorID,
	}
}

// Generator builds and sends one create request per iteration and reports
// the outcome to the metrics engine.
type Generator struct {
	// URL is the full create endpoint, e.g. http://localhost:8080/pullRequest/create.
	URL string

	// RequestName tags latency samples.
	RequestName string

	IDPrefix        string
	PullRequestName string
	AuthorID        string

	// Expected lists statuses that do not count towards http_req_failed.
	Expected []int

	Checks []check.Check

	Logger *zap.SugaredLogger
}

// Descriptor returns the body the generator sends for (vu, iter).
func (g *Generator) Descriptor(vu int, iter int64) Descriptor {
	d := Descriptor{
		PullRequestID:   PullRequestID(g.IDPrefix, vu, iter),
		PullRequestName: g.PullRequestName,
		AuthorID:        g.AuthorID,
	}
	if d.PullRequestName == "" {
		d.PullRequestName = DefaultPullRequestName
	}
	if d.AuthorID == "" {
		d.AuthorID = DefaultAuthorID
	}
	return d
}

func (g *Generator) expected(status int) bool {
	if len(g.Expected) == 0 {
		return status >= 200 && status < 400
	}
	for _, s := range g.Expected {
		if s == status {
			return true
		}
	}
	return false
}

// Iterate runs one iteration: build, send, check, record. It never retries.
// Transport errors are reported in the result and fail every check.
func (g *Generator) Iterate(ctx context.Context, client *http.Client, m *metrics.Engine, vu int, iter int64) *RequestResult {
	desc := g.Descriptor(vu, iter)
	start := time.Now()

	result := &RequestResult{
		VUID:          vu,
		Iteration:     iter,
		RequestName:   g.RequestName,
		PullRequestID: desc.PullRequestID,
		StartTime:     start,
	}

	status, body, err := g.send(ctx, client, desc)
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(start)
	result.StatusCode = status
	result.BytesReceived = int64(len(body))
	result.Error = err

	failed := err != nil || !g.expected(status)
	m.RecordRequest(g.RequestName, result.Duration, status, failed, result.BytesReceived)

	resp := &check.Response{
		PullRequestID: desc.PullRequestID,
		StatusCode:    status,
		Body:          body,
		Err:           err,
	}
	result.Passed = true
	for _, c := range g.Checks {
		ok := c.Evaluate(resp)
		m.RecordCheck(c.Name(), ok)
		if !ok {
			result.Passed = false
		}
	}

	if g.Logger != nil && !result.Passed {
		g.Logger.Debugw("check failed",
			"vu", vu,
			"iter", iter,
			"pull_request_id", desc.PullRequestID,
			"status", status,
			"error", err,
		)
	}

	return result
}

func (g *Generator) send(ctx context.Context, client *http.Client, desc Descriptor) (int, []byte, error) {
	payload, err := json.Marshal(desc)
	if err != nil {
		return 0, nil, fmt.Errorf("encode body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, body, fmt.Errorf("read response body: %w", err)
	}
	return resp.StatusCode, body, nil
}

// RequestResult describes one finished iteration.
type RequestResult struct {
	VUID          int           `json:"vu"`
	Iteration     int64         `json:"iter"`
	RequestName   string        `json:"name"`
	PullRequestID string        `json:"pull_request_id"`
	StartTime     time.Time     `json:"start"`
	EndTime       time.Time     `json:"end"`
	Duration      time.Duration `json:"duration"`
	StatusCode    int           `json:"status"`
	BytesReceived int64         `json:"bytes"`
	Passed        bool          `json:"passed"`
	Error         error         `json:"-"`
}
