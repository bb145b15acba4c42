package check

import "testing"

func BenchmarkChecks_Evaluate(b *testing.B) {
	checks := []Check{StatusIn(201, 409), EchoesID(DefaultIDPath)}
	r := &Response{
		PullRequestID: "pr-3-1200",
		StatusCode:    201,
		Body:          []byte(`{"pr":{"pull_request_id":"pr-3-1200","pull_request_name":"Load test PR","author_id":"u1","status":"OPEN"}}`),
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, c := range checks {
			_ = c.Evaluate(r)
		}
	}
}
