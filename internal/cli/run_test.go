package cli

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/prload/internal/load/config"
	"github.com/wesleyorama2/prload/internal/target"
)

func parseRunFlags(t *testing.T, args ...string) (*pflag.FlagSet, *runOptions) {
	t.Helper()
	opts := &runOptions{}
	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	opts.bindFlags(flags)
	require.NoError(t, flags.Parse(args))
	return flags, opts
}

func TestBuildConfig_DefaultsMatchScript(t *testing.T) {
	cfg, err := buildConfig(parseRunFlags(t))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestBuildConfig_FlagOverrides(t *testing.T) {
	cfg, err := buildConfig(parseRunFlags(t,
		"--base-url", "http://pr-service:9000",
		"--rate", "100",
		"--duration", "5m",
		"--pre-allocated-vus", "20",
		"--max-vus", "200",
	))
	require.NoError(t, err)

	assert.Equal(t, "http://pr-service:9000/pullRequest/create", cfg.URL())
	assert.Equal(t, 100.0, cfg.Scenario.Rate)
	assert.Equal(t, config.Duration(5*time.Minute), cfg.Scenario.Duration)
	assert.Equal(t, 20, cfg.Scenario.PreAllocatedVUs)
	assert.Equal(t, 200, cfg.Scenario.MaxVUs)
}

func TestBuildConfig_FileThenFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "load.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: staging
baseUrl: http://staging:8080
scenario:
  rate: 300
  timeUnit: 1m
  duration: 10m
  maxVUs: 80
`), 0644))

	cfg, err := buildConfig(parseRunFlags(t, "--config", path, "--duration", "30s"))
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Name)
	assert.Equal(t, "http://staging:8080", cfg.BaseURL)
	assert.Equal(t, 300.0, cfg.Scenario.Rate)
	assert.Equal(t, config.Duration(time.Minute), cfg.Scenario.TimeUnit)
	assert.Equal(t, config.Duration(30*time.Second), cfg.Scenario.Duration)
	assert.Equal(t, 80, cfg.Scenario.MaxVUs)

	// --rate is always per second.
	cfg, err = buildConfig(parseRunFlags(t, "--config", path, "--rate", "7"))
	require.NoError(t, err)
	assert.Equal(t, config.Duration(time.Second), cfg.Scenario.TimeUnit)
}

func TestBuildConfig_Errors(t *testing.T) {
	_, err := buildConfig(parseRunFlags(t, "--rate", "0"))
	assert.Error(t, err)

	_, err = buildConfig(parseRunFlags(t, "--base-url", "localhost:8080"))
	assert.Error(t, err)

	_, err = buildConfig(parseRunFlags(t, "--config", filepath.Join(t.TempDir(), "missing.yaml")))
	assert.Error(t, err)
}

func execute(args ...string) (string, error) {
	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	if args == nil {
		args = []string{}
	}
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRunCommand_AgainstReferenceService(t *testing.T) {
	svc := target.NewService(target.NewStore(), target.Options{})
	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	summary := filepath.Join(t.TempDir(), "summary.json")
	out, err := execute("run",
		"--base-url", srv.URL,
		"--rate", "40",
		"--duration", "300ms",
		"--pre-allocated-vus", "2",
		"--max-vus", "10",
		"--summary-export", summary,
		"--log-level", "error",
		"--no-color",
	)
	require.NoError(t, err)

	assert.Contains(t, out, "pr-create - Completed ✓")
	assert.Contains(t, out, "✓ status is 201 or 409")

	data, err := os.ReadFile(summary)
	require.NoError(t, err)
	assert.True(t, gjson.GetBytes(data, "passed").Bool())
	assert.Equal(t, svc.Stats().Created, gjson.GetBytes(data, "metrics.http_reqs").Int())
	assert.NotEmpty(t, gjson.GetBytes(data, "runId").String())
}

func TestRunCommand_ThresholdFailureExitsNonZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "load.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
baseUrl: `+srv.URL+`
scenario:
  rate: 20
  duration: 200ms
  preAllocatedVUs: 2
thresholds:
  checks: ["rate > 0.99"]
`), 0644))

	out, err := execute("run", "--config", path, "--quiet", "--log-level", "error")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errThresholdsFailed))
	assert.Equal(t, "FAILED", strings.TrimSpace(out))
}

func TestRunCommand_InvalidConfig(t *testing.T) {
	_, err := execute("run", "--rate", "-1", "--log-level", "error")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, errThresholdsFailed))
}

func TestRunCommand_InvalidLogLevel(t *testing.T) {
	_, err := execute("run", "--log-level", "loud")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute("version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "prload "+version))
}

func TestRootCommand_Help(t *testing.T) {
	out, err := execute()
	require.NoError(t, err)
	assert.Contains(t, out, "run")
	assert.Contains(t, out, "serve")
}
