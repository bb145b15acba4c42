package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/wesleyorama2/prload/internal/load/config"
	"github.com/wesleyorama2/prload/internal/load/engine"
	"github.com/wesleyorama2/prload/internal/load/metrics/prom"
	"github.com/wesleyorama2/prload/internal/load/output"
	"github.com/wesleyorama2/prload/internal/load/report"
)

type runOptions struct {
	configPath      string
	baseURL         string
	rate            float64
	duration        time.Duration
	preAllocatedVUs int
	maxVUs          int
	summaryExport   string
	metricsAddr     string
	quiet           bool
}

func newRunCmd(g *globalOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pull request creation load test",
		Long: `run starts iterations at a constant arrival rate. Each iteration sends one
POST {baseUrl}/pullRequest/create with a unique pull_request_id and checks the
status is 201 or 409. Without flags it runs 20 iterations/s for 1m against
http://localhost:8080 with 10 pre-allocated and at most 50 VUs.

Flags override the values from --config. The exit code is 1 when a threshold
fails or the run errors.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd, g, opts)
		},
	}

	opts.bindFlags(cmd.Flags())
	return cmd
}

func (o *runOptions) bindFlags(f *pflag.FlagSet) {
	f.StringVarP(&o.configPath, "config", "c", "", "YAML run configuration")
	f.StringVar(&o.baseURL, "base-url", config.DefaultBaseURL, "Base URL of the service under test")
	f.Float64Var(&o.rate, "rate", 20, "Iterations started per second")
	f.DurationVar(&o.duration, "duration", time.Minute, "How long to keep starting iterations")
	f.IntVar(&o.preAllocatedVUs, "pre-allocated-vus", 10, "VUs created before the run starts")
	f.IntVar(&o.maxVUs, "max-vus", 50, "Upper bound on VUs; iterations are dropped beyond it")
	f.StringVar(&o.summaryExport, "summary-export", "", "Write the JSON summary to this file")
	f.StringVar(&o.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	f.BoolVarP(&o.quiet, "quiet", "q", false, "Print only PASSED or FAILED")
}

// buildConfig loads --config (or the defaults) and applies the flags the
// user set explicitly.
func buildConfig(flags *pflag.FlagSet, opts *runOptions) (*config.RunConfig, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return nil, err
		}
	}

	if flags.Changed("base-url") {
		cfg.BaseURL = opts.baseURL
	}
	if flags.Changed("rate") {
		cfg.Scenario.Rate = opts.rate
		// --rate is per second regardless of the file's timeUnit.
		cfg.Scenario.TimeUnit = config.Duration(time.Second)
	}
	if flags.Changed("duration") {
		cfg.Scenario.Duration = config.Duration(opts.duration)
	}
	if flags.Changed("pre-allocated-vus") {
		cfg.Scenario.PreAllocatedVUs = opts.preAllocatedVUs
	}
	if flags.Changed("max-vus") {
		cfg.Scenario.MaxVUs = opts.maxVUs
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runLoad(cmd *cobra.Command, g *globalOptions, opts *runOptions) error {
	log, err := g.logger()
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg, err := buildConfig(cmd.Flags(), opts)
	if err != nil {
		return err
	}

	eng, err := engine.NewEngine(cfg, log)
	if err != nil {
		return err
	}

	console := output.NewConsole(output.Config{
		Name:    cfg.Name,
		URL:     cfg.URL(),
		Writer:  cmd.OutOrStdout(),
		Quiet:   opts.quiet,
		NoColor: g.noColor,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		// After the first signal the default handler is restored, so a
		// second one kills the process without waiting for gracefulStop.
		<-ctx.Done()
		stop()
	}()

	if opts.metricsAddr != "" {
		metricsCtx, cancelMetrics := context.WithCancel(context.Background())
		defer cancelMetrics()
		startMetrics(metricsCtx, opts.metricsAddr, eng, log)
	}

	console.PrintHeader(*cfg.ExecutorConfig())

	var (
		result *engine.TestResult
		runErr error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		result, runErr = eng.Run(ctx)
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

progress:
	for {
		select {
		case <-done:
			break progress
		case <-ticker.C:
			stats := output.StatsFrom(eng.GetMetrics(), eng.GetExecutorStats(), eng.GetProgress())
			if console.IsTTY() {
				console.Update(stats)
			} else {
				console.PrintNonInteractiveUpdate(stats)
			}
		}
	}

	if result == nil {
		return runErr
	}
	console.PrintSummary(result)

	if opts.summaryExport != "" {
		if err := report.ExportSummary(result, opts.summaryExport); err != nil {
			return err
		}
		log.Infow("summary exported", "path", opts.summaryExport)
	}

	if runErr != nil {
		return fmt.Errorf("run failed: %w", runErr)
	}
	if !result.Passed {
		return errThresholdsFailed
	}
	return nil
}

func startMetrics(ctx context.Context, addr string, eng *engine.Engine, log *zap.SugaredLogger) {
	x := prom.NewExporter(eng.RunID())
	go x.Watch(ctx, time.Second, eng.GetMetrics)
	go func() {
		if err := prom.Serve(ctx, addr, x, log); err != nil {
			log.Errorw("metrics server failed", "addr", addr, "error", err)
		}
	}()
}
