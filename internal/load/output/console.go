// Package output renders live progress and the end-of-run summary.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/wesleyorama2/prload/internal/load/engine"
	"github.com/wesleyorama2/prload/internal/load/executor"
	"github.com/wesleyorama2/prload/internal/load/metrics"
)

const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"

	rule           = "━"
	boxVertical    = "│"
	boxTopLeft     = "┌"
	boxTopRight    = "┐"
	boxBottomLeft  = "└"
	boxBottomRight = "┘"

	progressFilled = "█"
	progressEmpty  = "░"

	boxWidth = 55
)

// LiveStats is one progress frame.
type LiveStats struct {
	Progress  float64
	Elapsed   time.Duration
	Remaining time.Duration

	ActiveVUs    int
	AllocatedVUs int
	MaxVUs       int

	CurrentRPS        float64
	TargetRPS         float64
	TotalRequests     int64
	Failed            int64
	FailedRate        float64
	ChecksRate        float64
	DroppedIterations int64

	LatencyP95 time.Duration
	LatencyAvg time.Duration

	Phase metrics.Phase
}

type palette struct {
	bold    *color.Color
	dim     *color.Color
	cyan    *color.Color
	green   *color.Color
	yellow  *color.Color
	red     *color.Color
	blue    *color.Color
	magenta *color.Color
}

func newPalette(enabled bool) palette {
	p := palette{
		bold:    color.New(color.Bold),
		dim:     color.New(color.Faint),
		cyan:    color.New(color.FgCyan),
		green:   color.New(color.FgGreen),
		yellow:  color.New(color.FgYellow),
		red:     color.New(color.FgRed),
		blue:    color.New(color.FgBlue),
		magenta: color.New(color.FgMagenta),
	}
	for _, c := range []*color.Color{p.bold, p.dim, p.cyan, p.green, p.yellow, p.red, p.blue, p.magenta} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// Config configures a Console.
type Config struct {
	Name     string
	URL      string
	Writer   io.Writer
	Quiet    bool
	NoColor  bool
	ForceTTY bool
}

// Console writes progress and the summary to a writer, usually stdout.
type Console struct {
	name   string
	url    string
	writer io.Writer
	isTTY  bool
	quiet  bool
	c      palette

	mu          sync.Mutex
	linesOutput int
}

// NewConsole creates a console. Colors are used only on a terminal and never
// when NoColor is set.
func NewConsole(cfg Config) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}
	isTTY := cfg.ForceTTY || isTerminal(cfg.Writer)

	return &Console{
		name:   cfg.Name,
		url:    cfg.URL,
		writer: cfg.Writer,
		isTTY:  isTTY,
		quiet:  cfg.Quiet,
		c:      newPalette(isTTY && !cfg.NoColor && !color.NoColor),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// IsTTY reports whether live updates redraw in place.
func (o *Console) IsTTY() bool {
	return o.isTTY
}

// PrintHeader prints the run banner.
func (o *Console) PrintHeader(sc executor.Config) {
	if o.quiet {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	line := strings.Repeat(rule, 56)
	o.writeln(o.c.cyan.Sprint(line))
	o.writeln(fmt.Sprintf("%s - Running [%s]", o.c.bold.Sprint(o.name), sc.Type))
	o.writeln(o.c.cyan.Sprint(line))
	o.writeln(fmt.Sprintf("  target:   %s", o.url))
	o.writeln(fmt.Sprintf("  scenario: %s iterations/%s for %s (preAllocatedVUs: %d, maxVUs: %d, gracefulStop: %s)",
		formatRate(sc.Rate), sc.TimeUnit, sc.Duration, sc.PreAllocatedVUs, sc.MaxVUs, sc.GracefulStop))
	o.writeln("")
}

// Update redraws the live block. It does nothing when the writer is not a
// terminal; use PrintNonInteractiveUpdate there.
func (o *Console) Update(stats *LiveStats) {
	if o.quiet || !o.isTTY {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.clearLive()
	lines := o.renderLive(stats)
	o.linesOutput = len(lines)
	for _, line := range lines {
		o.writeln(line)
	}
}

// PrintNonInteractiveUpdate prints a single status line for logs and CI.
func (o *Console) PrintNonInteractiveUpdate(stats *LiveStats) {
	if o.quiet {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.writeln(fmt.Sprintf("[%s] %s %.0f%% | VUs: %d/%d | Reqs: %d | RPS: %.1f | Failed: %d (%.1f%%) | Dropped: %d | P95: %s",
		formatDuration(stats.Elapsed),
		stats.Phase,
		stats.Progress*100,
		stats.ActiveVUs,
		stats.AllocatedVUs,
		stats.TotalRequests,
		stats.CurrentRPS,
		stats.Failed,
		stats.FailedRate*100,
		stats.DroppedIterations,
		formatDurationShort(stats.LatencyP95)))
}

func (o *Console) clearLive() {
	if o.linesOutput == 0 {
		return
	}
	o.write(fmt.Sprintf(cursorUp, o.linesOutput))
	for i := 0; i < o.linesOutput; i++ {
		o.write(clearLine + "\n")
	}
	o.write(fmt.Sprintf(cursorUp, o.linesOutput))
	o.linesOutput = 0
}

func (o *Console) renderLive(s *LiveStats) []string {
	var lines []string

	timeInfo := fmt.Sprintf("%s / %s", formatDuration(s.Elapsed), formatDuration(s.Elapsed+s.Remaining))
	lines = append(lines, fmt.Sprintf("Progress: %s %s | %s",
		o.c.green.Sprint(progressBar(s.Progress, 40)),
		o.c.bold.Sprintf("%.0f%%", s.Progress*100),
		o.c.dim.Sprint(timeInfo)))
	lines = append(lines, fmt.Sprintf("Phase:    %s", o.c.magenta.Sprint(s.Phase)))
	lines = append(lines, "")

	lines = append(lines, o.c.dim.Sprint(boxTopLeft+strings.Repeat(rule, boxWidth-2)+boxTopRight))

	lines = append(lines, o.boxRow(
		fmt.Sprintf("VUs:     %s / %d", o.c.cyan.Sprint(s.ActiveVUs), s.AllocatedVUs),
		fmt.Sprintf("Requests:    %s", o.c.cyan.Sprint(formatNumber(s.TotalRequests)))))

	failColor := o.c.green
	if s.FailedRate > 0.01 {
		failColor = o.c.yellow
	}
	if s.FailedRate > 0.05 {
		failColor = o.c.red
	}
	lines = append(lines, o.boxRow(
		fmt.Sprintf("RPS:     %s / %s", o.c.green.Sprintf("%.1f", s.CurrentRPS), formatRate(s.TargetRPS)),
		fmt.Sprintf("Failed:      %s", failColor.Sprintf("%d (%.1f%%)", s.Failed, s.FailedRate*100))))

	dropColor := o.c.green
	if s.DroppedIterations > 0 {
		dropColor = o.c.yellow
	}
	lines = append(lines, o.boxRow(
		fmt.Sprintf("Checks:  %s", o.c.cyan.Sprintf("%.1f%%", s.ChecksRate*100)),
		fmt.Sprintf("Dropped:     %s", dropColor.Sprint(formatNumber(s.DroppedIterations)))))

	lines = append(lines, o.boxRow(
		fmt.Sprintf("P95:     %s", o.c.blue.Sprint(formatDurationShort(s.LatencyP95))),
		fmt.Sprintf("Avg:         %s", o.c.blue.Sprint(formatDurationShort(s.LatencyAvg)))))

	lines = append(lines, o.c.dim.Sprint(boxBottomLeft+strings.Repeat(rule, boxWidth-2)+boxBottomRight))
	return lines
}

func (o *Console) boxRow(left, right string) string {
	col := (boxWidth - 4) / 2
	pad := func(s string) string {
		n := col - len([]rune(stripANSI(s)))
		if n < 0 {
			n = 0
		}
		return s + strings.Repeat(" ", n)
	}
	bar := o.c.dim.Sprint(boxVertical)
	return fmt.Sprintf("%s %s%s %s%s", bar, pad(left), bar, pad(right), bar)
}

func progressBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

// PrintSummary prints the end-of-run report. In quiet mode only the verdict
// is printed.
func (o *Console) PrintSummary(result *engine.TestResult) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.quiet {
		if result.Passed {
			o.writeln(o.c.green.Sprint("PASSED"))
		} else {
			o.writeln(o.c.red.Sprint("FAILED"))
		}
		return
	}

	if o.isTTY {
		o.clearLive()
	}

	status := o.c.green.Sprint("Completed ✓")
	switch {
	case !result.Passed:
		status = o.c.red.Sprint("Failed ✗")
	case result.Interrupted:
		status = o.c.yellow.Sprint("Interrupted")
	}

	line := strings.Repeat(rule, 56)
	o.writeln("")
	o.writeln(o.c.cyan.Sprint(line))
	o.writeln(fmt.Sprintf("%s - %s", o.c.bold.Sprint(result.Name), status))
	o.writeln(o.c.cyan.Sprint(line))
	o.writeln(o.c.dim.Sprintf("run %s", result.RunID))
	o.writeln("")

	o.printChecks(result.Checks)

	if s := result.Metrics; s != nil {
		o.metricLine("http_reqs", fmt.Sprintf("%s  %.2f/s", formatNumber(s.TotalRequests), s.RPS))
		o.metricLine("http_req_failed", fmt.Sprintf("%.2f%%  %d out of %d",
			s.ErrorRate*100, s.FailedRequests, s.TotalRequests))
		l := s.Latency
		o.metricLine("http_req_duration", fmt.Sprintf("avg=%s min=%s med=%s p(90)=%s p(95)=%s p(99)=%s max=%s",
			formatDurationShort(l.Mean), formatDurationShort(l.Min), formatDurationShort(l.P50),
			formatDurationShort(l.P90), formatDurationShort(l.P95), formatDurationShort(l.P99),
			formatDurationShort(l.Max)))
		o.metricLine("iterations", formatNumber(s.Iterations))

		dropped := formatNumber(s.DroppedIterations)
		if s.DroppedIterations > 0 {
			dropped = o.c.yellow.Sprint(dropped)
		}
		o.metricLine("dropped_iterations", dropped)
		if result.Executor != nil {
			o.metricLine("vus_max", fmt.Sprintf("%d  min=%d max=%d",
				result.Executor.AllocatedVUs, result.Scenario.PreAllocatedVUs, result.Scenario.MaxVUs))
		}
		o.metricLine("duration", formatDuration(result.Duration))
		o.writeln("")

		o.printStatusCodes(s.StatusCodes)
	}

	if len(result.Thresholds) > 0 {
		o.writeln(o.c.bold.Sprint("Thresholds:"))
		for _, t := range result.Thresholds {
			mark := o.c.green.Sprint("✓")
			if !t.Passed {
				mark = o.c.red.Sprint("✗")
			}
			o.writeln(fmt.Sprintf("  %s %s %s (actual: %s)", mark, t.Metric, t.Expression, t.Value))
		}
		o.writeln("")
	}

	if result.Error != nil {
		o.writeln(o.c.red.Sprintf("error: %v", result.Error))
	}
}

func (o *Console) printChecks(checks []metrics.CheckStats) {
	if len(checks) == 0 {
		return
	}

	var passes, total int64
	for _, c := range checks {
		passes += c.Passes
		total += c.Total()
		if c.Fails == 0 {
			o.writeln(fmt.Sprintf("  %s %s", o.c.green.Sprint("✓"), c.Name))
			continue
		}
		o.writeln(fmt.Sprintf("  %s %s", o.c.red.Sprint("✗"), c.Name))
		o.writeln(o.c.dim.Sprintf("   ↳  %.0f%% : ✓ %d / ✗ %d", c.Rate()*100, c.Passes, c.Fails))
	}
	o.writeln("")

	rate := 0.0
	if total > 0 {
		rate = float64(passes) / float64(total)
	}
	rateColor := o.c.green
	if rate < 1 {
		rateColor = o.c.red
	}
	o.metricLine("checks", fmt.Sprintf("%s  %s %d  %s %d",
		rateColor.Sprintf("%.2f%%", rate*100),
		o.c.green.Sprint("✓"), passes,
		o.c.red.Sprint("✗"), total-passes))
}

func (o *Console) printStatusCodes(codes map[int]int64) {
	if len(codes) == 0 {
		return
	}

	keys := make([]int, 0, len(codes))
	for code := range codes {
		keys = append(keys, code)
	}
	sort.Ints(keys)

	o.writeln(o.c.bold.Sprint("Status Codes:"))
	for _, code := range keys {
		label := fmt.Sprintf("%d", code)
		if code == 0 {
			label = "error"
		}
		o.writeln(fmt.Sprintf("  %-6s %s", label, formatNumber(codes[code])))
	}
	o.writeln("")
}

func (o *Console) metricLine(name, value string) {
	dots := 22 - len(name)
	if dots < 1 {
		dots = 1
	}
	o.writeln(fmt.Sprintf("  %s%s: %s", name, o.c.dim.Sprint(strings.Repeat(".", dots)), value))
}

func (o *Console) write(s string) {
	fmt.Fprint(o.writer, s)
}

func (o *Console) writeln(s string) {
	fmt.Fprintln(o.writer, s)
}

// StatsFrom builds a progress frame from the engine's live view.
func StatsFrom(snap *metrics.Snapshot, exec *executor.Stats, progress float64) *LiveStats {
	s := &LiveStats{Progress: progress, Phase: metrics.PhaseInit}
	if exec != nil {
		s.AllocatedVUs = exec.AllocatedVUs
		s.MaxVUs = exec.MaxVUs
		s.TargetRPS = exec.TargetRate
		if exec.TotalDuration > 0 {
			s.Remaining = exec.TotalDuration - exec.Elapsed
			if s.Remaining < 0 {
				s.Remaining = 0
			}
		}
	}
	if snap == nil {
		return s
	}

	s.Elapsed = snap.Elapsed
	s.ActiveVUs = snap.ActiveVUs
	s.CurrentRPS = snap.RPS
	s.TotalRequests = snap.TotalRequests
	s.Failed = snap.FailedRequests
	s.FailedRate = snap.ErrorRate
	s.ChecksRate = snap.ChecksRate
	s.DroppedIterations = snap.DroppedIterations
	s.LatencyP95 = snap.Latency.P95
	s.LatencyAvg = snap.Latency.Mean
	if snap.CurrentPhase != "" {
		s.Phase = snap.CurrentPhase
	}
	return s
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm %02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %02dm %02ds", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

func formatDurationShort(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return "0ms"
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%.2fms", float64(d)/float64(time.Millisecond))
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}

func formatRate(r float64) string {
	if r == float64(int64(r)) {
		return fmt.Sprintf("%d", int64(r))
	}
	return fmt.Sprintf("%.2f", r)
}

// formatNumber adds thousands separators.
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var b strings.Builder
	head := len(str) % 3
	if head > 0 {
		b.WriteString(str[:head])
	}
	for i := head; i < len(str); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(str[i : i+3])
	}
	return b.String()
}

func stripANSI(s string) string {
	var b strings.Builder
	inEscape := false
	for i := 0; i < len(s); i++ {
		if s[i] == '\033' {
			inEscape = true
			continue
		}
		if inEscape {
			if (s[i] >= 'a' && s[i] <= 'z') || (s[i] >= 'A' && s[i] <= 'Z') {
				inEscape = false
			}
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
