// Package cli wires the prload commands.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/prload/internal/logging"
)

// errThresholdsFailed is returned by run when the summary already explains
// the failure.
var errThresholdsFailed = errors.New("thresholds failed")

type globalOptions struct {
	logLevel  string
	logFormat string
	noColor   bool
}

func (g *globalOptions) logger() (*zap.SugaredLogger, error) {
	return logging.New(logging.Options{
		Level:    g.logLevel,
		Encoding: g.logFormat,
		NoColor:  g.noColor,
	})
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	g := &globalOptions{}

	root := &cobra.Command{
		Use:     "prload",
		Short:   "Constant-arrival-rate load generator for pull request creation",
		Version: version,
		Long: `prload starts POST {baseUrl}/pullRequest/create at a fixed rate, checks that
every response is 201 or 409, and prints a k6-style summary.

  prload run                          # 20 creates/s for 1m against localhost:8080
  prload run --rate 100 --duration 5m --max-vus 200
  prload run --config load.yaml --summary-export summary.json
  prload serve --addr :8080           # in-memory service to point run at`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	pf.StringVar(&g.logFormat, "log-format", logging.EncodingConsole, "Log format: console or json")
	pf.BoolVar(&g.noColor, "no-color", false, "Disable colored output")

	root.AddCommand(newRunCmd(g))
	root.AddCommand(newServeCmd(g))
	root.AddCommand(newVersionCmd())
	return root
}

// Execute runs the root command with os.Args.
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil && !errors.Is(err, errThresholdsFailed) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}
