package cli

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/prload/internal/target"
)

func newServeCmd(g *globalOptions) *cobra.Command {
	var (
		addr    string
		latency time.Duration
		status  int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve an in-memory pull request service to load test against",
		Long: `serve implements POST /pullRequest/create in memory: 201 for a new id,
409 PR_EXISTS for a repeated one, 400 for a malformed body. --latency delays
every create and --status forces a response code.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := g.logger()
			if err != nil {
				return err
			}
			defer log.Sync()

			svc := target.NewService(target.NewStore(), target.Options{
				Latency:     latency,
				ForceStatus: status,
				Logger:      log,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			err = target.ListenAndServe(ctx, addr, svc)
			st := svc.Stats()
			log.Infow("reference service stopped",
				"created", st.Created,
				"conflicts", st.Conflicts,
				"bad_requests", st.BadRequests,
				"max_in_flight", st.MaxInFlight,
			)
			return err
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	cmd.Flags().DurationVar(&latency, "latency", 0, "Artificial delay before every create response")
	cmd.Flags().IntVar(&status, "status", 0, "Force every create to return this status (0 disables)")
	return cmd
}
