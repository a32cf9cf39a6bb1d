package main

import (
	"context"

	"github.com/spf13/cobra"

	app "github.com/ahrav/analysis-armada/internal/app/analysis"
)

// newWorkerCmd serves a single process-mode run. The request arrives on
// stdin and task updates leave on stdout, so logs go to stderr only.
func newWorkerCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:    "worker",
		Short:  "Serve one process-mode run (internal)",
		Hidden: true,
		Args:   cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApplication(ctx, opts.cfg, appOptions{worker: true, logOutput: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			if err := app.RunWorker(ctx, a.registry, cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
				a.log.Error(ctx, "worker failed", "error", err)
				return err
			}
			return nil
		},
	}
}
