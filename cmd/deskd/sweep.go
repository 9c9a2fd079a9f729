package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/desk-scheduler/internal/worker"
)

// jobArgs maps the CLI spelling of each job to its name.
func jobArgs() map[string]string {
	args := make(map[string]string)
	for _, job := range worker.Jobs() {
		args[strings.ReplaceAll(job, "_", "-")] = job
	}
	return args
}

func newSweepCmd(opts *rootOptions) *cobra.Command {
	names := make([]string, 0, len(worker.Jobs()))
	for _, job := range worker.Jobs() {
		names = append(names, strings.ReplaceAll(job, "_", "-"))
	}

	return &cobra.Command{
		Use:       "sweep " + strings.Join(names, "|"),
		Short:     "Run one reconciliation job now",
		Args:      cobra.ExactArgs(1),
		ValidArgs: names,
		RunE: func(cmd *cobra.Command, args []string) error {
			job, ok := jobArgs()[args[0]]
			if !ok {
				return fmt.Errorf("%w: %q (want one of %s)", worker.ErrUnknownJob, args[0], strings.Join(names, ", "))
			}

			rt, err := newRuntime(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := rt.Close(); cerr != nil {
					rt.logger.Error("failed to close resources", zap.Error(cerr))
				}
			}()

			runner, err := worker.New(rt.sweeps, rt.publisher, rt.cfg.Schedule, rt.cfg.ReminderWindow, rt.logger,
				worker.WithLocation(rt.cfg.Location()),
			)
			if err != nil {
				return err
			}
			if err := runner.Run(cmd.Context(), job); err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s sweep completed\n", args[0])
			return nil
		},
	}
}
