package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"flowpilot-go/domain/generation"
)

func newCheckCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Open the target page and report whether access is blocked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			a, err := newApp(ctx, cmd, flags)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.start(ctx); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			url, err := a.coord.CheckAccess(ctx)
			switch {
			case errors.Is(err, generation.ErrAccessDenied):
				fmt.Fprintf(out, "BLOCKED  %s\n  %v\n", url, err)
				return err
			case err != nil:
				return err
			}
			fmt.Fprintf(out, "OK       %s\n", url)
			return nil
		},
	}
}
