package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/drop/internal/cli"
)

func newRmCmd(v *viper.Viper) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "rm <key>",
		Short: "Delete an object by its deletion key",
		Long: `Delete an object by its deletion key.

Bytes are removed from every backend that holds a copy; a backend that
fails is logged and skipped. The record is removed last.

Examples:
  drop rm 9f2c...e41a`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.RunCommand(cmd.Context(), cli.CommandConfig{
				Viper:   v,
				Out:     cmd.OutOrStdout(),
				Timeout: timeout,
				Run: func(ctx context.Context, rt *cli.Runtime, out *cli.Output) error {
					o, err := rt.Service.Delete(ctx, args[0])
					if err != nil {
						return fmt.Errorf("delete: %w", err)
					}
					return out.Result("object-deleted", "Deleted "+o.Filename()).
						With("name", o.Name).
						With("backend", o.Backend().Short()).
						Render()
				},
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "operation timeout")
	return cmd
}
