package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/drop/internal/cli"
	"github.com/gezibash/drop/internal/object"
)

func newInfoCmd(v *viper.Viper) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "info <id|key>",
		Short: "Show an object's metadata",
		Long: `Show the stored record for an object, looked up by public id (with or
without extension) or by deletion key.

The command opens the configured metadata store directly. Embedded stores
(badger) are locked by a running server; use a shared backend such as
redis or postgres to inspect a live deployment.

Examples:
  drop info aB3dE9
  drop info aB3dE9.png -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.RunCommand(cmd.Context(), cli.CommandConfig{
				Viper:   v,
				Out:     cmd.OutOrStdout(),
				Timeout: timeout,
				Run: func(ctx context.Context, rt *cli.Runtime, out *cli.Output) error {
					o, err := rt.Service.Lookup(ctx, args[0])
					if err != nil {
						return fmt.Errorf("lookup %s: %w", args[0], err)
					}
					return renderObject(out, o)
				},
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "operation timeout")
	return cmd
}

func renderObject(out *cli.Output, o *object.Object) error {
	kv := out.KV("object").
		Set("ID", o.ID).
		Set("Name", o.Name).
		Set("Type", o.ContentType)
	if out.Format() == cli.FormatJSON {
		kv.Set("Size", o.Size).Set("Created", o.CreatedAt)
	} else {
		kv.Set("Size", fmt.Sprintf("%s (%d bytes)", humanize.IBytes(uint64(o.Size)), o.Size)).
			Set("Created", fmt.Sprintf("%s (%s)", o.CreatedAt.Format(time.RFC3339), humanize.Time(o.CreatedAt)))
	}
	kv.Set("Checksum", o.Checksum).
		Set("Backend", o.Backend().Short()).
		Set("Location", o.Location.String()).
		Set("Private", o.Private())
	if len(o.Residual) > 0 {
		kv.Set("Residual", len(o.Residual))
	}
	return kv.Render()
}
