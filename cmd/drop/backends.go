package main

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/drop/internal/cli"
	"github.com/gezibash/drop/internal/object"
	"github.com/gezibash/drop/internal/objectstore/physical"
)

func newBackendsCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "Show which object backends are usable",
		Long: `Open every configured object backend and report its state:
ready, read-only, unavailable (with the configuration error), or not
configured. Backends that can total their contents, such as local disk,
also report the bytes they hold.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.RunCommand(cmd.Context(), cli.CommandConfig{
				Viper:   v,
				Out:     cmd.OutOrStdout(),
				Timeout: 30 * time.Second,
				Run: func(ctx context.Context, rt *cli.Runtime, out *cli.Output) error {
					unavailable := rt.Backends.Unavailable()
					tbl := out.Table("backends", "Backend", "Alias", "Status", "Detail")
					for _, kind := range object.Kinds {
						switch {
						case rt.Backends.Writable(kind):
							tbl.AddRow(string(kind), kind.Short(), "ready", usage(ctx, rt, kind))
						case rt.Backends.Has(kind):
							tbl.AddRow(string(kind), kind.Short(), "read-only", usage(ctx, rt, kind))
						case unavailable[kind] != nil:
							tbl.AddRow(string(kind), kind.Short(), "unavailable", unavailable[kind].Error())
						default:
							tbl.AddRow(string(kind), kind.Short(), "not configured")
						}
					}
					return tbl.Render()
				},
			})
		},
	}
}

// usage describes how much kind holds, or "" when it cannot say.
func usage(ctx context.Context, rt *cli.Runtime, kind object.Kind) string {
	b, err := rt.Backends.Get(kind)
	if err != nil {
		return ""
	}
	ur, ok := b.(physical.UsageReporter)
	if !ok {
		return ""
	}
	used, err := ur.Usage(ctx)
	if err != nil {
		return "usage unavailable: " + err.Error()
	}
	return humanize.IBytes(uint64(used)) + " used"
}
