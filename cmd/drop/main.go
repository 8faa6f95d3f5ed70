package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/drop/internal/config"

	// Register metadata backends.
	_ "github.com/gezibash/drop/internal/metastore/physical/badger"
	_ "github.com/gezibash/drop/internal/metastore/physical/memory"
	_ "github.com/gezibash/drop/internal/metastore/physical/postgres"
	_ "github.com/gezibash/drop/internal/metastore/physical/redis"
	_ "github.com/gezibash/drop/internal/metastore/physical/sqlite"

	// Register object backends.
	_ "github.com/gezibash/drop/internal/objectstore/physical/blobcdn"
	_ "github.com/gezibash/drop/internal/objectstore/physical/fs"
	_ "github.com/gezibash/drop/internal/objectstore/physical/gridfs"
	_ "github.com/gezibash/drop/internal/objectstore/physical/s3"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:   "drop",
		Short: "Public file-hosting gateway",
		Long: `drop - upload a file, get a short link and a deletion key.

Server commands:
  drop serve               Run the HTTP gateway

Store commands:
  drop info <id|key>       Show an object's metadata
  drop rm <key>            Delete an object by its deletion key
  drop backends            Show which object backends are usable
  drop token               Issue an upload token`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	config.BindCommonFlags(rootCmd, v)
	rootCmd.PersistentFlags().StringP("output", "o", "text", "output format (text, json, markdown)")
	_ = v.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))

	rootCmd.AddCommand(newServeCmd(v))
	rootCmd.AddCommand(newInfoCmd(v))
	rootCmd.AddCommand(newRmCmd(v))
	rootCmd.AddCommand(newBackendsCmd(v))
	rootCmd.AddCommand(newTokenCmd(v))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}
