// Package commands implements the presencechat command line: the relay
// itself plus small operator helpers.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version is set via ldflags during build.
var Version = "dev"

// Execute runs the root command. All relay settings come from the
// environment, optionally seeded from a .env file in the working directory.
func Execute() error {
	return newRootCmd().ExecuteContext(context.Background())
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "presencechat",
		Short:        "Presence-aware WebSocket message relay",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			return configureLogging(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	root.AddCommand(hashPasswordCmd(), versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the relay version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "presencechat %s\n", Version)
		},
	}
}
