package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"maid/config"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "maid",
		Short: "Symmetric RPC over length-prefixed TCP frames",
		Long: `maid runs a channel that serves and calls remote methods over plain TCP.

Every connection is symmetric: either peer may call the other. Frames carry
a small protobuf-encoded header and an opaque payload in the configured codec.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a TOML config file")

	load := func() (*config.Config, error) {
		cfg := config.DefaultConfig()
		if configPath != "" {
			if err := cfg.UpdateFromFile(configPath); err != nil {
				return nil, err
			}
		}
		return cfg, nil
	}

	rootCmd.AddCommand(
		serveCmd(load),
		callCmd(load),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// loader returns the effective configuration: defaults, then the config file.
type loader func() (*config.Config, error)
