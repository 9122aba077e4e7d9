// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"github.com/ManuGH/streamcache/internal/version"
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var root string

	rootCmd := &cobra.Command{
		Use:           "streamcachectl",
		Short:         "Inspect a streamcache artifact root",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVar(&root, "root", "hls", "Artifact root directory")

	rootCmd.AddCommand(newListCommand(&root))
	rootCmd.AddCommand(newInspectCommand(&root))
	rootCmd.AddCommand(newEncodeKeyCommand())
	rootCmd.AddCommand(newDecodeKeyCommand())

	return rootCmd
}
