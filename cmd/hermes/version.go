package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is the release version, overridden at build time with
// -ldflags "-X main.Version=...".
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the hermes version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("hermes %s\n", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
