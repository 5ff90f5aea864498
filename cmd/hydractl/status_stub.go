//go:build !windows

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a hooked process over its diagnostics pipe",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(os.Stderr, "status requires Windows named pipes")
		os.Exit(1)
	},
}

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Dump a hooked process's recent engine log entries",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(os.Stderr, "journal requires Windows named pipes")
		os.Exit(1)
	},
}
