package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "flowctl",
	Short: "Drive video generation from the command line",
	Long: `flowctl runs the browser automation pipeline without the API server.
It reuses the same session cookies, driver, and storage as the service,
so a generation that works here works over HTTP too.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
