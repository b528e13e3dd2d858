package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "eventstore",
	Short: "Event store service for the care platform mesh",
	Long:  `Durable, ordered, replayable log of domain events with a low-latency live fan-out path`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
