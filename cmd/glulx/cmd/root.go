package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "glulx",
	Short: "A Glulx bytecode virtual machine",
	Long:  "glulx loads and runs Glulx story-file images, the bytecode format produced by Inform and other interactive fiction compilers.",
}

// Execute runs the root command, returning the first error any
// subcommand reports.
func Execute() error {
	return rootCmd.Execute()
}
