package cmd

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().Uint32P("max-steps", "m", 0, "stop after this many instructions (0 = unbounded)")
}

var runCmd = &cobra.Command{
	Use:   "run [FILE]",
	Short: "Run a Glulx story file to completion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		maxSteps, err := cmd.Flags().GetUint32("max-steps")
		if err != nil {
			return err
		}

		vm, out, err := loadVM(args[0])
		if err != nil {
			return errors.Wrap(err, "loading story file")
		}
		vm.SetMaxSteps(maxSteps)

		runErr := vm.Run()
		if flushErr := out.Flush(); flushErr != nil && runErr == nil {
			runErr = flushErr
		}
		if runErr != nil {
			return fmt.Errorf("run: %w", runErr)
		}
		return nil
	},
}
