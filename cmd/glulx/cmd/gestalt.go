package cmd

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(gestaltCmd)
}

var gestaltCmd = &cobra.Command{
	Use:   "gestalt [FILE] [SELECTOR] [ARG]",
	Short: "Query a single gestalt selector against a loaded story file",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		vm, _, err := loadVM(args[0])
		if err != nil {
			return errors.Wrap(err, "loading story file")
		}

		nums := lo.Map(args[1:], func(s string, _ int) uint64 {
			v, _ := strconv.ParseUint(s, 0, 32)
			return v
		})
		selector := uint32(nums[0])
		var arg uint32
		if len(nums) > 1 {
			arg = uint32(nums[1])
		}

		fmt.Println(vm.Gestalt(selector, arg))
		return nil
	},
}
