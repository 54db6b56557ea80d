package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"glulx/internal/glulx"
)

func init() {
	rootCmd.AddCommand(stepCmd)
}

var stepCmd = &cobra.Command{
	Use:     "step [FILE]",
	Aliases: []string{"debug"},
	Short:   "Single-step a Glulx story file with an interactive REPL",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vm, out, err := loadVM(args[0])
		if err != nil {
			return errors.Wrap(err, "loading story file")
		}
		defer out.Flush()
		runDebugRepl(vm)
		return nil
	},
}

// runDebugRepl mirrors the teacher's breakpoint-driven single-step loop
// (vm/run.go's RunProgramDebugMode): "n"/"next" steps one instruction,
// "r"/"run" free-runs until a breakpoint or termination, "b <addr>"
// toggles a breakpoint on a PC value.
func runDebugRepl(vm *glulx.VM) {
	fmt.Println("Commands:\n\tn or next: execute next instruction\n\tr or run: run program\n\tb or break <addr>: break at address (or remove break)\n\tq or quit: stop")

	printState(vm)

	reader := bufio.NewReader(os.Stdin)
	breakpoints := make(map[uint32]struct{})
	waitForInput := true
	lastBreak := uint32(0xFFFFFFFF)

	for {
		line := ""
		if waitForInput {
			fmt.Print("\n-> ")
			line, _ = reader.ReadString('\n')
			line = strings.ToLower(strings.TrimSpace(line))
		} else {
			if _, hit := breakpoints[vm.PC]; hit && lastBreak != vm.PC {
				fmt.Println("breakpoint")
				printState(vm)
				waitForInput = true
				lastBreak = vm.PC
				continue
			}
		}

		switch {
		case line == "q" || line == "quit":
			return
		case !waitForInput || line == "n" || line == "next":
			lastBreak = 0xFFFFFFFF
			done, err := vm.Step()
			if waitForInput {
				printState(vm)
			}
			if err != nil {
				fmt.Println(err)
				return
			}
			if done {
				fmt.Println("program finished")
				return
			}
		case line == "r" || line == "run":
			waitForInput = false
		case strings.HasPrefix(line, "b"):
			arg := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(line, "break"), "b"))
			addr, err := strconv.ParseUint(arg, 0, 32)
			if err != nil {
				fmt.Println("unknown address:", err)
				continue
			}
			pc := uint32(addr)
			if _, ok := breakpoints[pc]; ok {
				delete(breakpoints, pc)
			} else {
				breakpoints[pc] = struct{}{}
			}
		}
	}
}

func printState(vm *glulx.VM) {
	op, _ := glulx.FetchOpcode(vm.Mem, vm.PC)
	fmt.Printf("pc=0x%x  next opcode=%s\n", vm.PC, op)
}
