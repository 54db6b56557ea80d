package cmd

import (
	"bufio"
	"os"

	"glulx/internal/glulx"
)

// stdoutOutput is the headless glulx.Output backing: characters
// streamed under IOSystemGlk go straight to stdout, encoded as UTF-8.
// It exists because this CLI has no real Glk library attached -- a
// story file that never switches into Glk mode never touches it.
type stdoutOutput struct {
	w *bufio.Writer
}

func newStdoutOutput() *stdoutOutput {
	return &stdoutOutput{w: bufio.NewWriter(os.Stdout)}
}

func (o *stdoutOutput) PutChar(ch uint32) error {
	_, err := o.w.WriteRune(rune(ch))
	return err
}

func (o *stdoutOutput) Flush() error {
	return o.w.Flush()
}

// loadVM reads a story file from disk and boots a VM against it, wiring
// the CLI's stdout sink as the VM's Glk-mode output.
func loadVM(path string) (*glulx.VM, *stdoutOutput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	vm, err := glulx.NewVM(data)
	if err != nil {
		return nil, nil, err
	}
	out := newStdoutOutput()
	vm.Output = out
	return vm, out, nil
}
