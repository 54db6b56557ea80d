package glulx

import (
	"github.com/pkg/errors"
)

// IOSystem selects how streamed output is delivered (spec.md §4.5,
// `setiosys`/`getiosys`).
type IOSystem uint32

const (
	IOSystemNull   IOSystem = 0
	IOSystemFilter IOSystem = 1
	IOSystemGlk    IOSystem = 2
)

// GlkDispatcher is the external collaborator that executes `glk`
// opcodes: given a selector and its argument words, it performs the
// actual I/O and returns the selector's single result word (spec.md §1,
// §6 "the glk dispatcher is an out-of-scope collaborator"). The VM core
// never implements a concrete Glk library itself.
type GlkDispatcher interface {
	Dispatch(vm *VM, selector uint32, args []uint32) (uint32, error)
}

// AccelTable resolves accelerated function numbers to native
// implementations that shortcut a hot story-file routine without
// executing its bytecode (spec.md §6 "accelerated functions").
type AccelTable interface {
	// Call returns (result, true, nil) when funcNum is accelerated and
	// was handled; (0, false, nil) tells the VM to fall back to a normal
	// bytecode call.
	Call(vm *VM, funcNum uint32, args []uint32) (result uint32, handled bool, err error)
}

// VMGestalt is the external collaborator unrecognized `gestalt`
// selectors are forwarded to (spec.md §6: "all other selectors are
// forwarded to vm_gestalt"), the same seam pattern as GlkDispatcher and
// AccelTable.
type VMGestalt interface {
	Handle(vm *VM, selector, arg uint32) uint32
}

// VM is the complete interpreter state: memory image, call stack,
// program counter, streaming/IO configuration, the PRNG, and the
// external collaborators (Glk dispatcher, accelerated-function table,
// save store, gestalt fallback) the core defers to rather than
// implementing itself.
type VM struct {
	Mem   *Memory
	Stack *Stack
	PC    uint32

	Header Header

	ioSystem  IOSystem
	ioRock    uint32
	stringTbl uint32

	// Output receives characters streamed under IOSystemGlk.
	Output Output

	rng *xoshiro128

	Glk        GlkDispatcher
	Accel      AccelTable
	Save       SaveStore
	ExtGestalt VMGestalt
	// accelParams holds the story-file-supplied constants set by
	// `accelparam`, indexed by parameter number (spec.md §6).
	accelParams map[uint32]uint32
	// accelFuncs maps a bytecode function address to the accelerated
	// function number that shortcuts it, set by `accelfunc`.
	accelFuncs map[uint32]uint32

	undo *undoChain

	// pendingString carries the in-progress compressed-string decode
	// across Filter-mode Glk calls that pause it mid-stream (spec.md
	// §4.5, §9 "call-stub-driven resume protocol").
	pendingString *stringDecodeState
	// pendingNum carries an in-progress streamnum decode across the same
	// kind of Filter-mode pause; it is independent of pendingString
	// because streamnum never nests inside a compressed string.
	pendingNum *numDecodeState

	// checksumOK records whether the header checksum matched the image
	// at load time, reported by the `verify` opcode.
	checksumOK bool

	stepCount uint32
	maxSteps  uint32

	quit bool
}

// NewVM constructs a VM from a parsed story-file image and boots it:
// builds memory and the stack, then calls the start function with an
// empty argument list and FP=SP=0 beneath it (spec.md §3, §4.3 "the
// outermost call has no call stub").
func NewVM(data []byte) (*VM, error) {
	hdr, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	mem, err := NewMemory(data, hdr.RAMStart, hdr.EndMem)
	if err != nil {
		return nil, err
	}
	stack, err := NewStack(hdr.StackSize)
	if err != nil {
		return nil, err
	}

	vm := &VM{
		Mem:         mem,
		Stack:       stack,
		Header:      hdr,
		stringTbl:   hdr.DecodingTbl,
		rng:         newXoshiro128(seedFromEntropy()),
		accelParams: make(map[uint32]uint32),
		accelFuncs:  make(map[uint32]uint32),
		undo:        newUndoChain(defaultUndoDepth),
		checksumOK:  computeChecksum(data, hdr.EndMem) == hdr.Checksum,
		maxSteps:    0,
	}

	if err := vm.EnterFunction(hdr.StartFunc, nil); err != nil {
		return nil, errors.Wrap(err, "booting start function")
	}
	return vm, nil
}

// SetMaxSteps bounds Run to at most n fetch-decode-execute cycles, 0
// meaning unbounded. Exists so hosts (and tests) can defend against a
// runaway or looping story file without killing the process.
func (vm *VM) SetMaxSteps(n uint32) {
	vm.maxSteps = n
}

// Step executes exactly one instruction, returning (true, nil) when the
// outermost `return` finishes the program. `quit` also reports done, with
// an error wrapping ErrQuit (Run treats that as a normal finish).
func (vm *VM) Step() (done bool, err error) {
	if vm.quit {
		return true, nil
	}

	inst, err := vm.decodeInstruction(vm.PC)
	if err != nil {
		return true, err
	}
	vm.PC = inst.nextPC

	finished, err := vm.execute(inst)
	if err != nil {
		return true, errWithOpcode(err, inst.atPC, uint32(inst.op))
	}
	return finished, nil
}

// Run steps the VM until it finishes, hits the step budget, or errors.
func (vm *VM) Run() error {
	for {
		if vm.maxSteps != 0 && vm.stepCount >= vm.maxSteps {
			return annotate(ErrMaxStepsReached, vm.PC)
		}
		vm.stepCount++

		done, err := vm.Step()
		if err != nil {
			if errors.Is(err, ErrQuit) || errors.Is(err, ErrProgramFinished) {
				return nil
			}
			return err
		}
		if done {
			return nil
		}
	}
}

func errWithOpcode(err error, pc uint32, opcode uint32) error {
	var ve *VMError
	if errors.As(err, &ve) {
		return err
	}
	return annotateOp(err, pc, opcode)
}
