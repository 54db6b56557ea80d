package glulx

import (
	"fmt"

	"github.com/pkg/errors"
)

// Fatal VM error sentinels. These are compared with errors.Is/== the same
// way the teacher's vm package compares its errcode sentinels
// (errSegmentationFault, errIllegalOperation, ...); annotate() wraps them
// with the failing PC and opcode using github.com/pkg/errors so a caller
// can still recover the root cause while the host gets a human-readable
// message (spec.md §7: "surfaced to the host with the failing PC and a
// human-readable code").
var (
	ErrBadImage            = errors.New("bad image")
	ErrStackOverflow       = errors.New("stack overflow")
	ErrStackUnderflow      = errors.New("stack underflow")
	ErrIllegalOpcode       = errors.New("illegal opcode")
	ErrIllegalAddressMode  = errors.New("illegal addressing mode")
	ErrDivideByZero        = errors.New("division by zero")
	ErrBadCallStub         = errors.New("mismatched call stub on string resume")
	ErrMemorySize          = errors.New("invalid memory size")
	ErrProgramFinished     = errors.New("program finished")
	ErrQuit                = errors.New("quit")
	ErrFrameUnderflow      = errors.New("frame underflow")
	ErrFunctionType        = errors.New("unrecognized function type")
	ErrStringDecode        = errors.New("malformed compressed string")
	ErrSearchOptions       = errors.New("invalid search options")
	ErrMaxStepsReached     = errors.New("maximum step count reached")
	ErrNoSaveStore         = errors.New("no save store configured")
	ErrBadSaveFile         = errors.New("malformed save file")
	ErrNoUndo              = errors.New("no undo state available")
)

// VMError is a fatal error surfaced to the host, carrying the PC at which
// it occurred and (when relevant) the failing opcode. The host decides
// whether to tear down or restart the VM; the core never recovers from
// one internally (spec.md §7).
type VMError struct {
	PC     uint32
	Opcode uint32
	cause  error
}

func (e *VMError) Error() string {
	if e.Opcode != 0 {
		return fmt.Sprintf("%s at pc=0x%08x opcode=0x%x", e.cause, e.PC, e.Opcode)
	}
	return fmt.Sprintf("%s at pc=0x%08x", e.cause, e.PC)
}

func (e *VMError) Unwrap() error { return e.cause }
func (e *VMError) Cause() error  { return e.cause }

// annotate wraps a sentinel fatal error with the PC it failed at, keeping
// the sentinel recoverable via errors.Is for callers (and tests) that
// only care about the error class.
func annotate(cause error, pc uint32) error {
	return errors.WithStack(&VMError{PC: pc, cause: cause})
}

func annotateOp(cause error, pc uint32, opcode uint32) error {
	return errors.WithStack(&VMError{PC: pc, Opcode: opcode, cause: cause})
}
