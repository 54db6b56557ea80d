package glulx

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// CallStub is the 16-byte record pushed between frames, recording where a
// return value should go and where to resume (spec.md §3, GLOSSARY).
type CallStub struct {
	DestType uint32
	DestAddr uint32
	PC       uint32
	FP       uint32
}

// DestType values (spec.md §3).
const (
	DestDiscard uint32 = 0
	DestMemory  uint32 = 1
	DestLocal   uint32 = 2
	DestStack   uint32 = 3

	// String/number resume stub types (spec.md §3, §4.5).
	DestResumeCompressedString uint32 = 0x10
	DestResumeStringTerminator uint32 = 0x11
	DestResumeStreamNum        uint32 = 0x12
	DestResumeCString          uint32 = 0x13
	DestResumeUniString        uint32 = 0x14
)

// LocalGroup is one (size, count) pair from a function's locals-format
// descriptor (spec.md §3: "types ∈ {1,2,4}").
type LocalGroup struct {
	Size  byte
	Count byte
}

// LocalSlot is a single decoded local variable: its byte size and its
// offset from the start of the frame's locals data.
type LocalSlot struct {
	Offset uint32
	Size   byte
}

// Stack is the VM's byte-addressable call stack: a chain of frames
// terminated at offset 0, each holding a header, locals, and a value
// stack (spec.md §3, §4.2).
type Stack struct {
	bytes []byte
	sp    uint32
	fp    uint32
}

// NewStack allocates a stack buffer of the given size, which must be a
// multiple of 256 (spec.md §3).
func NewStack(size uint32) (*Stack, error) {
	if size == 0 || size%256 != 0 {
		return nil, errors.New("stack size must be a nonzero multiple of 256")
	}
	return &Stack{bytes: make([]byte, size)}, nil
}

func (s *Stack) SP() uint32 { return s.sp }
func (s *Stack) FP() uint32 { return s.fp }
func (s *Stack) Size() uint32 { return uint32(len(s.bytes)) }

func (s *Stack) SetSP(v uint32) { s.sp = v }
func (s *Stack) SetFP(v uint32) { s.fp = v }

// Bytes exposes the raw buffer for save/restore snapshotting.
func (s *Stack) Bytes() []byte { return s.bytes }

// FrameLen reads the FrameLen field of the current frame, stored as the
// frame's first word (spec.md §3).
func (s *Stack) FrameLen() uint32 {
	return binary.BigEndian.Uint32(s.bytes[s.fp:])
}

// LocalsPos reads the LocalsPos field of the current frame.
func (s *Stack) LocalsPos() uint32 {
	return binary.BigEndian.Uint32(s.bytes[s.fp+4:])
}

// LocalsGroups re-reads the (size, count) descriptor list stored in the
// current frame's header (spec.md §3). Because this is read directly
// from the frame rather than cached, it always reflects whichever
// frame is active, including after a return unwinds back to a caller.
func (s *Stack) LocalsGroups() []LocalGroup {
	var groups []LocalGroup
	cursor := s.fp + 8
	for {
		size := s.bytes[cursor]
		count := s.bytes[cursor+1]
		cursor += 2
		if size == 0 && count == 0 {
			break
		}
		groups = append(groups, LocalGroup{Size: size, Count: count})
	}
	return groups
}

// LocalSlotOffset resolves a local variable's byte offset (as carried by
// addressing modes 9/A/B, spec.md §4.4) to its absolute stack address
// and declared size. ok is false when the offset falls outside the
// frame's locals area.
func (s *Stack) LocalSlotOffset(byteOffset uint32) (addr uint32, size byte, ok bool) {
	localsBase := s.fp + s.LocalsPos()
	frameEnd := s.fp + s.FrameLen()
	slots, _ := flattenLocals(s.LocalsGroups())
	for _, slot := range slots {
		if slot.Offset == byteOffset {
			a := localsBase + slot.Offset
			if a >= frameEnd {
				return 0, 0, false
			}
			return a, slot.Size, true
		}
	}
	return 0, 0, false
}

// valueStackBase is the lowest address the value stack of the current
// frame may occupy; popping below it is an error (spec.md §3 invariant).
func (s *Stack) valueStackBase() uint32 {
	return s.fp + s.FrameLen()
}

// StkCount returns the number of 32-bit values currently on the active
// frame's value stack (spec.md §4.2).
func (s *Stack) StkCount() uint32 {
	return (s.sp - s.valueStackBase()) / 4
}

// Push32 pushes one 32-bit value, checking for stack overflow.
func (s *Stack) Push32(v uint32) error {
	if s.sp+4 > uint32(len(s.bytes)) {
		return ErrStackOverflow
	}
	binary.BigEndian.PutUint32(s.bytes[s.sp:], v)
	s.sp += 4
	return nil
}

// Pop32 pops one 32-bit value, refusing to cross the current frame's
// value-stack base (spec.md §4.2).
func (s *Stack) Pop32() (uint32, error) {
	if s.sp < s.valueStackBase()+4 {
		return 0, ErrStackUnderflow
	}
	s.sp -= 4
	return binary.BigEndian.Uint32(s.bytes[s.sp:]), nil
}

// Peek32 reads the value `depth` words below the top without popping
// (depth 0 == top of stack).
func (s *Stack) Peek32(depth uint32) (uint32, error) {
	addr := s.sp - 4*(depth+1)
	if addr < s.valueStackBase() || addr > s.sp-4 {
		return 0, ErrStackUnderflow
	}
	return binary.BigEndian.Uint32(s.bytes[addr:]), nil
}

// StkSwap swaps the top two values of the value stack.
func (s *Stack) StkSwap() error {
	if s.StkCount() < 2 {
		return ErrStackUnderflow
	}
	a := s.sp - 4
	b := s.sp - 8
	va := binary.BigEndian.Uint32(s.bytes[a:])
	vb := binary.BigEndian.Uint32(s.bytes[b:])
	binary.BigEndian.PutUint32(s.bytes[a:], vb)
	binary.BigEndian.PutUint32(s.bytes[b:], va)
	return nil
}

// StkCopy duplicates the top n words (spec.md §4.2).
func (s *Stack) StkCopy(n uint32) error {
	if n == 0 {
		return nil
	}
	if s.StkCount() < n {
		return ErrStackUnderflow
	}
	base := s.sp - 4*n
	if s.sp+4*n > uint32(len(s.bytes)) {
		return ErrStackOverflow
	}
	for i := uint32(0); i < n; i++ {
		v := binary.BigEndian.Uint32(s.bytes[base+4*i:])
		binary.BigEndian.PutUint32(s.bytes[s.sp+4*i:], v)
	}
	s.sp += 4 * n
	return nil
}

// StkRoll rotates the top n 32-bit words by shift, taken modulo n and
// made non-negative (spec.md §4.2): a positive shift moves every word
// up that many slots, the topmost words wrapping to the bottom.
func (s *Stack) StkRoll(n uint32, shift int32) error {
	if n == 0 {
		return nil
	}
	if s.StkCount() < n {
		return ErrStackUnderflow
	}
	base := s.sp - 4*n

	words := make([]uint32, n)
	for i := uint32(0); i < n; i++ {
		words[i] = binary.BigEndian.Uint32(s.bytes[base+4*i:])
	}

	k := int32(shift) % int32(n)
	if k < 0 {
		k += int32(n)
	}
	// A positive "shift" rolls the stack such that the top element moves
	// down `shift` slots (wrapping to the bottom), and everything above
	// it shifts up to fill in; express that as a right rotation of the
	// underlying array (index 0 == bottom of the n-window).
	rot := make([]uint32, n)
	for i := uint32(0); i < n; i++ {
		src := (i + n - uint32(k)) % n
		rot[i] = words[src]
	}
	for i := uint32(0); i < n; i++ {
		binary.BigEndian.PutUint32(s.bytes[base+4*i:], rot[i])
	}
	return nil
}

// PushCallStub writes a 16-byte call stub at the current SP and advances
// it (spec.md §3).
func (s *Stack) PushCallStub(stub CallStub) error {
	for _, v := range []uint32{stub.DestType, stub.DestAddr, stub.PC, stub.FP} {
		if err := s.Push32(v); err != nil {
			return err
		}
	}
	return nil
}

// PopCallStub reads back a call stub pushed by PushCallStub, in reverse
// field order.
func (s *Stack) PopCallStub() (CallStub, error) {
	fp, err := s.Pop32()
	if err != nil {
		return CallStub{}, err
	}
	pc, err := s.Pop32()
	if err != nil {
		return CallStub{}, err
	}
	destAddr, err := s.Pop32()
	if err != nil {
		return CallStub{}, err
	}
	destType, err := s.Pop32()
	if err != nil {
		return CallStub{}, err
	}
	return CallStub{DestType: destType, DestAddr: destAddr, PC: pc, FP: fp}, nil
}

func roundUp4(v uint32) uint32 {
	return (v + 3) &^ 3
}

// flattenLocals expands (size,count) groups into individual slots, each
// group aligning the write cursor to its own element size before laying
// out its members (spec.md §4.2).
func flattenLocals(groups []LocalGroup) (slots []LocalSlot, size uint32) {
	cursor := uint32(0)
	for _, g := range groups {
		if g.Count == 0 {
			continue
		}
		align := uint32(g.Size)
		if align > 1 {
			cursor = (cursor + align - 1) &^ (align - 1)
		}
		for i := byte(0); i < g.Count; i++ {
			slots = append(slots, LocalSlot{Offset: cursor, Size: g.Size})
			cursor += align
		}
	}
	return slots, cursor
}

// PushFrame lays out a new call frame at the current SP per spec.md §3:
// FrameLen/LocalsPos header, locals-format descriptor, padding, then
// zero-initialized locals. It sets FP to the frame start and SP past the
// frame, leaving the value stack empty. Returns the decoded local slot
// table for enter_function to populate, with each Offset converted to an
// absolute stack address.
func (s *Stack) PushFrame(groups []LocalGroup) ([]LocalSlot, error) {
	frameStart := s.sp

	formatLen := uint32(2*len(groups) + 2) // pairs + 00 00 terminator
	localsPos := roundUp4(8 + formatLen)

	slots, localsSize := flattenLocals(groups)
	frameLen := roundUp4(localsPos + localsSize)

	if frameStart+frameLen > uint32(len(s.bytes)) {
		return nil, ErrStackOverflow
	}

	binary.BigEndian.PutUint32(s.bytes[frameStart:], frameLen)
	binary.BigEndian.PutUint32(s.bytes[frameStart+4:], localsPos)

	cursor := frameStart + 8
	for _, g := range groups {
		s.bytes[cursor] = g.Size
		s.bytes[cursor+1] = g.Count
		cursor += 2
	}
	s.bytes[cursor] = 0
	s.bytes[cursor+1] = 0

	localsBase := frameStart + localsPos
	for i := localsBase; i < frameStart+frameLen; i++ {
		s.bytes[i] = 0
	}

	for i := range slots {
		slots[i].Offset += localsBase
	}

	s.fp = frameStart
	s.sp = frameStart + frameLen
	return slots, nil
}

// PopFrame restores SP/FP to values recorded before a matching PushFrame
// (used by tests exercising the frame round-trip property in spec.md §8;
// the full return()/tailcall() control flow in function.go additionally
// consumes the call stub beneath the frame).
func (s *Stack) PopFrame(prevSP, prevFP uint32) {
	s.sp = prevSP
	s.fp = prevFP
}
