package glulx

// Function type bytes (spec.md §3: "C0 stack-args / C1 local-args").
const (
	FuncTypeStackArgs  byte = 0xC0
	FuncTypeLocalArgs  byte = 0xC1
)

// Function describes a decoded function header: its type, its locals
// layout, and the PC of its first real instruction (spec.md §3).
type Function struct {
	Addr    uint32
	Type    byte
	Groups  []LocalGroup
	EntryPC uint32
}

// ParseFunctionHeader decodes the type byte and locals-format descriptor
// at addr (spec.md §3, §4.3). The first instruction begins immediately
// after the 00 00 terminator -- no PC alignment.
func ParseFunctionHeader(mem *Memory, addr uint32) (Function, error) {
	ftype := byte(mem.ReadByte(addr))
	if ftype != FuncTypeStackArgs && ftype != FuncTypeLocalArgs {
		return Function{}, ErrFunctionType
	}

	cursor := addr + 1
	var groups []LocalGroup
	for {
		size := byte(mem.ReadByte(cursor))
		count := byte(mem.ReadByte(cursor + 1))
		cursor += 2
		if size == 0 && count == 0 {
			break
		}
		if size != 1 && size != 2 && size != 4 {
			return Function{}, ErrFunctionType
		}
		groups = append(groups, LocalGroup{Size: size, Count: count})
	}

	return Function{Addr: addr, Type: ftype, Groups: groups, EntryPC: cursor}, nil
}

// EnterFunction parses the function header at addr, pushes a new frame,
// and dispatches arguments by function type (spec.md §4.3). The caller
// is responsible for pushing any call stub beforehand -- EnterFunction
// only ever builds the callee's own frame.
func (vm *VM) EnterFunction(addr uint32, args []uint32) error {
	fn, err := ParseFunctionHeader(vm.Mem, addr)
	if err != nil {
		return err
	}

	slots, err := vm.Stack.PushFrame(fn.Groups)
	if err != nil {
		return err
	}

	switch fn.Type {
	case FuncTypeStackArgs:
		for i := len(args) - 1; i >= 0; i-- {
			if err := vm.Stack.Push32(args[i]); err != nil {
				return err
			}
		}
		if err := vm.Stack.Push32(uint32(len(args))); err != nil {
			return err
		}
	case FuncTypeLocalArgs:
		for i, v := range args {
			if i >= len(slots) {
				break // extra args are silently dropped
			}
			writeTruncated(vm.Stack.Bytes(), slots[i].Offset, slots[i].Size, v)
		}
	}

	vm.PC = fn.EntryPC
	return nil
}

func writeTruncated(buf []byte, offset uint32, size byte, v uint32) {
	switch size {
	case 1:
		buf[offset] = byte(v)
	case 2:
		buf[offset] = byte(v >> 8)
		buf[offset+1] = byte(v)
	case 4:
		buf[offset] = byte(v >> 24)
		buf[offset+1] = byte(v >> 16)
		buf[offset+2] = byte(v >> 8)
		buf[offset+3] = byte(v)
	}
}

func readTruncated(buf []byte, offset uint32, size byte) uint32 {
	switch size {
	case 1:
		return uint32(buf[offset])
	case 2:
		return uint32(buf[offset])<<8 | uint32(buf[offset+1])
	case 4:
		return uint32(buf[offset])<<24 | uint32(buf[offset+1])<<16 | uint32(buf[offset+2])<<8 | uint32(buf[offset+3])
	}
	return 0
}

// Return implements the `return` control operation (spec.md §4.3): pop
// back to the frame boundary, then consume and act on the call stub
// beneath it. Returns true when this was the outermost frame and
// execution should terminate.
func (vm *VM) Return(value uint32) (terminated bool, err error) {
	vm.Stack.SetSP(vm.Stack.FP())
	if vm.Stack.SP() == 0 {
		return true, nil
	}

	stub, err := vm.Stack.PopCallStub()
	if err != nil {
		return false, err
	}
	vm.Stack.SetFP(stub.FP)

	return false, vm.resumeFromStub(stub, value)
}

// resumeFromStub dispatches a popped call stub: either storing a normal
// return value (DestType 0-3) or resuming a paused string/number
// producer (DestType 0x10-0x14), per spec.md §3 and §4.5.
func (vm *VM) resumeFromStub(stub CallStub, value uint32) error {
	switch stub.DestType {
	case DestDiscard:
		vm.PC = stub.PC
		return nil
	case DestMemory:
		vm.Mem.WriteWord(stub.DestAddr, value)
		vm.PC = stub.PC
		return nil
	case DestLocal:
		vm.writeLocalByOffset(stub.DestAddr, value)
		vm.PC = stub.PC
		return nil
	case DestStack:
		vm.PC = stub.PC
		return vm.Stack.Push32(value)
	case DestResumeCompressedString:
		return vm.resumeCompressedString(stub.PC, stub.DestAddr, value)
	case DestResumeStringTerminator:
		return ErrBadCallStub
	case DestResumeStreamNum:
		return vm.resumeStreamNum(stub.PC, stub.DestAddr, value)
	case DestResumeCString:
		return vm.resumeCString(stub.PC, value)
	case DestResumeUniString:
		return vm.resumeUniString(stub.PC, value)
	default:
		return ErrBadCallStub
	}
}

func (vm *VM) writeLocalByOffset(offset, value uint32) {
	addr, size, ok := vm.Stack.LocalSlotOffset(offset)
	if !ok {
		return
	}
	writeTruncated(vm.Stack.Bytes(), addr, size, value)
}

func (vm *VM) readLocalByOffset(offset uint32) uint32 {
	addr, size, ok := vm.Stack.LocalSlotOffset(offset)
	if !ok {
		return 0
	}
	return readTruncated(vm.Stack.Bytes(), addr, size)
}

// TailCall pops n args from the value stack, discards the current frame
// without popping its call stub, and enters the target function so that
// its eventual return consumes the *original* stub (spec.md §4.3).
func (vm *VM) TailCall(addr uint32, n uint32) error {
	args := make([]uint32, n)
	for i := n; i > 0; i-- {
		v, err := vm.Stack.Pop32()
		if err != nil {
			return err
		}
		args[i-1] = v
	}
	vm.Stack.SetSP(vm.Stack.FP())
	return vm.EnterFunction(addr, args)
}
