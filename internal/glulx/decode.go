package glulx

// Addressing mode nibble values (spec.md §4.4).
const (
	ModeConst0 byte = 0x0
	ModeConst1 byte = 0x1
	ModeConst2 byte = 0x2
	ModeConst4 byte = 0x3
	modeIllegal4 byte = 0x4
	ModeAddr1  byte = 0x5
	ModeAddr2  byte = 0x6
	ModeAddr4  byte = 0x7
	ModeStack  byte = 0x8
	ModeLocal1 byte = 0x9
	ModeLocal2 byte = 0xA
	ModeLocal4 byte = 0xB
	modeIllegalC byte = 0xC
	ModeRAM1   byte = 0xD
	ModeRAM2   byte = 0xE
	ModeRAM4   byte = 0xF
)

func modeIsIllegal(m byte) bool {
	return m == modeIllegal4 || m == modeIllegalC
}

// DecodeModeNibbles unpacks n addressing-mode nibbles from packed bytes,
// low nibble first per byte, in operand order (spec.md §4.4). Exposed
// for the encoding round-trip property in spec.md §8.
func DecodeModeNibbles(data []byte, n int) []byte {
	modes := make([]byte, n)
	for i := 0; i < n; i++ {
		b := data[i/2]
		if i%2 == 0 {
			modes[i] = b & 0x0F
		} else {
			modes[i] = (b >> 4) & 0x0F
		}
	}
	return modes
}

// EncodeModeNibbles packs addressing modes two per byte, low nibble
// first, the inverse of DecodeModeNibbles.
func EncodeModeNibbles(modes []byte) []byte {
	out := make([]byte, (len(modes)+1)/2)
	for i, m := range modes {
		if i%2 == 0 {
			out[i/2] |= m & 0x0F
		} else {
			out[i/2] |= (m & 0x0F) << 4
		}
	}
	return out
}

// FetchOpcode reads the variable-length opcode at addr (spec.md §4.4),
// returning the decoded opcode and the number of bytes it occupied.
func FetchOpcode(mem *Memory, addr uint32) (Opcode, uint32) {
	b0 := mem.ReadByte(addr)
	switch {
	case b0 < 0x80:
		return Opcode(b0), 1
	case b0 < 0xC0:
		b1 := mem.ReadByte(addr + 1)
		return Opcode(((b0 & 0x3F) << 8) | b1), 2
	default:
		b1 := mem.ReadByte(addr + 1)
		b2 := mem.ReadByte(addr + 2)
		b3 := mem.ReadByte(addr + 3)
		return Opcode(((b0 & 0x3F) << 24) | (b1 << 16) | (b2 << 8) | b3), 4
	}
}

// operandSlot is the decoded form of a single store operand: enough
// information to write a result once it is computed, without needing to
// re-walk the instruction stream (design note in spec.md §9: "a small
// tagged-sum variant {Value(u32), Store{mode, addr}}").
type operandSlot struct {
	mode byte
	addr uint32
}

// decodedInstruction is the result of fully fetching and decoding one
// instruction: its opcode, already-resolved load values, not-yet-written
// store targets, and the address of the next instruction.
type decodedInstruction struct {
	op      Opcode
	loads   []uint32
	stores  []operandSlot
	nextPC  uint32
	atPC    uint32
}

// addrWidth returns the number of bytes the constant embedded after an
// addressing-mode nibble occupies (1/2/4, or 0 when the mode carries no
// embedded constant at all).
func addrWidth(mode byte) uint32 {
	switch mode {
	case ModeConst1, ModeAddr1, ModeLocal1, ModeRAM1:
		return 1
	case ModeConst2, ModeAddr2, ModeLocal2, ModeRAM2:
		return 2
	case ModeConst4, ModeAddr4, ModeLocal4, ModeRAM4:
		return 4
	default:
		return 0
	}
}

// decodeInstruction fetches the opcode at pc, decodes its addressing
// modes, resolves every load operand (popping the value stack and
// reading memory/locals as needed, in operand order), and records store
// targets for the caller to write back to after computing a result.
func (vm *VM) decodeInstruction(pc uint32) (decodedInstruction, error) {
	op, opLen := FetchOpcode(vm.Mem, pc)
	sig, ok := opTable[op]
	if !ok {
		return decodedInstruction{}, annotateOp(ErrIllegalOpcode, pc, uint32(op))
	}

	n := sig.loads + sig.stores
	modeByteLen := uint32((n + 1) / 2)
	modeBytes := vm.Mem.ReadBlock(pc+opLen, int(modeByteLen))
	if len(modeBytes) < int(modeByteLen) {
		padded := make([]byte, modeByteLen)
		copy(padded, modeBytes)
		modeBytes = padded
	}
	modes := DecodeModeNibbles(modeBytes, n)

	cursor := pc + opLen + modeByteLen
	loads := make([]uint32, sig.loads)
	stores := make([]operandSlot, sig.stores)

	width := sig.width
	if width == 0 {
		width = 4
	}

	for i := 0; i < sig.loads; i++ {
		mode := modes[i]
		if modeIsIllegal(mode) {
			return decodedInstruction{}, annotateOp(ErrIllegalAddressMode, pc, uint32(op))
		}
		v, consumed, err := vm.loadOperand(mode, cursor, width)
		if err != nil {
			return decodedInstruction{}, errWithPC(err, pc)
		}
		loads[i] = v
		cursor += consumed
	}

	for i := 0; i < sig.stores; i++ {
		mode := modes[sig.loads+i]
		if modeIsIllegal(mode) {
			return decodedInstruction{}, annotateOp(ErrIllegalAddressMode, pc, uint32(op))
		}
		aw := addrWidth(mode)
		addr := uint32(0)
		if aw > 0 {
			addr = vm.Mem.ReadBlockAsUint(cursor, aw)
			cursor += aw
		}
		stores[i] = operandSlot{mode: mode, addr: addr}
	}

	return decodedInstruction{op: op, loads: loads, stores: stores, nextPC: cursor, atPC: pc}, nil
}

// loadOperand resolves one load operand, returning its value and the
// number of instruction-stream bytes it consumed.
func (vm *VM) loadOperand(mode byte, cursor uint32, width byte) (uint32, uint32, error) {
	switch mode {
	case ModeConst0:
		return 0, 0, nil
	case ModeConst1:
		return signExtend(vm.Mem.ReadByte(cursor), 1), 1, nil
	case ModeConst2:
		return signExtend(vm.Mem.ReadShort(cursor), 2), 2, nil
	case ModeConst4:
		return vm.Mem.ReadWord(cursor), 4, nil
	case ModeAddr1, ModeAddr2, ModeAddr4:
		aw := addrWidth(mode)
		addr := vm.Mem.ReadBlockAsUint(cursor, aw)
		return vm.readWidth(addr, width), aw, nil
	case ModeStack:
		v, err := vm.Stack.Pop32()
		return v, 0, err
	case ModeLocal1, ModeLocal2, ModeLocal4:
		aw := addrWidth(mode)
		off := vm.Mem.ReadBlockAsUint(cursor, aw)
		return vm.readLocalByOffset(off), aw, nil
	case ModeRAM1, ModeRAM2, ModeRAM4:
		aw := addrWidth(mode)
		off := vm.Mem.ReadBlockAsUint(cursor, aw)
		return vm.readWidth(vm.Mem.RAMStart()+off, width), aw, nil
	}
	return 0, 0, ErrIllegalAddressMode
}

// storeResult writes a computed value to a previously-decoded store
// target, at the data width the opcode operates on (narrower than 32
// bits for copyb/copys and friends).
func (vm *VM) storeResult(slot operandSlot, value uint32, width byte) error {
	switch slot.mode {
	case ModeConst0, ModeConst1, ModeConst2, ModeConst4:
		return nil // discard
	case ModeAddr1, ModeAddr2, ModeAddr4:
		vm.writeWidth(slot.addr, value, width)
		return nil
	case ModeStack:
		return vm.Stack.Push32(value)
	case ModeLocal1, ModeLocal2, ModeLocal4:
		vm.writeLocalByOffset(slot.addr, value)
		return nil
	case ModeRAM1, ModeRAM2, ModeRAM4:
		vm.writeWidth(vm.Mem.RAMStart()+slot.addr, value, width)
		return nil
	}
	return ErrIllegalAddressMode
}

func (vm *VM) readWidth(addr uint32, width byte) uint32 {
	switch width {
	case 1:
		return vm.Mem.ReadByte(addr)
	case 2:
		return vm.Mem.ReadShort(addr)
	default:
		return vm.Mem.ReadWord(addr)
	}
}

func (vm *VM) writeWidth(addr uint32, value uint32, width byte) {
	switch width {
	case 1:
		vm.Mem.WriteByte(addr, value)
	case 2:
		vm.Mem.WriteShort(addr, value)
	default:
		vm.Mem.WriteWord(addr, value)
	}
}

func signExtend(v uint32, width byte) uint32 {
	switch width {
	case 1:
		return uint32(int32(int8(v)))
	case 2:
		return uint32(int32(int16(v)))
	default:
		return v
	}
}

func errWithPC(err error, pc uint32) error {
	if err == ErrStackUnderflow || err == ErrStackOverflow {
		return annotate(err, pc)
	}
	return err
}
