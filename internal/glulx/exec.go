package glulx

import "math"

// execute runs the semantics of one already-decoded instruction. The
// caller (VM.Step) has already advanced vm.PC to inst.nextPC; execute
// only needs to override it for control-flow opcodes.
func (vm *VM) execute(inst decodedInstruction) (finished bool, err error) {
	sig := opTable[inst.op]
	width := sig.width
	if width == 0 {
		width = 4
	}
	L := inst.loads

	store1 := func(v uint32) error {
		return vm.storeResult(inst.stores[0], v, width)
	}
	store2 := func(a, b uint32) error {
		if err := vm.storeResult(inst.stores[0], a, 4); err != nil {
			return err
		}
		return vm.storeResult(inst.stores[1], b, 4)
	}
	branch := func(offset uint32) (bool, error) {
		return vm.doBranch(inst, offset)
	}
	branchIf := func(cond bool, offset uint32) (bool, error) {
		if !cond {
			return false, nil
		}
		return branch(offset)
	}

	switch inst.op {
	case OpNop:
		return false, nil

	// --- Arithmetic ---
	case OpAdd:
		return false, store1(L[0] + L[1])
	case OpSub:
		return false, store1(L[0] - L[1])
	case OpMul:
		return false, store1(L[0] * L[1])
	case OpDiv:
		if L[1] == 0 || (L[0] == 0x80000000 && int32(L[1]) == -1) {
			return false, ErrDivideByZero
		}
		return false, store1(uint32(int32(L[0]) / int32(L[1])))
	case OpMod:
		if L[1] == 0 || (L[0] == 0x80000000 && int32(L[1]) == -1) {
			return false, ErrDivideByZero
		}
		return false, store1(uint32(int32(L[0]) % int32(L[1])))
	case OpNeg:
		return false, store1(uint32(-int32(L[0])))
	case OpBitAnd:
		return false, store1(L[0] & L[1])
	case OpBitOr:
		return false, store1(L[0] | L[1])
	case OpBitXor:
		return false, store1(L[0] ^ L[1])
	case OpBitNot:
		return false, store1(^L[0])
	case OpShiftL:
		if L[1] >= 32 {
			return false, store1(0)
		}
		return false, store1(L[0] << L[1])
	case OpUShiftR:
		if L[1] >= 32 {
			return false, store1(0)
		}
		return false, store1(L[0] >> L[1])
	case OpSShiftR:
		if L[1] >= 32 {
			if int32(L[0]) < 0 {
				return false, store1(0xFFFFFFFF)
			}
			return false, store1(0)
		}
		return false, store1(uint32(int32(L[0]) >> L[1]))

	// --- Branches ---
	case OpJump:
		return branch(L[0])
	case OpJumpAbs:
		vm.PC = L[0]
		return false, nil
	case OpJz:
		return branchIf(L[0] == 0, L[1])
	case OpJnz:
		return branchIf(L[0] != 0, L[1])
	case OpJeq:
		return branchIf(L[0] == L[1], L[2])
	case OpJne:
		return branchIf(L[0] != L[1], L[2])
	case OpJlt:
		return branchIf(int32(L[0]) < int32(L[1]), L[2])
	case OpJge:
		return branchIf(int32(L[0]) >= int32(L[1]), L[2])
	case OpJgt:
		return branchIf(int32(L[0]) > int32(L[1]), L[2])
	case OpJle:
		return branchIf(int32(L[0]) <= int32(L[1]), L[2])
	case OpJltu:
		return branchIf(L[0] < L[1], L[2])
	case OpJgeu:
		return branchIf(L[0] >= L[1], L[2])
	case OpJgtu:
		return branchIf(L[0] > L[1], L[2])
	case OpJleu:
		return branchIf(L[0] <= L[1], L[2])

	// --- Array ops ---
	case OpAload:
		return false, store1(vm.Mem.ReadWord(L[0] + L[1]*4))
	case OpAloads:
		return false, store1(vm.Mem.ReadShort(L[0] + L[1]*2))
	case OpAloadb:
		return false, store1(vm.Mem.ReadByte(L[0] + L[1]))
	case OpAloadbit:
		addr, bit := bitAddrAndIndex(L[0], int32(L[1]))
		return false, store1((vm.Mem.ReadByte(addr) >> bit) & 1)
	case OpAstore:
		vm.Mem.WriteWord(L[0]+L[1]*4, L[2])
		return false, nil
	case OpAstores:
		vm.Mem.WriteShort(L[0]+L[1]*2, L[2])
		return false, nil
	case OpAstoreb:
		vm.Mem.WriteByte(L[0]+L[1], L[2])
		return false, nil
	case OpAstorebit:
		addr, bit := bitAddrAndIndex(L[0], int32(L[1]))
		b := vm.Mem.ReadByte(addr)
		if L[2] != 0 {
			b |= 1 << bit
		} else {
			b &^= 1 << bit
		}
		vm.Mem.WriteByte(addr, b)
		return false, nil

	// --- Stack ops ---
	case OpStkcount:
		return false, store1(vm.Stack.StkCount())
	case OpStkpeek:
		v, err := vm.Stack.Peek32(L[0])
		if err != nil {
			return false, err
		}
		return false, store1(v)
	case OpStkswap:
		return false, vm.Stack.StkSwap()
	case OpStkroll:
		return false, vm.Stack.StkRoll(L[0], int32(L[1]))
	case OpStkcopy:
		return false, vm.Stack.StkCopy(L[0])

	// --- Copy / sign-extend ---
	case OpCopy:
		return false, store1(L[0])
	case OpCopys:
		return false, store1(L[0])
	case OpCopyb:
		return false, store1(L[0])
	case OpSexs:
		return false, store1(uint32(int32(int16(L[0]))))
	case OpSexb:
		return false, store1(uint32(int32(int8(L[0]))))

	// --- String streaming ---
	case OpStreamchar:
		return false, vm.StreamChar(L[0])
	case OpStreamnum:
		return false, vm.StreamNum(L[0])
	case OpStreamstr:
		return false, vm.StreamStr(L[0])
	case OpStreamunichar:
		return false, vm.StreamUniChar(L[0])

	// --- Search ---
	case OpLinearsearch:
		return false, store1(vm.LinearSearch(L[0], L[1], L[2], L[3], L[4], L[5], L[6]))
	case OpBinarysearch:
		return false, store1(vm.BinarySearch(L[0], L[1], L[2], L[3], L[4], L[5], L[6]))
	case OpLinkedsearch:
		return false, store1(vm.LinkedSearch(L[0], L[1], L[2], L[3], L[4], L[5]))

	// --- Memory management ---
	case OpGetmemsize:
		return false, store1(vm.Mem.Size())
	case OpSetmemsize:
		result := uint32(0)
		if err := vm.Mem.SetMemSize(L[0]); err != nil {
			result = 1
		}
		return false, store1(result)
	case OpMzero:
		vm.Mem.Mzero(L[0], L[1])
		return false, nil
	case OpMcopy:
		vm.Mem.Mcopy(L[0], L[1], L[2])
		return false, nil
	case OpMalloc:
		return false, store1(vm.Mem.Malloc(L[0]))
	case OpMfree:
		vm.Mem.Mfree(L[0])
		return false, nil
	case OpProtect:
		vm.Mem.Protect(L[0], L[1])
		return false, nil

	// --- Random ---
	case OpRandom:
		return false, store1(vm.Random(L[0]))
	case OpSetrandom:
		vm.SetRandom(L[0])
		return false, nil

	// --- Misc / gestalt / save-undo / restart ---
	case OpQuit:
		vm.quit = true
		return true, ErrQuit
	case OpGestalt:
		return false, store1(vm.Gestalt(L[0], L[1]))
	case OpVerify:
		result := uint32(0)
		if !vm.checksumOK {
			result = 1
		}
		return false, store1(result)
	case OpRestart:
		return false, vm.restartExec()
	case OpGetstringtbl:
		return false, store1(vm.GetStringTable())
	case OpSetstringtbl:
		vm.SetStringTable(L[0])
		return false, nil
	case OpGetiosys:
		mode, rock := vm.GetIOSys()
		return false, store2(mode, rock)
	case OpSetiosys:
		vm.SetIOSys(L[0], L[1])
		return false, nil

	// --- Calls ---
	case OpCall:
		addr, argc := L[0], L[1]
		args, err := vm.popArgs(argc)
		if err != nil {
			return false, err
		}
		return false, vm.doCall(addr, args, inst.stores[0])
	case OpReturn:
		return vm.Return(L[0])
	case OpTailcall:
		return false, vm.TailCall(L[0], L[1])
	case OpCallf:
		return false, vm.doCall(L[0], nil, inst.stores[0])
	case OpCallfi:
		return false, vm.doCall(L[0], []uint32{L[1]}, inst.stores[0])
	case OpCallfii:
		return false, vm.doCall(L[0], []uint32{L[1], L[2]}, inst.stores[0])
	case OpCallfiii:
		return false, vm.doCall(L[0], []uint32{L[1], L[2], L[3]}, inst.stores[0])

	// --- Save / restore / undo ---
	case OpSave:
		result := uint32(0)
		if err := vm.SaveGame(L[0], vm.PC, inst.stores[0]); err != nil {
			result = 1
		}
		return false, store1(result)
	case OpRestore:
		if err := vm.RestoreGame(L[0]); err != nil {
			return false, store1(1)
		}
		return false, nil
	case OpSaveundo:
		result := uint32(0)
		if err := vm.SaveUndo(vm.PC, inst.stores[0]); err != nil {
			result = 1
		}
		return false, store1(result)
	case OpRestoreundo:
		if err := vm.RestoreUndo(); err != nil {
			return false, store1(1)
		}
		return false, nil
	case OpHasundo:
		result := uint32(1)
		if vm.HasUndo() {
			result = 0
		}
		return false, store1(result)
	case OpDiscardundo:
		vm.DiscardUndo()
		return false, nil

	// --- Glk / acceleration ---
	case OpGlk:
		result, err := vm.DispatchGlk(L[0], L[1])
		if err != nil {
			return false, err
		}
		return false, store1(result)
	case OpAccelfunc:
		vm.AccelFunc(L[0], L[1])
		return false, nil
	case OpAccelparam:
		vm.AccelParam(L[0], L[1])
		return false, nil

	// --- Single-precision float ---
	case OpNumtof:
		return false, store1(NumToF(L[0]))
	case OpFtonumz:
		return false, store1(FToNumZ(L[0]))
	case OpFtonumn:
		return false, store1(FToNumN(L[0]))
	case OpFadd:
		return false, store1(FAdd(L[0], L[1]))
	case OpFsub:
		return false, store1(FSub(L[0], L[1]))
	case OpFmul:
		return false, store1(FMul(L[0], L[1]))
	case OpFdiv:
		return false, store1(FDiv(L[0], L[1]))
	case OpFmod:
		return false, store1(FMod(L[0], L[1]))
	case OpFneg:
		return false, store1(FNeg(L[0]))
	case OpCeil:
		return false, store1(FCeil(L[0]))
	case OpFloor:
		return false, store1(FFloor(L[0]))
	case OpSqrt:
		return false, store1(FSqrt(L[0]))
	case OpExp:
		return false, store1(FExp(L[0]))
	case OpLog:
		return false, store1(FLog(L[0]))
	case OpPow:
		return false, store1(FPow(L[0], L[1]))
	case OpSin:
		return false, store1(FSin(L[0]))
	case OpCos:
		return false, store1(FCos(L[0]))
	case OpTan:
		return false, store1(FTan(L[0]))
	case OpAsin:
		return false, store1(FAsin(L[0]))
	case OpAcos:
		return false, store1(FAcos(L[0]))
	case OpAtan:
		return false, store1(FAtan(L[0]))
	case OpAtan2:
		return false, store1(FAtan2(L[0], L[1]))

	// --- Single-precision float branches ---
	case OpJfeq:
		return branchIf(floatsWithinTolerance(bitsToF32(L[0]), bitsToF32(L[1]), bitsToF32(L[2])), L[3])
	case OpJfne:
		return branchIf(!floatsWithinTolerance(bitsToF32(L[0]), bitsToF32(L[1]), bitsToF32(L[2])), L[3])
	case OpJflt:
		lt, _, _ := floatCompare(float64(bitsToF32(L[0])), float64(bitsToF32(L[1])))
		return branchIf(lt, L[2])
	case OpJfle:
		lt, eq, _ := floatCompare(float64(bitsToF32(L[0])), float64(bitsToF32(L[1])))
		return branchIf(lt || eq, L[2])
	case OpJfgt:
		_, _, gt := floatCompare(float64(bitsToF32(L[0])), float64(bitsToF32(L[1])))
		return branchIf(gt, L[2])
	case OpJfge:
		_, eq, gt := floatCompare(float64(bitsToF32(L[0])), float64(bitsToF32(L[1])))
		return branchIf(gt || eq, L[2])
	case OpJisnan:
		return branchIf(math.IsNaN(float64(bitsToF32(L[0]))), L[1])
	case OpJisinf:
		return branchIf(math.IsInf(float64(bitsToF32(L[0])), 0), L[1])

	// --- Double-precision ---
	case OpNumtod:
		hi, lo := NumToD(L[0])
		return false, store2(hi, lo)
	case OpDtonumz:
		return false, store1(DToNumZ(L[0], L[1]))
	case OpDtonumn:
		return false, store1(DToNumN(L[0], L[1]))
	case OpDtof:
		return false, store1(DToF(L[0], L[1]))
	case OpFtod:
		hi, lo := FToD(L[0])
		return false, store2(hi, lo)
	case OpDadd:
		hi, lo := DAdd(L[0], L[1], L[2], L[3])
		return false, store2(hi, lo)
	case OpDsub:
		hi, lo := DSub(L[0], L[1], L[2], L[3])
		return false, store2(hi, lo)
	case OpDmul:
		hi, lo := DMul(L[0], L[1], L[2], L[3])
		return false, store2(hi, lo)
	case OpDdiv:
		hi, lo := DDiv(L[0], L[1], L[2], L[3])
		return false, store2(hi, lo)
	case OpDmod:
		hi, lo := DMod(L[0], L[1], L[2], L[3])
		return false, store2(hi, lo)
	case OpDfloor:
		hi, lo := DFloor(L[0], L[1])
		return false, store2(hi, lo)
	case OpDceil:
		hi, lo := DCeil(L[0], L[1])
		return false, store2(hi, lo)

	// --- Double-precision branches ---
	case OpJdeq:
		cond := doublesWithinTolerance(pairToF64(L[0], L[1]), pairToF64(L[2], L[3]), pairToF64(L[4], L[5]))
		return branchIf(cond, L[6])
	case OpJdne:
		cond := !doublesWithinTolerance(pairToF64(L[0], L[1]), pairToF64(L[2], L[3]), pairToF64(L[4], L[5]))
		return branchIf(cond, L[6])
	case OpJdlt:
		lt, _, _ := floatCompare(pairToF64(L[0], L[1]), pairToF64(L[2], L[3]))
		return branchIf(lt, L[4])
	case OpJdle:
		lt, eq, _ := floatCompare(pairToF64(L[0], L[1]), pairToF64(L[2], L[3]))
		return branchIf(lt || eq, L[4])
	case OpJdgt:
		_, _, gt := floatCompare(pairToF64(L[0], L[1]), pairToF64(L[2], L[3]))
		return branchIf(gt, L[4])
	case OpJdge:
		_, eq, gt := floatCompare(pairToF64(L[0], L[1]), pairToF64(L[2], L[3]))
		return branchIf(gt || eq, L[4])
	case OpJdisnan:
		return branchIf(math.IsNaN(pairToF64(L[0], L[1])), L[2])
	case OpJdisinf:
		return branchIf(math.IsInf(pairToF64(L[0], L[1]), 0), L[2])

	default:
		return true, ErrIllegalOpcode
	}
}

// doBranch implements the branch-offset convention shared by every jump
// and conditional-branch opcode (spec.md §4.2): offset 0 acts as
// `return 0`, offset 1 as `return 1`; any other value is a signed
// displacement from the address of the instruction following the
// branch, minus 2.
func (vm *VM) doBranch(inst decodedInstruction, offset uint32) (bool, error) {
	switch int32(offset) {
	case 0:
		return vm.Return(0)
	case 1:
		return vm.Return(1)
	default:
		vm.PC = inst.nextPC + offset - 2
		return false, nil
	}
}

// popArgs pops argc words off the value stack in call/glk order,
// returning them in natural left-to-right order.
func (vm *VM) popArgs(argc uint32) ([]uint32, error) {
	args := make([]uint32, argc)
	for i := uint32(0); i < argc; i++ {
		v, err := vm.Stack.Pop32()
		if err != nil {
			return nil, err
		}
		args[argc-1-i] = v
	}
	return args, nil
}

// doCall dispatches a function call through the accelerated-function
// table first, falling back to pushing a call stub and entering the
// bytecode routine normally (spec.md §4.3, §6).
func (vm *VM) doCall(addr uint32, args []uint32, resultSlot operandSlot) error {
	if result, handled, err := vm.tryAccelCall(addr, args); err != nil {
		return err
	} else if handled {
		return vm.storeResult(resultSlot, result, 4)
	}

	destType, destAddr := vm.stubFromSlot(resultSlot)
	stub := CallStub{DestType: destType, DestAddr: destAddr, PC: vm.PC, FP: vm.Stack.FP()}
	if err := vm.Stack.PushCallStub(stub); err != nil {
		return err
	}
	return vm.EnterFunction(addr, args)
}

// stubFromSlot converts a decoded store operand into the CallStub
// dest fields resumeFromStub expects, resolving RAM-relative addresses
// to absolute ones (spec.md §3).
func (vm *VM) stubFromSlot(slot operandSlot) (destType uint32, destAddr uint32) {
	switch slot.mode {
	case ModeStack:
		return DestStack, 0
	case ModeLocal1, ModeLocal2, ModeLocal4:
		return DestLocal, slot.addr
	case ModeAddr1, ModeAddr2, ModeAddr4:
		return DestMemory, slot.addr
	case ModeRAM1, ModeRAM2, ModeRAM4:
		return DestMemory, vm.Mem.RAMStart() + slot.addr
	default:
		return DestDiscard, 0
	}
}

// restartExec implements the `restart` opcode: reload memory from the
// original image, reset the stack and I/O configuration, and re-enter
// the start function (spec.md §4.4).
func (vm *VM) restartExec() error {
	if err := vm.Mem.Restart(); err != nil {
		return err
	}
	stack, err := NewStack(vm.Stack.Size())
	if err != nil {
		return err
	}
	vm.Stack = stack
	vm.ioSystem = IOSystemNull
	vm.ioRock = 0
	vm.stringTbl = vm.Header.DecodingTbl
	vm.pendingString = nil
	vm.pendingNum = nil
	return vm.EnterFunction(vm.Header.StartFunc, nil)
}

// bitAddrAndIndex resolves the (byte address, bit index) pair addressed
// by aloadbit/astorebit's signed bit offset, using floor division so
// negative offsets walk backward through memory a bit at a time rather
// than wrapping (spec.md §4.4).
func bitAddrAndIndex(base uint32, bitOffset int32) (addr uint32, bit uint) {
	byteOff := bitOffset >> 3
	bit = uint(bitOffset & 7)
	addr = uint32(int64(base) + int64(byteOff))
	return addr, bit
}

// floatsWithinTolerance implements jfeq/jfne's comparison: a negative
// tolerance requires exact equality, otherwise the two values must be
// within |bound| of each other. NaN never compares equal.
func floatsWithinTolerance(a, b, bound float32) bool {
	if math.IsNaN(float64(a)) || math.IsNaN(float64(b)) {
		return false
	}
	if bound < 0 {
		return a == b
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff <= bound
}

// doublesWithinTolerance mirrors floatsWithinTolerance for jdeq/jdne's
// double-precision tolerance operand.
func doublesWithinTolerance(a, b, bound float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return false
	}
	if bound < 0 {
		return a == b
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff <= bound
}
