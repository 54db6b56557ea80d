package glulx

import "testing"

// encodeFunctionHeader writes a minimal function header (type byte, locals
// groups, 00 00 terminator) at addr and returns the entry PC.
func encodeFunctionHeader(vm *VM, addr uint32, ftype byte, groups []LocalGroup) uint32 {
	cursor := addr
	vm.Mem.WriteByte(cursor, uint32(ftype))
	cursor++
	for _, g := range groups {
		vm.Mem.WriteByte(cursor, uint32(g.Size))
		vm.Mem.WriteByte(cursor+1, uint32(g.Count))
		cursor += 2
	}
	vm.Mem.WriteByte(cursor, 0)
	vm.Mem.WriteByte(cursor+1, 0)
	return cursor + 2
}

func TestEnterFunctionStackArgs(t *testing.T) {
	vm := newTestVMFull(t)
	entry := encodeFunctionHeader(vm, 100, FuncTypeStackArgs, nil)

	if err := vm.EnterFunction(100, []uint32{10, 20, 30}); err != nil {
		t.Fatalf("EnterFunction: %v", err)
	}
	if vm.PC != entry {
		t.Fatalf("PC = %d, want entry %d", vm.PC, entry)
	}
	// Stack-args layout pushes args in reverse then an arg count on top.
	count, err := vm.Stack.Pop32()
	if err != nil || count != 3 {
		t.Fatalf("arg count = %d, %v, want 3", count, err)
	}
	first, _ := vm.Stack.Pop32()
	if first != 10 {
		t.Fatalf("top arg after count = %d, want 10 (last arg pushed first, so the first arg is on top)", first)
	}
}

func TestEnterFunctionLocalArgs(t *testing.T) {
	vm := newTestVMFull(t)
	groups := []LocalGroup{{Size: 4, Count: 2}}
	encodeFunctionHeader(vm, 100, FuncTypeLocalArgs, groups)

	if err := vm.EnterFunction(100, []uint32{111, 222}); err != nil {
		t.Fatalf("EnterFunction: %v", err)
	}
	if got := vm.readLocalByOffset(0); got != 111 {
		t.Fatalf("local[0] = %d, want 111", got)
	}
	if got := vm.readLocalByOffset(4); got != 222 {
		t.Fatalf("local[1] = %d, want 222", got)
	}
}

func TestReturnThreadsThroughCallStub(t *testing.T) {
	vm := newTestVMFull(t)
	vm.Stack.PushFrame(nil) // outermost frame, no stub beneath

	calleeEntry := encodeFunctionHeader(vm, 200, FuncTypeStackArgs, nil)

	resultSlot := operandSlot{mode: ModeAddr4, addr: 900}
	stub := CallStub{DestType: DestMemory, DestAddr: 900, PC: 0x50, FP: vm.Stack.FP()}
	if err := vm.Stack.PushCallStub(stub); err != nil {
		t.Fatalf("PushCallStub: %v", err)
	}
	if err := vm.EnterFunction(200, nil); err != nil {
		t.Fatalf("EnterFunction: %v", err)
	}
	if vm.PC != calleeEntry {
		t.Fatalf("PC = %d, want %d", vm.PC, calleeEntry)
	}

	terminated, err := vm.Return(77)
	if err != nil {
		t.Fatalf("Return: %v", err)
	}
	if terminated {
		t.Fatal("Return should not terminate when an outer frame remains")
	}
	if vm.PC != 0x50 {
		t.Fatalf("PC after return = 0x%x, want 0x50", vm.PC)
	}
	if got := vm.Mem.ReadWord(900); got != 77 {
		t.Fatalf("result at resume slot addr = %d, want 77", got)
	}
	_ = resultSlot
}

func TestReturnFromOutermostFrameTerminates(t *testing.T) {
	vm := newTestVMFull(t)
	encodeFunctionHeader(vm, 100, FuncTypeStackArgs, nil)
	if err := vm.EnterFunction(100, nil); err != nil {
		t.Fatalf("EnterFunction: %v", err)
	}

	terminated, err := vm.Return(1)
	if err != nil {
		t.Fatalf("Return: %v", err)
	}
	if !terminated {
		t.Fatal("Return from the outermost frame should terminate")
	}
}

func TestTailCallPreservesOriginalStub(t *testing.T) {
	vm := newTestVMFull(t)
	vm.Stack.PushFrame(nil)

	stub := CallStub{DestType: DestMemory, DestAddr: 900, PC: 0x60, FP: vm.Stack.FP()}
	if err := vm.Stack.PushCallStub(stub); err != nil {
		t.Fatalf("PushCallStub: %v", err)
	}

	firstEntry := encodeFunctionHeader(vm, 100, FuncTypeStackArgs, nil)
	if err := vm.EnterFunction(100, nil); err != nil {
		t.Fatalf("EnterFunction: %v", err)
	}
	if vm.PC != firstEntry {
		t.Fatalf("PC = %d, want %d", vm.PC, firstEntry)
	}

	secondEntry := encodeFunctionHeader(vm, 300, FuncTypeStackArgs, nil)
	if err := vm.TailCall(300, 0); err != nil {
		t.Fatalf("TailCall: %v", err)
	}
	if vm.PC != secondEntry {
		t.Fatalf("PC after tail call = %d, want %d", vm.PC, secondEntry)
	}

	// The tail call discarded its own frame without popping a stub, so
	// returning from it should still resume the original caller.
	terminated, err := vm.Return(5)
	if err != nil {
		t.Fatalf("Return: %v", err)
	}
	if terminated {
		t.Fatal("Return should resume the preserved original stub, not terminate")
	}
	if vm.PC != 0x60 {
		t.Fatalf("PC after return = 0x%x, want 0x60", vm.PC)
	}
	if got := vm.Mem.ReadWord(900); got != 5 {
		t.Fatalf("result at resume slot addr = %d, want 5", got)
	}
}
