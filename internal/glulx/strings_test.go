package glulx

import "testing"

type fakeOutput struct {
	chars []uint32
}

func (f *fakeOutput) PutChar(ch uint32) error {
	f.chars = append(f.chars, ch)
	return nil
}

func TestStreamStrE0LiteralEmitsBytesVerbatim(t *testing.T) {
	vm := newTestVMMem(t, 512)
	out := &fakeOutput{}
	vm.Output = out
	vm.ioSystem = IOSystemGlk

	// "Hi\0" as an E0 C-string literal.
	vm.Mem.WriteByte(100, uint32(tagCString))
	vm.Mem.WriteByte(101, 'H')
	vm.Mem.WriteByte(102, 'i')
	vm.Mem.WriteByte(103, 0)

	if err := vm.StreamStr(100); err != nil {
		t.Fatalf("StreamStr: %v", err)
	}
	if len(out.chars) != 2 || out.chars[0] != 'H' || out.chars[1] != 'i' {
		t.Fatalf("StreamStr E0 output = %v, want [H i]", out.chars)
	}
}

func TestStreamStrE0NullIOSystemEmitsNothing(t *testing.T) {
	vm := newTestVMMem(t, 512)
	out := &fakeOutput{}
	vm.Output = out
	vm.ioSystem = IOSystemNull

	vm.Mem.WriteByte(100, uint32(tagCString))
	vm.Mem.WriteByte(101, 'X')
	vm.Mem.WriteByte(102, 0)

	if err := vm.StreamStr(100); err != nil {
		t.Fatalf("StreamStr: %v", err)
	}
	if len(out.chars) != 0 {
		t.Fatalf("expected no output under IOSystemNull, got %v", out.chars)
	}
}

func TestStreamStrHuffmanTwoLeafTree(t *testing.T) {
	vm := newTestVMMem(t, 512)
	out := &fakeOutput{}
	vm.Output = out
	vm.ioSystem = IOSystemGlk

	// A root branch node with left='A' (char leaf) and right=terminator.
	// Node layout: 1-byte type + up to two 4-byte fields.
	const root, leafA, leafTerm = 200, 210, 220
	vm.Mem.WriteByte(root, uint32(nodeBranch))
	vm.Mem.WriteWord(root+1, leafA)
	vm.Mem.WriteWord(root+5, leafTerm)

	vm.Mem.WriteByte(leafA, uint32(nodeChar))
	vm.Mem.WriteByte(leafA+1, 'A')

	vm.Mem.WriteByte(leafTerm, uint32(nodeTerminator))

	vm.stringTbl = 300
	vm.Mem.WriteWord(vm.stringTbl+8, root)

	// The encoded string: tag byte, then a single data byte whose low bit
	// selects 'A' (bit 0), followed by a second pass whose low bit selects
	// the terminator (bit 1).
	vm.Mem.WriteByte(400, uint32(tagHuffman))
	vm.Mem.WriteByte(401, 0x02) // bit0=0 -> 'A', bit1=1 -> terminator

	if err := vm.StreamStr(400); err != nil {
		t.Fatalf("StreamStr: %v", err)
	}
	if len(out.chars) != 1 || out.chars[0] != 'A' {
		t.Fatalf("StreamStr Huffman output = %v, want [A]", out.chars)
	}
}

// TestStreamStrIndirectNodeCallsFunction drives the real VM.Step loop
// (not a direct StreamStr call) because an indirect string node
// suspends the decode to run bytecode: the called routine streams a
// character itself and returns, and decoding must resume afterward.
func TestStreamStrIndirectNodeCallsFunction(t *testing.T) {
	vm := newTestVMFull(t)
	out := &fakeOutput{}
	vm.Output = out
	vm.ioSystem = IOSystemGlk
	vm.Stack.PushFrame(nil) // outermost frame beneath the streamstr caller

	const root, leafIndirect, leafTerm, fn = 500, 510, 520, 600
	vm.Mem.WriteByte(root, uint32(nodeBranch))
	vm.Mem.WriteWord(root+1, leafIndirect)
	vm.Mem.WriteWord(root+5, leafTerm)

	vm.Mem.WriteByte(leafIndirect, uint32(nodeIndirect))
	vm.Mem.WriteWord(leafIndirect+1, fn)

	vm.Mem.WriteByte(leafTerm, uint32(nodeTerminator))

	vm.stringTbl = 700
	vm.Mem.WriteWord(vm.stringTbl+8, root)

	vm.Mem.WriteByte(800, uint32(tagHuffman))
	vm.Mem.WriteByte(801, 0x02) // bit0=0 -> indirect leaf, bit1=1 -> terminator

	calleeEntry := encodeFunctionHeader(vm, fn, FuncTypeStackArgs, nil)
	addr := writeInstr(vm, calleeEntry, OpStreamchar, []encOperand{{ModeConst1, 'Q'}})
	writeInstr(vm, addr, OpReturn, []encOperand{{ModeConst0, 0}})

	writeInstr(vm, 100, OpStreamstr, []encOperand{{ModeConst4, 800}})
	vm.PC = 100

	for i := 0; i < 20; i++ {
		done, err := vm.Step()
		if err != nil {
			t.Fatalf("Step %d: %v", i, err)
		}
		if done {
			t.Fatalf("program terminated early at step %d", i)
		}
		if len(out.chars) > 0 {
			break
		}
	}
	if len(out.chars) != 1 || out.chars[0] != 'Q' {
		t.Fatalf("indirect node output = %v, want [Q]", out.chars)
	}
}

func TestStreamNumEmitsDigitsAndSign(t *testing.T) {
	vm := newTestVMMem(t, 512)
	out := &fakeOutput{}
	vm.Output = out
	vm.ioSystem = IOSystemGlk

	if err := vm.StreamNum(uint32(int32(-42))); err != nil {
		t.Fatalf("StreamNum: %v", err)
	}
	want := []uint32{'-', '4', '2'}
	if len(out.chars) != len(want) {
		t.Fatalf("StreamNum output = %v, want %v", out.chars, want)
	}
	for i := range want {
		if out.chars[i] != want[i] {
			t.Fatalf("StreamNum output = %v, want %v", out.chars, want)
		}
	}
}

func TestGetSetStringTable(t *testing.T) {
	vm := newTestVMMem(t, 512)
	vm.SetStringTable(0x1234)
	if vm.GetStringTable() != 0x1234 {
		t.Fatalf("GetStringTable = 0x%x, want 0x1234", vm.GetStringTable())
	}
}

func TestGetSetIOSys(t *testing.T) {
	vm := newTestVMMem(t, 512)
	vm.SetIOSys(uint32(IOSystemFilter), 0xABCD)
	mode, rock := vm.GetIOSys()
	if IOSystem(mode) != IOSystemFilter || rock != 0xABCD {
		t.Fatalf("GetIOSys = (%d, 0x%x), want (Filter, 0xABCD)", mode, rock)
	}
}
