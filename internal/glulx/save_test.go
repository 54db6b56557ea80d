package glulx

import "testing"

func newTestVMFull(t *testing.T) *VM {
	t.Helper()
	vm := newTestVMMem(t, 1024)
	stack, err := NewStack(256)
	if err != nil {
		t.Fatalf("NewStack: %v", err)
	}
	vm.Stack = stack
	vm.accelParams = make(map[uint32]uint32)
	vm.accelFuncs = make(map[uint32]uint32)
	vm.undo = newUndoChain(defaultUndoDepth)
	return vm
}

type fakeSaveStore struct {
	data map[uint32][]byte
}

func newFakeSaveStore() *fakeSaveStore {
	return &fakeSaveStore{data: make(map[uint32][]byte)}
}

func (f *fakeSaveStore) WriteSave(streamID uint32, data []byte) error {
	f.data[streamID] = append([]byte(nil), data...)
	return nil
}

func (f *fakeSaveStore) ReadSave(streamID uint32) ([]byte, error) {
	d, ok := f.data[streamID]
	if !ok {
		return nil, ErrBadSaveFile
	}
	return d, nil
}

func TestSaveRestoreRoundTripWritesMinusOneAtResumePoint(t *testing.T) {
	vm := newTestVMFull(t)
	vm.Save = newFakeSaveStore()
	vm.Stack.PushFrame(nil)
	vm.Mem.WriteWord(100, 0xCAFEBABE)

	resultSlot := operandSlot{mode: ModeAddr4, addr: 500}
	if err := vm.SaveGame(1, 0x40, resultSlot); err != nil {
		t.Fatalf("SaveGame: %v", err)
	}

	// Mutate state after saving so restore has something to undo.
	vm.Mem.WriteWord(100, 0)
	vm.PC = 0x999

	if err := vm.RestoreGame(1); err != nil {
		t.Fatalf("RestoreGame: %v", err)
	}
	if got := vm.Mem.ReadWord(100); got != 0xCAFEBABE {
		t.Fatalf("restored RAM word = 0x%x, want 0xCAFEBABE", got)
	}
	if vm.PC != 0x40 {
		t.Fatalf("restored PC = 0x%x, want 0x40", vm.PC)
	}
	if got := vm.Mem.ReadWord(500); got != 0xFFFFFFFF {
		t.Fatalf("resume slot = 0x%x, want 0xFFFFFFFF", got)
	}
}

func TestSaveUndoRestoreUndoRoundTrip(t *testing.T) {
	vm := newTestVMFull(t)
	vm.Stack.PushFrame(nil)
	vm.Mem.WriteWord(100, 111)

	resultSlot := operandSlot{mode: ModeAddr4, addr: 500}
	if err := vm.SaveUndo(0x40, resultSlot); err != nil {
		t.Fatalf("SaveUndo: %v", err)
	}

	vm.Mem.WriteWord(100, 222)
	if !vm.HasUndo() {
		t.Fatal("HasUndo should be true after SaveUndo")
	}

	if err := vm.RestoreUndo(); err != nil {
		t.Fatalf("RestoreUndo: %v", err)
	}
	if got := vm.Mem.ReadWord(100); got != 111 {
		t.Fatalf("restored word = %d, want 111", got)
	}
	if vm.HasUndo() {
		t.Fatal("HasUndo should be false after the only snapshot is popped")
	}
}

func TestRestoreUndoWithNoSnapshotReturnsError(t *testing.T) {
	vm := newTestVMFull(t)
	if err := vm.RestoreUndo(); err != ErrNoUndo {
		t.Fatalf("RestoreUndo with no snapshot = %v, want ErrNoUndo", err)
	}
}

func TestUndoChainDropsOldestBeyondDepth(t *testing.T) {
	u := newUndoChain(2)
	u.push(saveSnapshot{pc: 1})
	u.push(saveSnapshot{pc: 2})
	u.push(saveSnapshot{pc: 3})

	snap, ok := u.pop()
	if !ok || snap.pc != 3 {
		t.Fatalf("expected most recent snapshot pc=3, got %+v ok=%v", snap, ok)
	}
	snap, ok = u.pop()
	if !ok || snap.pc != 2 {
		t.Fatalf("expected snapshot pc=2 after oldest dropped, got %+v ok=%v", snap, ok)
	}
	if u.has() {
		t.Fatal("undo chain should be empty after draining both retained snapshots")
	}
}

func TestSaveUndoPreservesPendingStringDecode(t *testing.T) {
	vm := newTestVMFull(t)
	vm.Stack.PushFrame(nil)

	vm.pendingString = &stringDecodeState{frames: []stringFrame{
		{kind: frameHuffman, rootAddr: 300, byteAddr: 310, bitIdx: 3},
	}}

	resultSlot := operandSlot{mode: ModeAddr4, addr: 500}
	if err := vm.SaveUndo(0x40, resultSlot); err != nil {
		t.Fatalf("SaveUndo: %v", err)
	}

	// Mutate the live decode state after capture to confirm the snapshot
	// copy is unaffected.
	vm.pendingString.frames[0].byteAddr = 999
	vm.pendingString = nil

	if err := vm.RestoreUndo(); err != nil {
		t.Fatalf("RestoreUndo: %v", err)
	}
	if vm.pendingString == nil || len(vm.pendingString.frames) != 1 {
		t.Fatalf("expected restored pendingString with one frame, got %+v", vm.pendingString)
	}
	got := vm.pendingString.frames[0]
	want := stringFrame{kind: frameHuffman, rootAddr: 300, byteAddr: 310, bitIdx: 3}
	if got != want {
		t.Fatalf("restored frame = %+v, want %+v", got, want)
	}
}

func TestSaveSnapshotSerializeDeserializeRoundTripPreservesPendingNum(t *testing.T) {
	vm := newTestVMFull(t)
	vm.Stack.PushFrame(nil)
	vm.pendingNum = &numDecodeState{digits: []byte("-42"), idx: 1}

	snap := vm.captureSnapshot(0x80, operandSlot{mode: ModeStack})
	data := snap.serialize()

	got, err := deserializeSnapshot(data)
	if err != nil {
		t.Fatalf("deserializeSnapshot: %v", err)
	}
	if got.pendingNum == nil {
		t.Fatal("expected pendingNum to survive serialize/deserialize")
	}
	if string(got.pendingNum.digits) != "-42" || got.pendingNum.idx != 1 {
		t.Fatalf("pendingNum round trip = %+v, want digits=-42 idx=1", got.pendingNum)
	}
}

func TestSaveSnapshotSerializeDeserializeRoundTrip(t *testing.T) {
	vm := newTestVMFull(t)
	vm.Stack.PushFrame(nil)
	vm.Mem.WriteWord(100, 0x12345678)

	snap := vm.captureSnapshot(0x80, operandSlot{mode: ModeStack})
	data := snap.serialize()

	got, err := deserializeSnapshot(data)
	if err != nil {
		t.Fatalf("deserializeSnapshot: %v", err)
	}
	if got.pc != snap.pc || got.fp != snap.fp || got.sp != snap.sp {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, snap)
	}
	if len(got.ramDiff) != len(snap.ramDiff) {
		t.Fatalf("ram diff length mismatch: got %d want %d", len(got.ramDiff), len(snap.ramDiff))
	}
}
