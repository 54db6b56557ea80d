package glulx

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// saveFileMagic opens every serialized `save` snapshot handed to the
// host. `saveundo` snapshots stay in memory as saveSnapshot values and
// are never serialized.
var saveFileMagic = [4]byte{'Z', 'A', 'R', 'T'}

const saveFileVersion uint32 = 1

const defaultUndoDepth = 8

// SaveStore is the external collaborator `save`/`restore` write to and
// read from; like GlkDispatcher, it is a seam the VM core never
// implements a concrete backend for (spec.md §1, §4.6).
type SaveStore interface {
	WriteSave(streamID uint32, data []byte) error
	ReadSave(streamID uint32) ([]byte, error)
}

// saveSnapshot is the complete machine state needed to resume execution
// after a restore: registers, the whole stack, RAM (diffed against the
// loaded image), memory size, I/O configuration, and the heap's live
// blocks (spec.md §3 "Undo state: PC, FP, SP, stack contents, RAM diff,
// plus heap summary").
type saveSnapshot struct {
	pc        uint32
	fp        uint32
	sp        uint32
	memSize   uint32
	ioSystem  uint32
	ioRock    uint32
	stringTbl uint32

	// resultSlot is the store operand of the save/saveundo instruction
	// itself; restoring writes -1 there so the resumed code can tell a
	// restore apart from a fresh continuation (spec.md §4.6).
	resultSlot operandSlot

	stackBytes []byte
	ramDiff    []byte
	heapBase   uint32
	heapPairs  []uint32

	// pendingString/pendingNum carry an in-progress Filter-mode streamstr
	// or streamnum decode through the snapshot (spec.md §8, §9: a
	// saveundo/restoreundo taken while a 0x10 stub is pending must not
	// drop the continuation). nil when no decode was in progress.
	pendingString *stringDecodeState
	pendingNum    *numDecodeState
}

func (vm *VM) captureSnapshot(resumePC uint32, resultSlot operandSlot) saveSnapshot {
	stackCopy := make([]byte, vm.Stack.SP())
	copy(stackCopy, vm.Stack.Bytes()[:vm.Stack.SP()])

	return saveSnapshot{
		pc:            resumePC,
		fp:            vm.Stack.FP(),
		sp:            vm.Stack.SP(),
		memSize:       vm.Mem.Size(),
		ioSystem:      uint32(vm.ioSystem),
		ioRock:        vm.ioRock,
		stringTbl:     vm.stringTbl,
		resultSlot:    resultSlot,
		stackBytes:    stackCopy,
		ramDiff:       vm.Mem.RAMDiff(),
		heapBase:      vm.Mem.HeapStart(),
		heapPairs:     vm.Mem.HeapSummary(),
		pendingString: copyPendingString(vm.pendingString),
		pendingNum:    copyPendingNum(vm.pendingNum),
	}
}

// copyPendingString/copyPendingNum deep-copy the in-progress decode
// state so a captured snapshot is unaffected by frames pushed or popped
// after the capture (e.g. the rest of the filter routine that called
// save/saveundo continuing to run).
func copyPendingString(s *stringDecodeState) *stringDecodeState {
	if s == nil {
		return nil
	}
	return &stringDecodeState{frames: append([]stringFrame(nil), s.frames...)}
}

func copyPendingNum(s *numDecodeState) *numDecodeState {
	if s == nil {
		return nil
	}
	return &numDecodeState{digits: append([]byte(nil), s.digits...), idx: s.idx}
}

// applySnapshot installs a captured snapshot as current VM state and
// writes resultWord (-1 as uint32, by convention) into the location the
// original save/saveundo instruction wanted its own result stored
// (spec.md §4.6).
func (vm *VM) applySnapshot(snap saveSnapshot) error {
	if err := vm.Mem.SetMemSize(snap.memSize); err != nil {
		// SetMemSize refuses sizes below the header's endMem; a snapshot
		// taken after the image grew past endMem can still shrink back
		// down to it, so clamp rather than fail outright.
		if snap.memSize < vm.Header.EndMem {
			return err
		}
	}
	var protected []byte
	if vm.Mem.protectLength > 0 {
		protected = vm.Mem.ReadBlock(vm.Mem.protectStart, int(vm.Mem.protectLength))
	}
	vm.Mem.ApplyRAMDiff(snap.ramDiff)
	if protected != nil {
		vm.Mem.WriteBlock(vm.Mem.protectStart, protected)
	}
	vm.Mem.RestoreHeap(snap.heapBase, snap.heapPairs)

	stack, err := NewStack(vm.Stack.Size())
	if err != nil {
		return err
	}
	copy(stack.Bytes(), snap.stackBytes)
	stack.SetSP(snap.sp)
	stack.SetFP(snap.fp)
	vm.Stack = stack

	vm.ioSystem = IOSystem(snap.ioSystem)
	vm.ioRock = snap.ioRock
	vm.stringTbl = snap.stringTbl
	vm.PC = snap.pc
	vm.pendingString = copyPendingString(snap.pendingString)
	vm.pendingNum = copyPendingNum(snap.pendingNum)

	return vm.storeResult(snap.resultSlot, 0xFFFFFFFF, 4)
}

func (s saveSnapshot) serialize() []byte {
	var buf bytes.Buffer
	buf.Write(saveFileMagic[:])
	writeU32(&buf, saveFileVersion)
	writeU32(&buf, s.pc)
	writeU32(&buf, s.fp)
	writeU32(&buf, s.sp)
	writeU32(&buf, s.memSize)
	writeU32(&buf, s.ioSystem)
	writeU32(&buf, s.ioRock)
	writeU32(&buf, s.stringTbl)
	writeU32(&buf, uint32(s.resultSlot.mode))
	writeU32(&buf, s.resultSlot.addr)
	writeU32(&buf, s.heapBase)

	writeU32(&buf, uint32(len(s.stackBytes)))
	buf.Write(s.stackBytes)
	writeU32(&buf, uint32(len(s.ramDiff)))
	buf.Write(s.ramDiff)
	writeU32(&buf, uint32(len(s.heapPairs)))
	for _, p := range s.heapPairs {
		writeU32(&buf, p)
	}

	writePendingString(&buf, s.pendingString)
	writePendingNum(&buf, s.pendingNum)
	return buf.Bytes()
}

// writePendingString/writePendingNum encode the paused decode state as a
// length-prefixed record, with an all-ones sentinel count meaning "no
// decode in progress" (spec.md §9 resume protocol).
func writePendingString(buf *bytes.Buffer, s *stringDecodeState) {
	if s == nil {
		writeU32(buf, 0xFFFFFFFF)
		return
	}
	writeU32(buf, uint32(len(s.frames)))
	for _, f := range s.frames {
		writeU32(buf, uint32(f.kind))
		writeU32(buf, f.rootAddr)
		writeU32(buf, f.byteAddr)
		writeU32(buf, uint32(f.bitIdx))
		writeU32(buf, f.addr)
	}
}

func writePendingNum(buf *bytes.Buffer, s *numDecodeState) {
	if s == nil {
		writeU32(buf, 0xFFFFFFFF)
		return
	}
	writeU32(buf, uint32(len(s.digits)))
	buf.Write(s.digits)
	writeU32(buf, uint32(s.idx))
}

func deserializeSnapshot(data []byte) (saveSnapshot, error) {
	r := bytes.NewReader(data)
	var magic [4]byte
	if _, err := r.Read(magic[:]); err != nil || magic != saveFileMagic {
		return saveSnapshot{}, errors.Wrap(ErrBadSaveFile, "bad magic")
	}
	version, err := readU32(r)
	if err != nil || version != saveFileVersion {
		return saveSnapshot{}, errors.Wrap(ErrBadSaveFile, "unsupported version")
	}

	var s saveSnapshot
	fields := []*uint32{&s.pc, &s.fp, &s.sp, &s.memSize, &s.ioSystem, &s.ioRock, &s.stringTbl}
	for _, f := range fields {
		v, err := readU32(r)
		if err != nil {
			return saveSnapshot{}, errors.Wrap(ErrBadSaveFile, "truncated header")
		}
		*f = v
	}
	mode, err := readU32(r)
	if err != nil {
		return saveSnapshot{}, errors.Wrap(ErrBadSaveFile, "truncated result slot")
	}
	s.resultSlot.mode = byte(mode)
	if s.resultSlot.addr, err = readU32(r); err != nil {
		return saveSnapshot{}, errors.Wrap(ErrBadSaveFile, "truncated result slot")
	}
	if s.heapBase, err = readU32(r); err != nil {
		return saveSnapshot{}, errors.Wrap(ErrBadSaveFile, "truncated heap base")
	}

	stackLen, err := readU32(r)
	if err != nil {
		return saveSnapshot{}, errors.Wrap(ErrBadSaveFile, "truncated stack length")
	}
	s.stackBytes = make([]byte, stackLen)
	if _, err := r.Read(s.stackBytes); err != nil {
		return saveSnapshot{}, errors.Wrap(ErrBadSaveFile, "truncated stack bytes")
	}

	ramLen, err := readU32(r)
	if err != nil {
		return saveSnapshot{}, errors.Wrap(ErrBadSaveFile, "truncated ram length")
	}
	s.ramDiff = make([]byte, ramLen)
	if _, err := r.Read(s.ramDiff); err != nil {
		return saveSnapshot{}, errors.Wrap(ErrBadSaveFile, "truncated ram diff")
	}

	pairCount, err := readU32(r)
	if err != nil {
		return saveSnapshot{}, errors.Wrap(ErrBadSaveFile, "truncated heap pair count")
	}
	s.heapPairs = make([]uint32, pairCount)
	for i := range s.heapPairs {
		if s.heapPairs[i], err = readU32(r); err != nil {
			return saveSnapshot{}, errors.Wrap(ErrBadSaveFile, "truncated heap pairs")
		}
	}

	if s.pendingString, err = readPendingString(r); err != nil {
		return saveSnapshot{}, err
	}
	if s.pendingNum, err = readPendingNum(r); err != nil {
		return saveSnapshot{}, err
	}

	return s, nil
}

func readPendingString(r *bytes.Reader) (*stringDecodeState, error) {
	count, err := readU32(r)
	if err != nil {
		return nil, errors.Wrap(ErrBadSaveFile, "truncated pending string")
	}
	if count == 0xFFFFFFFF {
		return nil, nil
	}
	frames := make([]stringFrame, count)
	for i := range frames {
		kind, err := readU32(r)
		if err != nil {
			return nil, errors.Wrap(ErrBadSaveFile, "truncated pending string frame")
		}
		root, err := readU32(r)
		if err != nil {
			return nil, errors.Wrap(ErrBadSaveFile, "truncated pending string frame")
		}
		byteAddr, err := readU32(r)
		if err != nil {
			return nil, errors.Wrap(ErrBadSaveFile, "truncated pending string frame")
		}
		bitIdx, err := readU32(r)
		if err != nil {
			return nil, errors.Wrap(ErrBadSaveFile, "truncated pending string frame")
		}
		addr, err := readU32(r)
		if err != nil {
			return nil, errors.Wrap(ErrBadSaveFile, "truncated pending string frame")
		}
		frames[i] = stringFrame{
			kind:     stringFrameKind(kind),
			rootAddr: root,
			byteAddr: byteAddr,
			bitIdx:   byte(bitIdx),
			addr:     addr,
		}
	}
	return &stringDecodeState{frames: frames}, nil
}

func readPendingNum(r *bytes.Reader) (*numDecodeState, error) {
	count, err := readU32(r)
	if err != nil {
		return nil, errors.Wrap(ErrBadSaveFile, "truncated pending num")
	}
	if count == 0xFFFFFFFF {
		return nil, nil
	}
	digits := make([]byte, count)
	if _, err := r.Read(digits); err != nil {
		return nil, errors.Wrap(ErrBadSaveFile, "truncated pending num digits")
	}
	idx, err := readU32(r)
	if err != nil {
		return nil, errors.Wrap(ErrBadSaveFile, "truncated pending num index")
	}
	return &numDecodeState{digits: digits, idx: int(idx)}, nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// SaveGame implements `save`: serialize a snapshot and hand it to the
// host-provided SaveStore under streamID.
func (vm *VM) SaveGame(streamID uint32, resumePC uint32, resultSlot operandSlot) error {
	if vm.Save == nil {
		return ErrNoSaveStore
	}
	snap := vm.captureSnapshot(resumePC, resultSlot)
	return vm.Save.WriteSave(streamID, snap.serialize())
}

// RestoreGame implements `restore`: load a snapshot from the host and
// install it, resuming at the original save point with -1 stored there.
func (vm *VM) RestoreGame(streamID uint32) error {
	if vm.Save == nil {
		return ErrNoSaveStore
	}
	data, err := vm.Save.ReadSave(streamID)
	if err != nil {
		return err
	}
	snap, err := deserializeSnapshot(data)
	if err != nil {
		return err
	}
	return vm.applySnapshot(snap)
}

// SaveUndo implements `saveundo`: push a snapshot onto the in-memory
// undo ring buffer (depth defaultUndoDepth, oldest dropped first).
func (vm *VM) SaveUndo(resumePC uint32, resultSlot operandSlot) error {
	vm.undo.push(vm.captureSnapshot(resumePC, resultSlot))
	return nil
}

// RestoreUndo implements `restoreundo`: pop and install the most recent
// undo snapshot.
func (vm *VM) RestoreUndo() error {
	snap, ok := vm.undo.pop()
	if !ok {
		return ErrNoUndo
	}
	return vm.applySnapshot(snap)
}

// HasUndo implements `hasundo`.
func (vm *VM) HasUndo() bool { return vm.undo.has() }

// DiscardUndo implements `discardundo`.
func (vm *VM) DiscardUndo() { vm.undo.discard() }

// undoChain is a small ring buffer of in-memory snapshots.
type undoChain struct {
	depth int
	snaps []saveSnapshot
}

func newUndoChain(depth int) *undoChain {
	return &undoChain{depth: depth}
}

func (u *undoChain) push(s saveSnapshot) {
	u.snaps = append(u.snaps, s)
	if len(u.snaps) > u.depth {
		u.snaps = u.snaps[1:]
	}
}

func (u *undoChain) pop() (saveSnapshot, bool) {
	if len(u.snaps) == 0 {
		return saveSnapshot{}, false
	}
	s := u.snaps[len(u.snaps)-1]
	u.snaps = u.snaps[:len(u.snaps)-1]
	return s, true
}

func (u *undoChain) has() bool { return len(u.snaps) > 0 }

func (u *undoChain) discard() { u.snaps = nil }
