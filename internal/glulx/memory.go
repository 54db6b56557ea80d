package glulx

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// GlulxMagic is the 4-byte signature ("Glul") that opens every story
// file header (spec.md §6).
const GlulxMagic uint32 = 0x476C756C

// HeaderSize is the length in bytes of the fixed Glulx header (spec.md §3).
const HeaderSize = 36

// Header is the first 36 bytes of a Glulx image, decoded.
type Header struct {
	Magic       uint32
	Version     uint32
	RAMStart    uint32
	ExtStart    uint32
	EndMem      uint32
	StackSize   uint32
	StartFunc   uint32
	DecodingTbl uint32
	Checksum    uint32
}

// ParseHeader decodes the fixed 36-byte Glulx header from the start of a
// story-file image. It does not validate the checksum (checksum
// verification is exposed separately via the `verify` opcode).
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, errors.Wrap(ErrBadImage, "image shorter than header")
	}
	h := Header{
		Magic:       binary.BigEndian.Uint32(data[0:4]),
		Version:     binary.BigEndian.Uint32(data[4:8]),
		RAMStart:    binary.BigEndian.Uint32(data[8:12]),
		ExtStart:    binary.BigEndian.Uint32(data[12:16]),
		EndMem:      binary.BigEndian.Uint32(data[16:20]),
		StackSize:   binary.BigEndian.Uint32(data[20:24]),
		StartFunc:   binary.BigEndian.Uint32(data[24:28]),
		DecodingTbl: binary.BigEndian.Uint32(data[28:32]),
		Checksum:    binary.BigEndian.Uint32(data[32:36]),
	}
	if h.Magic != GlulxMagic {
		return Header{}, errors.Wrapf(ErrBadImage, "bad magic 0x%08x", h.Magic)
	}
	if h.RAMStart > h.ExtStart || h.ExtStart > h.EndMem {
		return Header{}, errors.Wrap(ErrBadImage, "header region bounds out of order")
	}
	if h.StackSize == 0 || h.StackSize%256 != 0 {
		return Header{}, errors.Wrap(ErrBadImage, "stack size must be a nonzero multiple of 256")
	}
	return h, nil
}

// computeChecksum reproduces the `verify` opcode's checksum: the sum of
// every big-endian 32-bit word from offset 0 to endMem, treating the
// stored checksum word itself (offset 32) as zero and any byte beyond
// the supplied data as zero (spec.md §6).
func computeChecksum(data []byte, endMem uint32) uint32 {
	var sum uint32
	for off := uint32(0); off+4 <= endMem; off += 4 {
		if off == 32 {
			continue
		}
		var word uint32
		if int(off+4) <= len(data) {
			word = binary.BigEndian.Uint32(data[off : off+4])
		}
		sum += word
	}
	return sum
}

// Memory is the VM's resizable byte-addressable image: ROM [0, ramStart),
// RAM [ramStart, extStart) seeded from the file, zero-init [extStart,
// endMem), and an optional heap extension [endMem, len(bytes)).
// All multi-byte values are big-endian (spec.md §3).
type Memory struct {
	bytes    []byte
	ramStart uint32
	minSize  uint32 // the header's endMem: setmemsize may never shrink below this

	// original holds RAM as loaded from the file, used to XOR-diff save
	// snapshots and to reload RAM on restart.
	original []byte

	protectStart  uint32
	protectLength uint32

	heap *heap
}

// NewMemory builds the initial memory image: data extended to endMem
// bytes (zero-filling [len(data), endMem) when the file is shorter, per
// the RAM seeding rule in spec.md §3). Data longer than endMem is
// rejected with ErrBadImage.
func NewMemory(data []byte, ramStart, endMem uint32) (*Memory, error) {
	if endMem%256 != 0 {
		return nil, errors.Wrap(ErrMemorySize, "endMem must be a multiple of 256")
	}
	if uint32(len(data)) > endMem {
		return nil, errors.Wrap(ErrBadImage, "image longer than declared endMem")
	}
	bytes := make([]byte, endMem)
	copy(bytes, data)

	original := make([]byte, endMem-ramStart)
	copy(original, bytes[ramStart:])

	return &Memory{
		bytes:    bytes,
		ramStart: ramStart,
		minSize:  endMem,
		original: original,
		heap:     newHeap(endMem),
	}, nil
}

func (m *Memory) Size() uint32    { return uint32(len(m.bytes)) }
func (m *Memory) RAMStart() uint32 { return m.ramStart }

// ReadByte/ReadShort/ReadWord return 0 for out-of-range addresses rather
// than erroring (spec.md §4.1, §7: "out-of-range reads return 0").
func (m *Memory) ReadByte(addr uint32) uint32 {
	if addr >= uint32(len(m.bytes)) {
		return 0
	}
	return uint32(m.bytes[addr])
}

func (m *Memory) ReadShort(addr uint32) uint32 {
	if addr+1 >= uint32(len(m.bytes)) {
		return 0
	}
	return uint32(binary.BigEndian.Uint16(m.bytes[addr:]))
}

func (m *Memory) ReadWord(addr uint32) uint32 {
	if addr+3 >= uint32(len(m.bytes)) {
		return 0
	}
	return binary.BigEndian.Uint32(m.bytes[addr:])
}

// WriteByte/WriteShort/WriteWord silently drop out-of-range writes
// (spec.md §4.1, §7).
func (m *Memory) WriteByte(addr uint32, val uint32) {
	if addr >= uint32(len(m.bytes)) {
		return
	}
	m.bytes[addr] = byte(val)
}

func (m *Memory) WriteShort(addr uint32, val uint32) {
	if addr+1 >= uint32(len(m.bytes)) {
		return
	}
	binary.BigEndian.PutUint16(m.bytes[addr:], uint16(val))
}

func (m *Memory) WriteWord(addr uint32, val uint32) {
	if addr+3 >= uint32(len(m.bytes)) {
		return
	}
	binary.BigEndian.PutUint32(m.bytes[addr:], val)
}

// ReadBlock/WriteBlock expose raw byte-range access for the Glk memory
// binding (spec.md §6: "read/write/read-block/write-block closures").
// Partial ranges that cross the end of memory are truncated rather than
// erroring, consistent with the per-word OOB rules above.
func (m *Memory) ReadBlock(addr uint32, n int) []byte {
	if addr >= uint32(len(m.bytes)) || n <= 0 {
		return nil
	}
	end := addr + uint32(n)
	if end > uint32(len(m.bytes)) {
		end = uint32(len(m.bytes))
	}
	out := make([]byte, end-addr)
	copy(out, m.bytes[addr:end])
	return out
}

func (m *Memory) WriteBlock(addr uint32, data []byte) {
	if addr >= uint32(len(m.bytes)) {
		return
	}
	end := addr + uint32(len(data))
	if end > uint32(len(m.bytes)) {
		end = uint32(len(m.bytes))
	}
	copy(m.bytes[addr:end], data[:end-addr])
}

// ReadBlockAsUint reads an n-byte (1/2/4) big-endian unsigned constant
// from the instruction stream, used to decode the address/offset that
// follows an addressing-mode nibble (spec.md §4.4).
func (m *Memory) ReadBlockAsUint(addr uint32, n uint32) uint32 {
	switch n {
	case 1:
		return m.ReadByte(addr)
	case 2:
		return m.ReadShort(addr)
	case 4:
		return m.ReadWord(addr)
	default:
		return 0
	}
}

// SetMemSize implements setmemsize: new must be >= the header's endMem
// and a multiple of 256 (spec.md §4.4). Growing zero-fills the new tail;
// shrinking truncates it and invalidates any heap blocks beyond the new
// size (their lifetime ends silently, matching the reference behavior of
// discarding the heap on a size that can no longer hold it).
func (m *Memory) SetMemSize(newSize uint32) error {
	if newSize < m.minSize || newSize%256 != 0 {
		return errors.Wrap(ErrMemorySize, "setmemsize: size must be >= endMem and a multiple of 256")
	}
	cur := uint32(len(m.bytes))
	if newSize == cur {
		return nil
	}
	if newSize > cur {
		grown := make([]byte, newSize)
		copy(grown, m.bytes)
		m.bytes = grown
	} else {
		m.bytes = m.bytes[:newSize]
		m.heap.shrinkTo(newSize)
	}
	return nil
}

// Mzero and Mcopy implement the `mzero`/`mcopy` opcodes. Mcopy copies
// backward when the ranges overlap and the destination is higher, so
// the semantics match memmove rather than naive forward memcpy
// (spec.md §4.1).
func (m *Memory) Mzero(addr, length uint32) {
	end := addr + length
	if end > uint32(len(m.bytes)) {
		end = uint32(len(m.bytes))
	}
	if addr >= end {
		return
	}
	for i := addr; i < end; i++ {
		m.bytes[i] = 0
	}
}

func (m *Memory) Mcopy(src, dst, length uint32) {
	if length == 0 {
		return
	}
	size := uint32(len(m.bytes))
	srcEnd, dstEnd := src+length, dst+length
	if srcEnd > size {
		srcEnd = size
	}
	if dstEnd > size {
		dstEnd = size
	}
	n := srcEnd - src
	if dstEnd-dst < n {
		n = dstEnd - dst
	}
	if dst > src {
		for i := n; i > 0; i-- {
			m.bytes[dst+i-1] = m.bytes[src+i-1]
		}
	} else {
		for i := uint32(0); i < n; i++ {
			m.bytes[dst+i] = m.bytes[src+i]
		}
	}
}

// Malloc/Mfree/HeapStart implement the malloc/mfree opcodes and the
// `malloc-heap` gestalt selector (spec.md §4.4, §6).
func (m *Memory) Malloc(length uint32) uint32 {
	return m.heap.alloc(m, length)
}

func (m *Memory) Mfree(addr uint32) {
	m.heap.free(addr)
}

func (m *Memory) HeapStart() uint32 {
	return m.heap.base
}

func (m *Memory) HeapActive() bool {
	return m.heap.active()
}

// RAMDiff returns the current RAM region XORed against its as-loaded
// contents, the form `save`/`saveundo` persist (spec.md §4.6: "XOR
// against the original RAM image" keeps snapshots of a mostly-unchanged
// image small and makes an all-zero diff trivially detectable).
func (m *Memory) RAMDiff() []byte {
	ram := m.bytes[m.ramStart:]
	diff := make([]byte, len(ram))
	for i, b := range ram {
		var orig byte
		if i < len(m.original) {
			orig = m.original[i]
		}
		diff[i] = b ^ orig
	}
	return diff
}

// ApplyRAMDiff restores RAM (resizing memory to fit) from a diff
// previously produced by RAMDiff.
func (m *Memory) ApplyRAMDiff(diff []byte) {
	want := m.ramStart + uint32(len(diff))
	switch {
	case want > uint32(len(m.bytes)):
		grown := make([]byte, want)
		copy(grown, m.bytes)
		m.bytes = grown
	case want < uint32(len(m.bytes)):
		m.bytes = m.bytes[:want]
	}
	for i, d := range diff {
		var orig byte
		if i < len(m.original) {
			orig = m.original[i]
		}
		m.bytes[m.ramStart+uint32(i)] = d ^ orig
	}
}

// HeapSummary and RestoreHeap expose the heap's live-block list for
// save-file persistence (spec.md §3).
func (m *Memory) HeapSummary() []uint32 { return m.heap.summary() }

func (m *Memory) RestoreHeap(base uint32, pairs []uint32) {
	m.heap.restoreSummary(base, pairs)
}

// Protect marks [start, start+length) of RAM to be preserved verbatim
// across restore/restart; length 0 clears protection (spec.md §4.6).
func (m *Memory) Protect(start, length uint32) {
	m.protectStart, m.protectLength = start, length
}

// Restart reloads RAM from the original file image, preserving any
// protected range, resets the heap, and truncates memory back to the
// header's endMem (spec.md §4.4 `restart`).
func (m *Memory) Restart() error {
	var saved []byte
	if m.protectLength > 0 {
		saved = m.ReadBlock(m.protectStart, int(m.protectLength))
	}

	m.bytes = make([]byte, m.minSize)
	copy(m.bytes[m.ramStart:], m.original)
	m.heap = newHeap(m.minSize)

	if saved != nil {
		m.WriteBlock(m.protectStart, saved)
	}
	return nil
}
