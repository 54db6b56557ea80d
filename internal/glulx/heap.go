package glulx

import (
	"sort"

	"github.com/samber/lo"
)

// heapBlock is a single allocation in the VM heap extension living past
// endMem (spec.md §3: "Heap block: (start, length)").
type heapBlock struct {
	start, length uint32
}

// heap is a small first-fit allocator over the memory extension beyond
// endMem, mirroring the free-list-with-coalescing shape the teacher uses
// for its console I/O request channel bookkeeping (vm/devices.go) -
// here applied to address ranges instead of interaction IDs.
type heap struct {
	base   uint32 // address of the first heap byte (== endMem at heap creation)
	blocks []heapBlock
}

func newHeap(base uint32) *heap {
	return &heap{base: base}
}

func (h *heap) active() bool {
	return len(h.blocks) > 0
}

// alloc scans live blocks in address order for the first gap big enough
// to hold length bytes, extending memory via SetMemSize if none exists.
// Returns 0 on failure (spec.md §4.1 "returns 0 on failure").
func (h *heap) alloc(m *Memory, length uint32) uint32 {
	if length == 0 {
		return 0
	}

	sort.Slice(h.blocks, func(i, j int) bool { return h.blocks[i].start < h.blocks[j].start })

	cursor := h.base
	for _, b := range h.blocks {
		if b.start-cursor >= length {
			h.insert(cursor, length)
			m.Mzero(cursor, length)
			return cursor
		}
		cursor = b.start + b.length
	}

	// No gap found among existing blocks; try the tail past the last one.
	needed := cursor + length
	if needed > m.Size() {
		grown := roundUp256(needed)
		if err := m.SetMemSize(grown); err != nil {
			return 0
		}
	}
	h.insert(cursor, length)
	m.Mzero(cursor, length)
	return cursor
}

func (h *heap) insert(start, length uint32) {
	h.blocks = append(h.blocks, heapBlock{start: start, length: length})
}

// free releases and coalesces adjacent free space; freeing an address
// that doesn't start a live block is a no-op (spec.md §4.1).
func (h *heap) free(addr uint32) {
	idx := -1
	for i, b := range h.blocks {
		if b.start == addr {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	h.blocks = append(h.blocks[:idx], h.blocks[idx+1:]...)
}

// shrinkTo drops any heap block that no longer fits after setmemsize
// truncates the image.
func (h *heap) shrinkTo(size uint32) {
	h.blocks = lo.Filter(h.blocks, func(b heapBlock, _ int) bool {
		return b.start+b.length <= size
	})
}

// summary returns the (start, length) pairs of all live blocks in
// address order, the format `saveundo`/`save` persist for heap state
// (spec.md §3 "Undo state ... plus heap summary").
func (h *heap) summary() []uint32 {
	sort.Slice(h.blocks, func(i, j int) bool { return h.blocks[i].start < h.blocks[j].start })
	pairs := lo.FlatMap(h.blocks, func(b heapBlock, _ int) []uint32 {
		return []uint32{b.start, b.length}
	})
	return pairs
}

// restoreSummary replaces the live block list from a flat (start,
// length) pair list previously produced by summary(), as part of
// restoreundo/restore.
func (h *heap) restoreSummary(base uint32, pairs []uint32) {
	h.base = base
	h.blocks = h.blocks[:0]
	for i := 0; i+1 < len(pairs); i += 2 {
		h.blocks = append(h.blocks, heapBlock{start: pairs[i], length: pairs[i+1]})
	}
}

func roundUp256(v uint32) uint32 {
	if v%256 == 0 {
		return v
	}
	return v + (256 - v%256)
}
