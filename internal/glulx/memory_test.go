package glulx

import (
	"bytes"
	"testing"
)

func buildHeaderBytes(ramStart, extStart, endMem, stackSize, startFunc, decodingTbl uint32) []byte {
	h := make([]byte, HeaderSize)
	putU32 := func(off int, v uint32) {
		h[off] = byte(v >> 24)
		h[off+1] = byte(v >> 16)
		h[off+2] = byte(v >> 8)
		h[off+3] = byte(v)
	}
	putU32(0, GlulxMagic)
	putU32(4, 0)
	putU32(8, ramStart)
	putU32(12, extStart)
	putU32(16, endMem)
	putU32(20, stackSize)
	putU32(24, startFunc)
	putU32(28, decodingTbl)
	putU32(32, 0)
	return h
}

func TestParseHeaderRoundTrip(t *testing.T) {
	data := buildHeaderBytes(256, 256, 512, 256, 260, 0)
	hdr, err := ParseHeader(data)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if hdr.Magic != GlulxMagic || hdr.RAMStart != 256 || hdr.EndMem != 512 || hdr.StartFunc != 260 {
		t.Fatalf("unexpected header: %+v", hdr)
	}
}

func TestParseHeaderRejectsBadMagic(t *testing.T) {
	data := buildHeaderBytes(256, 256, 512, 256, 260, 0)
	data[0] = 0
	if _, err := ParseHeader(data); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestParseHeaderRejectsBadStackSize(t *testing.T) {
	data := buildHeaderBytes(256, 256, 512, 100, 260, 0)
	if _, err := ParseHeader(data); err == nil {
		t.Fatal("expected error for non-multiple-of-256 stack size")
	}
}

func TestMemoryReadWriteWidths(t *testing.T) {
	data := buildHeaderBytes(36, 36, 256, 256, 36, 0)
	mem, err := NewMemory(data, 36, 256)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	mem.WriteWord(36, 0x11223344)
	if got := mem.ReadWord(36); got != 0x11223344 {
		t.Fatalf("ReadWord = 0x%x", got)
	}
	if got := mem.ReadShort(36); got != 0x1122 {
		t.Fatalf("ReadShort = 0x%x", got)
	}
	if got := mem.ReadByte(36); got != 0x11 {
		t.Fatalf("ReadByte = 0x%x", got)
	}
}

func TestMemoryOutOfRangeReadsReturnZero(t *testing.T) {
	data := buildHeaderBytes(36, 36, 256, 256, 36, 0)
	mem, _ := NewMemory(data, 36, 256)
	if got := mem.ReadWord(10_000); got != 0 {
		t.Fatalf("expected 0 for OOB read, got %d", got)
	}
	// Out-of-range writes must not panic.
	mem.WriteWord(10_000, 0xFFFFFFFF)
}

func TestMemoryMcopyOverlapForward(t *testing.T) {
	data := buildHeaderBytes(36, 36, 256, 256, 36, 0)
	mem, _ := NewMemory(data, 36, 256)
	for i := uint32(0); i < 8; i++ {
		mem.WriteByte(36+i, i)
	}
	// Copy [36,44) to [40,48), an overlapping forward move; must behave
	// like memmove, not naive memcpy.
	mem.Mcopy(36, 40, 8)
	want := []byte{0, 1, 2, 3, 4, 5, 6, 7}
	got := mem.ReadBlock(40, 8)
	if !bytes.Equal(got, want) {
		t.Fatalf("Mcopy overlap: got %v want %v", got, want)
	}
}

func TestMemoryMallocMfreeRoundTrip(t *testing.T) {
	data := buildHeaderBytes(36, 36, 256, 256, 36, 0)
	mem, _ := NewMemory(data, 36, 256)
	addr := mem.Malloc(64)
	if addr == 0 {
		t.Fatal("malloc returned 0")
	}
	if !mem.HeapActive() {
		t.Fatal("heap should be active after malloc")
	}
	mem.Mfree(addr)
	addr2 := mem.Malloc(64)
	if addr2 != addr {
		t.Fatalf("expected first-fit reuse at %d, got %d", addr, addr2)
	}
}

func TestMemoryRAMDiffRoundTrip(t *testing.T) {
	data := buildHeaderBytes(36, 36, 256, 256, 36, 0)
	mem, _ := NewMemory(data, 36, 256)
	mem.WriteWord(100, 0xDEADBEEF)
	diff := mem.RAMDiff()

	mem2, _ := NewMemory(data, 36, 256)
	mem2.ApplyRAMDiff(diff)
	if got := mem2.ReadWord(100); got != 0xDEADBEEF {
		t.Fatalf("ApplyRAMDiff: got 0x%x", got)
	}
}

func TestMemoryProtectSurvivesRestart(t *testing.T) {
	data := buildHeaderBytes(36, 36, 256, 256, 36, 0)
	mem, _ := NewMemory(data, 36, 256)
	mem.WriteWord(100, 0xAAAAAAAA)
	mem.Protect(100, 4)
	mem.WriteWord(200, 0xBBBBBBBB) // unprotected write, should vanish on restart

	if err := mem.Restart(); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if got := mem.ReadWord(100); got != 0xAAAAAAAA {
		t.Fatalf("protected word lost across restart: 0x%x", got)
	}
	if got := mem.ReadWord(200); got != 0 {
		t.Fatalf("unprotected word should reset to 0, got 0x%x", got)
	}
}

func TestComputeChecksumExcludesOwnField(t *testing.T) {
	data := buildHeaderBytes(36, 36, 256, 256, 36, 0)
	sum1 := computeChecksum(data, 256)
	data[35] = 0xFF // perturb the checksum field itself
	sum2 := computeChecksum(data, 256)
	if sum1 != sum2 {
		t.Fatal("checksum must not depend on its own stored field")
	}
}
