package glulx

import (
	"reflect"
	"testing"
)

func TestModeNibbleRoundTrip(t *testing.T) {
	modes := []byte{ModeConst0, ModeConst1, ModeStack, ModeLocal2, ModeRAM4, ModeAddr1}
	packed := EncodeModeNibbles(modes)
	got := DecodeModeNibbles(packed, len(modes))
	if !reflect.DeepEqual(got, modes) {
		t.Fatalf("mode nibble round trip = %v, want %v", got, modes)
	}
}

func TestIllegalModesRejected(t *testing.T) {
	if !modeIsIllegal(0x4) || !modeIsIllegal(0xC) {
		t.Fatal("0x4 and 0xC must be illegal addressing modes")
	}
	for _, m := range []byte{0, 1, 2, 3, 5, 6, 7, 8, 9, 0xA, 0xB, 0xD, 0xE, 0xF} {
		if modeIsIllegal(m) {
			t.Fatalf("mode 0x%x should be legal", m)
		}
	}
}

func TestFetchOpcodeEncodingWidths(t *testing.T) {
	data := buildHeaderBytes(36, 36, 256, 256, 36, 0)
	mem, _ := NewMemory(data, 36, 256)

	// One-byte form: opcode < 0x80.
	mem.WriteByte(36, uint32(OpAdd))
	op, n := FetchOpcode(mem, 36)
	if op != OpAdd || n != 1 {
		t.Fatalf("1-byte fetch: op=%v n=%d", op, n)
	}

	// Two-byte form: 0x80-0xBF lead byte, opcode 0x80-0x3FFF.
	twoByteOp := Opcode(0x100)
	b0 := byte(0x80 | byte(twoByteOp>>8))
	mem.WriteByte(40, uint32(b0))
	mem.WriteByte(41, uint32(twoByteOp&0xFF))
	op, n = FetchOpcode(mem, 40)
	if op != twoByteOp || n != 2 {
		t.Fatalf("2-byte fetch: op=0x%x n=%d", op, n)
	}

	// Four-byte form: lead byte >= 0xC0.
	fourByteOp := Opcode(0x12345678 &^ 0xC0000000)
	mem.WriteByte(44, uint32(0xC0|byte(fourByteOp>>24)))
	mem.WriteByte(45, uint32((fourByteOp>>16)&0xFF))
	mem.WriteByte(46, uint32((fourByteOp>>8)&0xFF))
	mem.WriteByte(47, uint32(fourByteOp&0xFF))
	op, n = FetchOpcode(mem, 44)
	if op != fourByteOp || n != 4 {
		t.Fatalf("4-byte fetch: op=0x%x n=%d", op, n)
	}
}
