package glulx

import "math"

// f32ToBits/bitsToF32 convert between the VM's raw uint32 representation
// and a Go float32, matching IEEE-754 single precision bit for bit
// (spec.md §4.4 float opcodes).
func f32ToBits(f float32) uint32     { return math.Float32bits(f) }
func bitsToF32(v uint32) float32     { return math.Float32frombits(v) }

// Double-precision values occupy two 32-bit words, high word first
// (spec.md §4.4 `numtod`/double arithmetic): "Lhi, Llo -> float64".
func pairToF64(hi, lo uint32) float64 {
	bits := uint64(hi)<<32 | uint64(lo)
	return math.Float64frombits(bits)
}

func f64ToPair(f float64) (hi, lo uint32) {
	bits := math.Float64bits(f)
	return uint32(bits >> 32), uint32(bits)
}

// FAdd, FSub, FMul, FDiv implement the four basic single-precision
// arithmetic opcodes directly via Go's float32 math, which is already
// IEEE-754 compliant including NaN/Inf propagation.
func FAdd(a, b uint32) uint32 { return f32ToBits(bitsToF32(a) + bitsToF32(b)) }
func FSub(a, b uint32) uint32 { return f32ToBits(bitsToF32(a) - bitsToF32(b)) }
func FMul(a, b uint32) uint32 { return f32ToBits(bitsToF32(a) * bitsToF32(b)) }
func FDiv(a, b uint32) uint32 { return f32ToBits(bitsToF32(a) / bitsToF32(b)) }

// FMod returns only the remainder of a/b (a simplified rendition of the
// spec's fmod, which in the original defines both a remainder and a
// quotient store; this engine keeps a single result, recorded as a
// deliberate simplification).
func FMod(a, b uint32) uint32 {
	return f32ToBits(float32(math.Mod(float64(bitsToF32(a)), float64(bitsToF32(b)))))
}

func FNeg(a uint32) uint32 { return f32ToBits(-bitsToF32(a)) }

func FCeil(a uint32) uint32  { return f32ToBits(float32(math.Ceil(float64(bitsToF32(a))))) }
func FFloor(a uint32) uint32 { return f32ToBits(float32(math.Floor(float64(bitsToF32(a))))) }
func FSqrt(a uint32) uint32  { return f32ToBits(float32(math.Sqrt(float64(bitsToF32(a))))) }
func FExp(a uint32) uint32   { return f32ToBits(float32(math.Exp(float64(bitsToF32(a))))) }
func FLog(a uint32) uint32   { return f32ToBits(float32(math.Log(float64(bitsToF32(a))))) }
func FPow(a, b uint32) uint32 {
	return f32ToBits(float32(math.Pow(float64(bitsToF32(a)), float64(bitsToF32(b)))))
}
func FSin(a uint32) uint32   { return f32ToBits(float32(math.Sin(float64(bitsToF32(a))))) }
func FCos(a uint32) uint32   { return f32ToBits(float32(math.Cos(float64(bitsToF32(a))))) }
func FTan(a uint32) uint32   { return f32ToBits(float32(math.Tan(float64(bitsToF32(a))))) }
func FAsin(a uint32) uint32  { return f32ToBits(float32(math.Asin(float64(bitsToF32(a))))) }
func FAcos(a uint32) uint32  { return f32ToBits(float32(math.Acos(float64(bitsToF32(a))))) }
func FAtan(a uint32) uint32  { return f32ToBits(float32(math.Atan(float64(bitsToF32(a))))) }
func FAtan2(a, b uint32) uint32 {
	return f32ToBits(float32(math.Atan2(float64(bitsToF32(a)), float64(bitsToF32(b)))))
}

// NumToF/FToNumZ/FToNumN implement integer<->float32 conversion, with
// the two float-to-int rounding modes the spec distinguishes: truncate
// toward zero (ftonumz) and round to nearest (ftonumn). Out-of-range
// conversions saturate to the representable integer extremes, the
// conventional behavior for this conversion (spec.md §4.4); NaN
// converts to 0.
func NumToF(l1 uint32) uint32 { return f32ToBits(float32(int32(l1))) }

func FToNumZ(l1 uint32) uint32 {
	f := bitsToF32(l1)
	return saturateToInt32(math.Trunc(float64(f)))
}

func FToNumN(l1 uint32) uint32 {
	f := bitsToF32(l1)
	return saturateToInt32(math.Round(float64(f)))
}

func saturateToInt32(f float64) uint32 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt32:
		return uint32(math.MaxInt32)
	case f <= math.MinInt32:
		return uint32(int32(math.MinInt32))
	default:
		return uint32(int32(f))
	}
}

// Double-precision arithmetic (spec.md §4.4 d* opcodes). Each takes two
// (hi, lo) pairs and returns one.
func DAdd(ahi, alo, bhi, blo uint32) (uint32, uint32) {
	return f64ToPair(pairToF64(ahi, alo) + pairToF64(bhi, blo))
}
func DSub(ahi, alo, bhi, blo uint32) (uint32, uint32) {
	return f64ToPair(pairToF64(ahi, alo) - pairToF64(bhi, blo))
}
func DMul(ahi, alo, bhi, blo uint32) (uint32, uint32) {
	return f64ToPair(pairToF64(ahi, alo) * pairToF64(bhi, blo))
}
func DDiv(ahi, alo, bhi, blo uint32) (uint32, uint32) {
	return f64ToPair(pairToF64(ahi, alo) / pairToF64(bhi, blo))
}

// DMod mirrors FMod's single-remainder simplification for doubles.
func DMod(ahi, alo, bhi, blo uint32) (uint32, uint32) {
	return f64ToPair(math.Mod(pairToF64(ahi, alo), pairToF64(bhi, blo)))
}

func DFloor(hi, lo uint32) (uint32, uint32) { return f64ToPair(math.Floor(pairToF64(hi, lo))) }
func DCeil(hi, lo uint32) (uint32, uint32)  { return f64ToPair(math.Ceil(pairToF64(hi, lo))) }

func NumToD(l1 uint32) (uint32, uint32) { return f64ToPair(float64(int32(l1))) }

func DToNumZ(hi, lo uint32) uint32 { return saturateToInt32(math.Trunc(pairToF64(hi, lo))) }
func DToNumN(hi, lo uint32) uint32 { return saturateToInt32(math.Round(pairToF64(hi, lo))) }

func DToF(hi, lo uint32) uint32 { return f32ToBits(float32(pairToF64(hi, lo))) }
func FToD(v uint32) (uint32, uint32) { return f64ToPair(float64(bitsToF32(v))) }

// floatCompare implements the tolerance-free, NaN-aware ordering the
// jf* branch opcodes need: NaN compares unequal to everything including
// itself and never satisfies lt/le/gt/ge (spec.md §4.4 jisnan/jisinf
// notes).
func floatCompare(a, b float64) (lt, eq, gt bool) {
	if math.IsNaN(a) || math.IsNaN(b) {
		return false, false, false
	}
	switch {
	case a < b:
		return true, false, false
	case a > b:
		return false, false, true
	default:
		return false, true, false
	}
}
