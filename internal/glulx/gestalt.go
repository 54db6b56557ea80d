package glulx

// Gestalt selectors the `gestalt` opcode recognizes (spec.md §4.4,
// SPEC_FULL.md supplement). Selectors this engine does not implement a
// meaningful answer for are forwarded to the installed VMGestalt
// collaborator, if any (spec.md §6 "all other selectors are forwarded
// to vm_gestalt"); with no collaborator installed they answer 0, the
// historical convention that gestalt is always safe to call with an
// unrecognized selector.
const (
	GestaltGlulxVersion       uint32 = 0
	GestaltTerpVersion        uint32 = 1
	GestaltResizeMem          uint32 = 2
	GestaltUndo               uint32 = 3
	GestaltIOSystem           uint32 = 4
	GestaltUnicode            uint32 = 5
	GestaltMemCopy            uint32 = 6
	GestaltMAlloc             uint32 = 7
	GestaltMAllocHeap         uint32 = 8
	GestaltAcceleration       uint32 = 9
	GestaltAccelFunc          uint32 = 10
	GestaltFloat              uint32 = 11
	GestaltExtUndo            uint32 = 12
	GestaltDouble             uint32 = 13
)

// engineVersion is this interpreter's own terp-version gestalt reply;
// not a Glulx spec-mandated value, just a stable self-identifier.
const engineVersion uint32 = 0x00010000

// Gestalt answers a `gestalt` query (spec.md §4.4, "misc" group). arg is
// the selector's single extra parameter, meaningful only for selectors
// that take one (IOSystem, AccelFunc).
func (vm *VM) Gestalt(selector, arg uint32) uint32 {
	switch selector {
	case GestaltGlulxVersion:
		return 0x00030103
	case GestaltTerpVersion:
		return engineVersion
	case GestaltResizeMem:
		return 1
	case GestaltUndo:
		return 1
	case GestaltIOSystem:
		switch IOSystem(arg) {
		case IOSystemNull, IOSystemFilter, IOSystemGlk:
			return 1
		default:
			return 0
		}
	case GestaltUnicode:
		return 1
	case GestaltMemCopy:
		return 1
	case GestaltMAlloc:
		return 1
	case GestaltMAllocHeap:
		return vm.Mem.HeapStart()
	case GestaltAcceleration:
		if vm.Accel != nil {
			return 1
		}
		return 0
	case GestaltAccelFunc:
		if vm.Accel == nil {
			return 0
		}
		if _, handled, _ := vm.Accel.Call(vm, arg, nil); handled {
			return 1
		}
		return 0
	case GestaltFloat:
		return 1
	case GestaltExtUndo:
		return 1
	case GestaltDouble:
		return 1
	default:
		if vm.ExtGestalt != nil {
			return vm.ExtGestalt.Handle(vm, selector, arg)
		}
		return 0
	}
}
