package glulx

// DispatchGlk implements the `glk` opcode: pop nargs arguments off the value
// stack (pushed by the calling code in natural left-to-right order) and
// hand them to the external Glk dispatcher along with the selector
// (spec.md §1, §6). With no dispatcher installed, every call answers 0 --
// a headless VM with no I/O library attached.
func (vm *VM) DispatchGlk(selector, nargs uint32) (uint32, error) {
	args := make([]uint32, nargs)
	for i := uint32(0); i < nargs; i++ {
		v, err := vm.Stack.Pop32()
		if err != nil {
			return 0, err
		}
		args[nargs-1-i] = v
	}
	if vm.Glk == nil {
		return 0, nil
	}
	return vm.Glk.Dispatch(vm, selector, args)
}

// MemoryBinder exposes the raw memory access a Glk implementation needs
// to satisfy array-returning selectors (spec.md §6: "memory/stack
// binding closures exposed to it"). A GlkDispatcher receives the VM
// itself and can call these directly; the type exists to name the
// capability in one place.
type MemoryBinder interface {
	ReadBlock(addr uint32, n int) []byte
	WriteBlock(addr uint32, data []byte)
}

var _ MemoryBinder = (*Memory)(nil)
