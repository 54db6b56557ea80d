package glulx

// AccelFunc implements `accelfunc`: register (or, with addr 0,
// unregister) the bytecode address of funcNum as accelerated (spec.md
// §6). The `call`/`callf*` opcodes consult this mapping before entering
// a function normally; `tailcall` does not consult it and always enters
// the bytecode function.
func (vm *VM) AccelFunc(funcNum, addr uint32) {
	if addr == 0 {
		for a, n := range vm.accelFuncs {
			if n == funcNum {
				delete(vm.accelFuncs, a)
			}
		}
		return
	}
	vm.accelFuncs[addr] = funcNum
}

// AccelParam implements `accelparam`: record a story-supplied constant
// (object tree layout offsets and similar) that accelerated
// implementations consult by paramNum (spec.md §6).
func (vm *VM) AccelParam(paramNum, value uint32) {
	vm.accelParams[paramNum] = value
}

// AccelParamValue exposes a parameter to an AccelTable implementation.
func (vm *VM) AccelParamValue(paramNum uint32) uint32 {
	return vm.accelParams[paramNum]
}

// tryAccelCall checks whether addr has been registered as an
// accelerated function and, if so, dispatches to the installed
// AccelTable instead of entering the bytecode function. handled is
// false whenever the caller should fall back to a normal call.
func (vm *VM) tryAccelCall(addr uint32, args []uint32) (result uint32, handled bool, err error) {
	funcNum, ok := vm.accelFuncs[addr]
	if !ok || vm.Accel == nil {
		return 0, false, nil
	}
	return vm.Accel.Call(vm, funcNum, args)
}
