package glulx

// Search option bits shared by linearsearch/binarysearch/linkedsearch
// (spec.md §4.4).
const (
	SearchKeyIndirect     uint32 = 0x1
	SearchZeroKeyTerminates uint32 = 0x2
	SearchReturnIndex     uint32 = 0x4
)

// keyBytesAt reads keySize bytes from addr for direct structure-key
// comparison; keySize greater than 4 is only meaningful for indirect
// keys, but reading it uniformly keeps the comparison code path single.
func (vm *VM) keyBytesAt(addr, keySize uint32) []byte {
	return vm.Mem.ReadBlock(addr, int(keySize))
}

// resolveSearchKey returns the raw key bytes to compare against,
// honoring KeyIndirect (spec.md §4.4: "if not set and keySize <= 4, the
// key operand is the value itself").
func (vm *VM) resolveSearchKey(key, keySize, options uint32) []byte {
	if options&SearchKeyIndirect != 0 {
		return vm.keyBytesAt(key, keySize)
	}
	if keySize > 4 {
		return vm.keyBytesAt(key, keySize)
	}
	buf := make([]byte, keySize)
	for i := uint32(0); i < keySize; i++ {
		shift := 8 * (keySize - 1 - i)
		buf[i] = byte(key >> shift)
	}
	return buf
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func isAllZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// LinearSearch implements `linearsearch` (spec.md §4.4): scan numStructs
// fixed-size records starting at start, comparing keyOffset bytes of
// keySize length against the search key. Stops early on a zero key when
// SearchZeroKeyTerminates is set. Returns the matching struct address
// (or index, with ReturnIndex), or -1 / 0 on failure per ReturnIndex.
func (vm *VM) LinearSearch(key, keySize, start, structSize, numStructs, keyOffset, options uint32) uint32 {
	needle := vm.resolveSearchKey(key, keySize, options)
	returnIndex := options&SearchReturnIndex != 0
	zeroTerm := options&SearchZeroKeyTerminates != 0

	notFound := uint32(0)
	if returnIndex {
		notFound = 0xFFFFFFFF
	}

	// numStructs == -1 (0xFFFFFFFF) means "search until a zero key"
	// regardless of the terminate-on-zero bit (spec.md §4.4).
	unbounded := numStructs == 0xFFFFFFFF

	for i := uint32(0); unbounded || i < numStructs; i++ {
		addr := start + i*structSize
		candidate := vm.keyBytesAt(addr+keyOffset, keySize)
		// Key-match takes precedence over zero-key termination: a
		// zero-valued record that is itself the search needle must still
		// be reported as found (spec.md §4.4).
		if bytesEqual(candidate, needle) {
			if returnIndex {
				return i
			}
			return addr
		}
		if (zeroTerm || unbounded) && isAllZero(candidate) {
			break
		}
	}
	return notFound
}

// BinarySearch implements `binarysearch`: identical record layout to
// linearsearch, but the records must already be sorted ascending by key
// and the search is O(log n) (spec.md §4.4). ZeroKeyTerminates does not
// apply to binary search.
func (vm *VM) BinarySearch(key, keySize, start, structSize, numStructs, keyOffset, options uint32) uint32 {
	needle := vm.resolveSearchKey(key, keySize, options)
	returnIndex := options&SearchReturnIndex != 0

	notFound := uint32(0)
	if returnIndex {
		notFound = 0xFFFFFFFF
	}

	lo, hi := int64(0), int64(numStructs)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		addr := start + uint32(mid)*structSize
		candidate := vm.keyBytesAt(addr+keyOffset, keySize)
		switch compareBytes(candidate, needle) {
		case 0:
			if returnIndex {
				return uint32(mid)
			}
			return addr
		case -1:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return notFound
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// LinkedSearch implements `linkedsearch`: walk a singly linked list
// whose next-pointer field lives at nextOffset within each node, testing
// keyOffset/keySize at each node, until a match, a null next pointer, or
// (if set) an all-zero key (spec.md §4.4). Always returns a struct
// address, never an index, since list position has no fixed meaning.
func (vm *VM) LinkedSearch(key, keySize, start, keyOffset, nextOffset, options uint32) uint32 {
	needle := vm.resolveSearchKey(key, keySize, options)
	zeroTerm := options&SearchZeroKeyTerminates != 0

	addr := start
	for addr != 0 {
		candidate := vm.keyBytesAt(addr+keyOffset, keySize)
		// Key-match takes precedence over zero-key termination (spec.md
		// §4.4), same as linearsearch.
		if bytesEqual(candidate, needle) {
			return addr
		}
		if zeroTerm && isAllZero(candidate) {
			return 0
		}
		addr = vm.Mem.ReadWord(addr + nextOffset)
	}
	return 0
}
