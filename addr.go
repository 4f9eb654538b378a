package cothread

import "unsafe"

// sliceAddr returns the address of a non-empty byte slice's backing array.
func sliceAddr(b []byte) uintptr {
	return uintptr(unsafe.Pointer(&b[0]))
}
