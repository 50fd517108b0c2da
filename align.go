package sectorcache

import "unsafe"

// sliceAddr returns the address of the first element of b. Used for the
// buffer alignment checks; the pointer never escapes as a pointer.
func sliceAddr(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}
