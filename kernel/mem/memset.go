package mem

import "unsafe"

// Memset sets size bytes at the given address to the supplied value. Instead
// of a byte loop it performs log2(size) copy calls which is considerably
// faster for page-sized, page-aligned blocks.
func Memset(addr uintptr, value byte, size Size) {
	if size == 0 {
		return
	}

	target := unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(size))

	target[0] = value
	for index := 1; index < len(target); index *= 2 {
		copy(target[index:], target[:index])
	}
}

// Memcopy copies size bytes from src to dst.
func Memcopy(src, dst uintptr, size Size) {
	if size == 0 {
		return
	}

	srcSlice := unsafe.Slice((*byte)(unsafe.Pointer(src)), int(size))
	dstSlice := unsafe.Slice((*byte)(unsafe.Pointer(dst)), int(size))
	copy(dstSlice, srcSlice)
}
