//go:build unix

package allocator

import (
	"zos/kernel"

	"golang.org/x/sys/unix"
)

var (
	errMapArena   = &kernel.Error{Module: "page_pool", Message: "unable to map pool arena"}
	errUnmapArena = &kernel.Error{Module: "page_pool", Message: "unable to unmap pool arena"}

	// mapArenaFn and unmapArenaFn are used by tests to simulate mapping
	// failures.
	mapArenaFn   = mapArena
	unmapArenaFn = unmapArena
)

func mapArena(size int) ([]byte, *kernel.Error) {
	arena, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errMapArena
	}

	return arena, nil
}

func unmapArena(arena []byte) *kernel.Error {
	if err := unix.Munmap(arena); err != nil {
		return errUnmapArena
	}

	return nil
}
