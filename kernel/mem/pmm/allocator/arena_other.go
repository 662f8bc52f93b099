//go:build !unix

package allocator

import "zos/kernel"

var (
	mapArenaFn   = mapArena
	unmapArenaFn = unmapArena
)

// The Go heap is non-moving so a plain slice keeps stable addresses for the
// lifetime of the pool.
func mapArena(size int) ([]byte, *kernel.Error) {
	return make([]byte, size), nil
}

func unmapArena(_ []byte) *kernel.Error {
	return nil
}
