// Package allocator provides the physical frame pool that backs translation
// table allocations.
package allocator

import (
	"io"
	"math/bits"
	"sync"
	"unsafe"
	"zos/kernel"
	"zos/kernel/kfmt"
	"zos/kernel/mem"
	"zos/kernel/mem/pmm"
)

// fullBlock is a bitmap word with every block reserved.
const fullBlock = ^uint64(0)

var (
	errInvalidBlockSize = &kernel.Error{Module: "page_pool", Message: "block size must be a power-of-two multiple of the page size"}
	errEmptyPool        = &kernel.Error{Module: "page_pool", Message: "pool must contain at least one block"}
	errMisalignedPool   = &kernel.Error{Module: "page_pool", Message: "pool start is not aligned to the block size"}
	errOutOfMemory      = &kernel.Error{Module: "page_pool", Message: "out of memory"}
	errNotPoolFrame     = &kernel.Error{Module: "page_pool", Message: "frame does not belong to the pool"}
	errDoubleFree       = &kernel.Error{Module: "page_pool", Message: "frame is not allocated"}
	errPoolClosed       = &kernel.Error{Module: "page_pool", Message: "pool is closed"}
	errWriteImage       = &kernel.Error{Module: "page_pool", Message: "unable to write pool image"}

	// memsetFn is used by tests to observe block zeroing. When compiling
	// the kernel this function will be automatically inlined.
	memsetFn = mem.Memset

	log = kfmt.Logger{Module: "page_pool"}
)

// PagePool implements a physical block allocator that tracks reservations
// of fixed-size blocks within a single contiguous memory range using a
// bitmap. Each block is naturally aligned to the block size and is zeroed
// before it is handed out.
//
// PagePool is safe for concurrent use.
type PagePool struct {
	mu sync.Mutex

	// startFrame is the frame for the first page in this pool. Bitmap
	// entry i corresponds to the block starting at frame
	// startFrame + i*framesPerBlock.
	startFrame     pmm.Frame
	framesPerBlock uintptr
	blockSize      mem.Size
	blockCount     uint32

	// reservedCount tracks the number of allocated blocks. The allocator
	// uses it to fail fast without scanning the bitmap.
	reservedCount uint32

	// freeBitmap tracks used/free blocks; a set bit marks a reserved block.
	freeBitmap []uint64

	// arena is non-nil when the pool owns its backing memory.
	arena  []byte
	closed bool
}

// NewPagePool creates a pool that manages blockCount blocks of blockSize
// bytes each starting at the physical frame start. The memory range must be
// identity-accessible by the caller and is not touched until blocks are
// allocated.
func NewPagePool(start pmm.Frame, blockSize mem.Size, blockCount uint32) (*PagePool, *kernel.Error) {
	if blockSize < mem.PageSize || bits.OnesCount64(uint64(blockSize)) != 1 {
		return nil, errInvalidBlockSize
	}

	if blockCount == 0 {
		return nil, errEmptyPool
	}

	if !blockSize.Aligned(start.Address()) {
		return nil, errMisalignedPool
	}

	return &PagePool{
		startFrame:     start,
		framesPerBlock: uintptr(blockSize >> mem.PageShift),
		blockSize:      blockSize,
		blockCount:     blockCount,
		freeBitmap:     make([]uint64, (blockCount+63)>>6),
	}, nil
}

// NewHostedPagePool creates a pool whose backing memory is an anonymous
// mapping owned by the pool. Frame addresses returned by the pool are the
// host addresses of the mapped blocks, so the pool can stand in for physical
// memory when the translation code runs as a regular process. The mapping is
// released by Close.
func NewHostedPagePool(blockSize mem.Size, blockCount uint32) (*PagePool, *kernel.Error) {
	if blockSize < mem.PageSize || bits.OnesCount64(uint64(blockSize)) != 1 {
		return nil, errInvalidBlockSize
	}

	if blockCount == 0 {
		return nil, errEmptyPool
	}

	// Over-allocate by one block so the pool start can be aligned to the
	// block size.
	arena, err := mapArenaFn(int(blockSize) * (int(blockCount) + 1))
	if err != nil {
		return nil, err
	}

	start := blockSize.AlignUp(mem.Size(uintptr(unsafe.Pointer(&arena[0]))))
	pool, err := NewPagePool(pmm.FrameFromAddress(uintptr(start)), blockSize, blockCount)
	if err != nil {
		_ = unmapArenaFn(arena)
		return nil, err
	}

	pool.arena = arena
	log.Debugf("mapped %d blocks of %d bytes at 0x%x\n", blockCount, uint64(blockSize), uint64(start))
	return pool, nil
}

// AllocFrame reserves the first free block in the pool, clears its contents
// and returns the frame of its first page.
func (pool *PagePool) AllocFrame() (pmm.Frame, *kernel.Error) {
	pool.mu.Lock()
	defer pool.mu.Unlock()

	if pool.closed {
		return pmm.InvalidFrame, errPoolClosed
	}

	if pool.reservedCount == pool.blockCount {
		return pmm.InvalidFrame, errOutOfMemory
	}

	for blockIndex, block := range pool.freeBitmap {
		if block == fullBlock {
			continue
		}

		index := uint32(blockIndex<<6 + bits.TrailingZeros64(^block))
		if index >= pool.blockCount {
			break
		}

		pool.freeBitmap[blockIndex] |= 1 << (index & 63)
		pool.reservedCount++

		frame := pool.frameAt(index)
		memsetFn(frame.Address(), 0, pool.blockSize)
		return frame, nil
	}

	return pmm.InvalidFrame, errOutOfMemory
}

// FreeFrame releases a block previously returned by AllocFrame.
func (pool *PagePool) FreeFrame(frame pmm.Frame) *kernel.Error {
	pool.mu.Lock()
	defer pool.mu.Unlock()

	if pool.closed {
		return errPoolClosed
	}

	index, ok := pool.indexOf(frame)
	if !ok {
		return errNotPoolFrame
	}

	mask := uint64(1) << (index & 63)
	if pool.freeBitmap[index>>6]&mask == 0 {
		return errDoubleFree
	}

	pool.freeBitmap[index>>6] &^= mask
	pool.reservedCount--
	return nil
}

// Contains returns true if frame is the first frame of a block managed by
// the pool.
func (pool *PagePool) Contains(frame pmm.Frame) bool {
	_, ok := pool.indexOf(frame)
	return ok
}

// Reserved returns the number of allocated blocks.
func (pool *PagePool) Reserved() uint32 {
	pool.mu.Lock()
	defer pool.mu.Unlock()
	return pool.reservedCount
}

// Capacity returns the total number of blocks managed by the pool.
func (pool *PagePool) Capacity() uint32 {
	return pool.blockCount
}

// BlockSize returns the size of each block in the pool.
func (pool *PagePool) BlockSize() mem.Size {
	return pool.blockSize
}

// Base returns the physical address of the first block in the pool.
func (pool *PagePool) Base() uintptr {
	return pool.startFrame.Address()
}

// WriteImage writes the raw contents of the managed memory range to w. The
// first byte written corresponds to Base(). Image tools use it together with
// a table root address to inspect translation tables offline.
func (pool *PagePool) WriteImage(w io.Writer) *kernel.Error {
	pool.mu.Lock()
	defer pool.mu.Unlock()

	if pool.closed {
		return errPoolClosed
	}

	size := int(pool.blockSize) * int(pool.blockCount)
	contents := unsafe.Slice((*byte)(unsafe.Pointer(pool.Base())), size)
	if _, err := w.Write(contents); err != nil {
		return errWriteImage
	}

	return nil
}

// Close releases the backing memory of a hosted pool. Any further pool
// operation fails.
func (pool *PagePool) Close() *kernel.Error {
	pool.mu.Lock()
	defer pool.mu.Unlock()

	if pool.closed {
		return errPoolClosed
	}

	pool.closed = true
	if pool.arena == nil {
		return nil
	}

	err := unmapArenaFn(pool.arena)
	pool.arena = nil
	return err
}

func (pool *PagePool) frameAt(index uint32) pmm.Frame {
	return pool.startFrame + pmm.Frame(uintptr(index)*pool.framesPerBlock)
}

func (pool *PagePool) indexOf(frame pmm.Frame) (uint32, bool) {
	if frame < pool.startFrame {
		return 0, false
	}

	offset := uintptr(frame - pool.startFrame)
	if offset%pool.framesPerBlock != 0 {
		return 0, false
	}

	index := offset / pool.framesPerBlock
	if index >= uintptr(pool.blockCount) {
		return 0, false
	}

	return uint32(index), true
}
