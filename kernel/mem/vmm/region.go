package vmm

import (
	"zos/kernel"
	"zos/kernel/mem"
	"zos/kernel/mem/pmm"
)

var errRegionPageSize = &kernel.Error{Module: "vmm", Message: "region page size does not match the allocator block size"}

// Region is a range of physical memory that can be mapped into an address
// space with MapRegion. It is implemented by *PagedRegion and
// *DirectRegion.
type Region interface {
	// Size returns the number of bytes covered by the region.
	Size() mem.Size
}

// PagedRegion is a region made up of individually allocated pages that are
// not necessarily physically contiguous. Each page is mapped with a single
// granule-sized descriptor.
type PagedRegion struct {
	// Pages holds the first frame of each granule-sized page.
	Pages []pmm.Frame

	// PageSize is the size of each page. It must match the granule of
	// the address space the region is mapped into; zero selects
	// mem.PageSize.
	PageSize mem.Size

	alloc FrameAllocator
}

// NewPagedRegion allocates count zeroed pages of pageSize bytes from alloc.
// Pages allocated before a failure are returned to alloc. The region owns
// its pages until Release is called; mapping it into an address space does
// not transfer ownership.
//
// pageSize must equal the size of the blocks returned by alloc. Allocators
// that do not implement BlockSize are assumed to return mem.PageSize blocks.
func NewPagedRegion(alloc FrameAllocator, pageSize mem.Size, count int) (*PagedRegion, *kernel.Error) {
	r := &PagedRegion{Pages: make([]pmm.Frame, 0, count), PageSize: pageSize, alloc: alloc}
	if blockSize := allocBlockSize(alloc); r.pageSize() != blockSize {
		log.Errorf("region page size 0x%x does not match allocator block size 0x%x\n", uint64(r.pageSize()), uint64(blockSize))
		return nil, errRegionPageSize
	}

	for i := 0; i < count; i++ {
		frame, err := alloc.AllocFrame()
		if err != nil {
			if rerr := r.Release(); rerr != nil {
				log.Errorf("unable to release partial region: %s\n", rerr.Message)
			}
			return nil, err
		}
		r.Pages = append(r.Pages, frame)
	}

	return r, nil
}

// blockSizer is implemented by allocators that hand out blocks larger than
// a page.
type blockSizer interface {
	BlockSize() mem.Size
}

func allocBlockSize(alloc FrameAllocator) mem.Size {
	if bs, ok := alloc.(blockSizer); ok {
		return bs.BlockSize()
	}
	return mem.PageSize
}

// Size implements Region.
func (r *PagedRegion) Size() mem.Size {
	return r.pageSize() * mem.Size(len(r.Pages))
}

func (r *PagedRegion) pageSize() mem.Size {
	if r.PageSize == 0 {
		return mem.PageSize
	}
	return r.PageSize
}

// Release returns the pages of a region created by NewPagedRegion to its
// allocator. Regions built by hand own nothing and Release is a no-op.
func (r *PagedRegion) Release() *kernel.Error {
	if r.alloc == nil {
		return nil
	}

	var firstErr *kernel.Error
	for _, frame := range r.Pages {
		if err := r.alloc.FreeFrame(frame); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	r.Pages = nil
	return firstErr
}

// DirectRegion is a physically contiguous region. It is mapped with the
// largest block sizes its alignment allows.
type DirectRegion struct {
	Phys   uintptr
	Length mem.Size
}

// Size implements Region.
func (r *DirectRegion) Size() mem.Size {
	return r.Length
}
