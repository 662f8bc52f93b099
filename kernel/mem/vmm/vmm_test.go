package vmm

import (
	"testing"
	"zos/kernel"
	"zos/kernel/cpu"
	"zos/kernel/mem"
	"zos/kernel/mem/pmm"
	"zos/kernel/mem/pmm/allocator"
)

var errTestAlloc = &kernel.Error{Module: "test", Message: "out of frames"}

// countingAllocator wraps a hosted page pool and records every call made by
// the translation code.
type countingAllocator struct {
	pool *allocator.PagePool

	allocs int
	frees  int
	freed  []pmm.Frame

	// failAt makes the n-th AllocFrame call (1-based) fail. Zero never
	// fails.
	failAt int
}

func (a *countingAllocator) AllocFrame() (pmm.Frame, *kernel.Error) {
	a.allocs++
	if a.failAt != 0 && a.allocs == a.failAt {
		return pmm.InvalidFrame, errTestAlloc
	}
	return a.pool.AllocFrame()
}

func (a *countingAllocator) FreeFrame(frame pmm.Frame) *kernel.Error {
	a.frees++
	a.freed = append(a.freed, frame)
	return a.pool.FreeFrame(frame)
}

func (a *countingAllocator) BlockSize() mem.Size {
	return a.pool.BlockSize()
}

func newTestPool(t *testing.T, g Granule, blocks uint32) *allocator.PagePool {
	t.Helper()

	pool, err := allocator.NewHostedPagePool(g.Size(), blocks)
	if err != nil {
		t.Fatalf("unable to create page pool: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })
	return pool
}

func newTestAllocator(t *testing.T, g Granule) *countingAllocator {
	t.Helper()
	return &countingAllocator{pool: newTestPool(t, g, 64)}
}

func newTestTable(t *testing.T, cfg Config) (*TranslationTable, *countingAllocator) {
	t.Helper()

	alloc := newTestAllocator(t, cfg.Granule)
	tt, err := NewTranslationTable(cfg, alloc)
	if err != nil {
		t.Fatalf("unable to create translation table: %v", err)
	}
	return tt, alloc
}

func collectMappings(tt *TranslationTable) []Mapping {
	var list []Mapping
	tt.Walk(func(m Mapping) bool {
		list = append(list, m)
		return true
	})
	return list
}

var (
	kernelCfg = Config{Granule: Granule4KB, AddressBits: 39}

	testParams = EntryParameters{
		MemoryAttr: AttrNormal,
		S2AP:       AccessUserRO,
		SH:         cpu.InnerShareable,
		AF:         true,
		Contiguous: true,
		XN:         true,
	}
)
