package vmm

import (
	"testing"
	"zos/kernel"
	"zos/kernel/mem/pmm"
)

func TestNewTranslationTableConfig(t *testing.T) {
	specs := []struct {
		name       string
		cfg        Config
		expErr     *kernel.Error
		startLevel uint8
		sizes      []BlockSize
	}{
		{"4KB 39-bit", Config{Granule: Granule4KB, AddressBits: 39}, nil, 1, []BlockSize{Block1GB, Block2MB, Block4KB}},
		{"4KB 48-bit", Config{Granule: Granule4KB, AddressBits: 48}, nil, 0, []BlockSize{Block1GB, Block2MB, Block4KB}},
		{"4KB 39-bit restricted", Config{Granule: Granule4KB, AddressBits: 39, BlockSizes: []BlockSize{Block4KB, Block2MB}}, nil, 1, []BlockSize{Block2MB, Block4KB}},
		{"16KB 47-bit", Config{Granule: Granule16KB, AddressBits: 47, BlockSizes: []BlockSize{Block32MB, Block16KB}}, nil, 1, []BlockSize{Block32MB, Block16KB}},
		{"64KB 42-bit", Config{Granule: Granule64KB, AddressBits: 42, BlockSizes: []BlockSize{Block512MB}}, nil, 2, []BlockSize{Block512MB}},
		{"512GB blocks have no leaf format", Config{Granule: Granule4KB, AddressBits: 48, BlockSizes: []BlockSize{Block512GB}}, ErrUnsupportedBlockSize, 0, nil},
		{"1GB blocks above a 30-bit root", Config{Granule: Granule4KB, AddressBits: 30, BlockSizes: []BlockSize{Block1GB}}, ErrUnsupportedBlockSize, 0, nil},
		{"block size of another granule", Config{Granule: Granule16KB, AddressBits: 47, BlockSizes: []BlockSize{Block2MB}}, ErrUnsupportedBlockSize, 0, nil},
		{"address space too small", Config{Granule: Granule4KB, AddressBits: 20}, ErrInvalidConfig, 0, nil},
		{"address space too large", Config{Granule: Granule4KB, AddressBits: 49}, ErrInvalidConfig, 0, nil},
		{"unknown granule", Config{Granule: Granule(7), AddressBits: 39}, errUnknownGranule, 0, nil},
	}

	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			g := spec.cfg.Granule
			if !g.Valid() {
				g = Granule4KB
			}
			alloc := newTestAllocator(t, g)

			tt, err := NewTranslationTable(spec.cfg, alloc)
			if err != spec.expErr {
				t.Fatalf("expected error %v; got %v", spec.expErr, err)
			}

			if spec.expErr != nil {
				if tt != nil || alloc.allocs != 0 {
					t.Fatal("expected a rejected configuration not to allocate a root table")
				}
				return
			}

			if tt.StartLevel() != spec.startLevel {
				t.Errorf("expected start level %d; got %d", spec.startLevel, tt.StartLevel())
			}

			sizes := tt.BlockSizes()
			if len(sizes) != len(spec.sizes) {
				t.Fatalf("expected block sizes %v; got %v", spec.sizes, sizes)
			}
			for i := range sizes {
				if sizes[i] != spec.sizes[i] {
					t.Fatalf("expected block sizes %v; got %v", spec.sizes, sizes)
				}
			}

			if tt.TableCount() != 1 || alloc.allocs != 1 {
				t.Fatalf("expected only the root table to be allocated; got %d", tt.TableCount())
			}

			if !alloc.pool.Contains(pmm.FrameFromAddress(tt.Base())) {
				t.Fatal("expected root table to be allocated from the pool")
			}
		})
	}

	t.Run("root allocation failure", func(t *testing.T) {
		alloc := newTestAllocator(t, Granule4KB)
		alloc.failAt = 1

		if _, err := NewTranslationTable(kernelCfg, alloc); err != errTestAlloc {
			t.Fatalf("expected error %v; got %v", errTestAlloc, err)
		}
	})
}

func TestMapPageRoundTrip(t *testing.T) {
	tt, _ := newTestTable(t, kernelCfg)

	var (
		vAddr = uintptr(0x12345000)
		pAddr = uintptr(0x87654000)
	)

	if err := tt.Map(vAddr, pAddr, Block4KB, testParams); err != nil {
		t.Fatal(err)
	}

	var leaf *pageTableEntry
	tt.walk(vAddr, func(level uint8, pte *pageTableEntry) bool {
		if level == leafLevel {
			leaf = pte
		}
		return true
	})

	if leaf == nil {
		t.Fatal("expected walk to reach the leaf level")
	}

	f := &formatsFor(Granule4KB).leaf[leafLevel]
	if got := f.address.Get(uint64(*leaf)); got != uint64(pAddr>>12) {
		t.Fatalf("expected leaf address field to be 0x%x; got 0x%x", pAddr>>12, got)
	}

	if got := f.params(*leaf); got != testParams {
		t.Fatalf("expected leaf attributes %+v; got %+v", testParams, got)
	}

	if leaf.entryType() != EntryTable || !leaf.valid() {
		t.Fatalf("expected a valid page descriptor; got entry type %d", leaf.entryType())
	}

	// root (level 1) + level 2 + level 3
	if exp := 3; tt.TableCount() != exp {
		t.Fatalf("expected %d tables; got %d", exp, tt.TableCount())
	}
}

func TestMapSharedIntermediateTable(t *testing.T) {
	tt, alloc := newTestTable(t, kernelCfg)

	// Both blocks live under the same level 1 entry (the second GB).
	for _, vAddr := range []uintptr{0x40000000, 0x40200000} {
		if err := tt.Map(vAddr, vAddr, Block2MB, testParams); err != nil {
			t.Fatal(err)
		}
	}

	if alloc.allocs != 2 || tt.TableCount() != 2 {
		t.Fatalf("expected root and one shared level 2 table to be allocated; got %d allocations", alloc.allocs)
	}

	// Remapping through the existing branch does not allocate.
	if err := tt.Map(0x40400000, 0x80000000, Block2MB, testParams); err != nil {
		t.Fatal(err)
	}

	if alloc.allocs != 2 {
		t.Fatalf("expected no further allocations; got %d", alloc.allocs)
	}

	if got := len(collectMappings(tt)); got != 3 {
		t.Fatalf("expected 3 mappings; got %d", got)
	}
}

func TestMapErrors(t *testing.T) {
	specs := []struct {
		name   string
		setup  func(*TranslationTable) *kernel.Error
		vAddr  uintptr
		pAddr  uintptr
		size   BlockSize
		expErr *kernel.Error
	}{
		{"block size of another granule", nil, 0, 0, Block16KB, ErrUnsupportedBlockSize},
		{"block size above the root", nil, 0, 0, Block512GB, ErrUnsupportedBlockSize},
		{"misaligned virtual address", nil, 0x201000, 0x400000, Block2MB, ErrMisaligned},
		{"misaligned physical address", nil, 0x200000, 0x401000, Block2MB, ErrMisaligned},
		{"virtual address outside both regions", nil, 1 << 39, 0, Block4KB, ErrAddressOutOfRange},
		{"physical address too wide", nil, 0, 1 << 48, Block4KB, ErrAddressOutOfRange},
		{
			"block in path",
			func(tt *TranslationTable) *kernel.Error { return tt.Map(0, 0, Block2MB, testParams) },
			0x1000, 0x1000, Block4KB, ErrBlockInPath,
		},
		{
			"table in path",
			func(tt *TranslationTable) *kernel.Error { return tt.Map(0x201000, 0, Block4KB, testParams) },
			0x200000, 0x200000, Block2MB, ErrTableInPath,
		},
		{
			"destroyed table",
			func(tt *TranslationTable) *kernel.Error { _, err := tt.Destroy(); return err },
			0, 0, Block4KB, errTableDestroyed,
		},
	}

	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			tt, _ := newTestTable(t, kernelCfg)
			if spec.setup != nil {
				if err := spec.setup(tt); err != nil {
					t.Fatal(err)
				}
			}

			if err := tt.Map(spec.vAddr, spec.pAddr, spec.size, testParams); err != spec.expErr {
				t.Fatalf("expected error %v; got %v", spec.expErr, err)
			}
		})
	}

	t.Run("block size excluded by the configuration", func(t *testing.T) {
		tt, _ := newTestTable(t, Config{Granule: Granule4KB, AddressBits: 39, BlockSizes: []BlockSize{Block4KB}})
		if err := tt.Map(0, 0, Block2MB, testParams); err != ErrUnsupportedBlockSize {
			t.Fatalf("expected error %v; got %v", ErrUnsupportedBlockSize, err)
		}
	})
}

func TestMapOverwritesLeaf(t *testing.T) {
	tt, alloc := newTestTable(t, kernelCfg)

	if err := tt.Map(0x5000, 0x100000, Block4KB, testParams); err != nil {
		t.Fatal(err)
	}
	allocs := alloc.allocs

	params := EntryParameters{MemoryAttr: AttrDeviceNGnRnE, AF: true}
	if err := tt.Map(0x5000, 0x200000, Block4KB, params); err != nil {
		t.Fatal(err)
	}

	pAddr, slot, err := tt.Translate(0x5abc)
	if err != nil {
		t.Fatal(err)
	}

	if pAddr != 0x200abc || slot.Params != params {
		t.Fatalf("expected the second mapping to replace the first; got 0x%x %+v", pAddr, slot.Params)
	}

	if alloc.allocs != allocs {
		t.Fatalf("expected overwrite not to allocate tables")
	}
}

func TestMapAllocationFailure(t *testing.T) {
	tt, alloc := newTestTable(t, kernelCfg)
	alloc.failAt = alloc.allocs + 1

	if err := tt.Map(0x40000000, 0, Block4KB, testParams); err != errTestAlloc {
		t.Fatalf("expected error %v; got %v", errTestAlloc, err)
	}

	for index, pte := range tableEntries(pmm.FrameFromAddress(tt.Base()), Granule4KB) {
		if pte != 0 {
			t.Fatalf("expected root slot %d to remain invalid; got 0x%x", index, pte)
		}
	}

	if tt.TableCount() != 1 {
		t.Fatalf("expected only the root table; got %d", tt.TableCount())
	}

	// Once memory is available again the same mapping succeeds.
	alloc.failAt = 0
	if err := tt.Map(0x40000000, 0, Block4KB, testParams); err != nil {
		t.Fatal(err)
	}
}

func TestTranslateAndUnmap(t *testing.T) {
	tt, _ := newTestTable(t, kernelCfg)

	if err := tt.Map(0x200000, 0x40000000, Block2MB, testParams); err != nil {
		t.Fatal(err)
	}

	pAddr, slot, err := tt.Translate(0x212345)
	if err != nil {
		t.Fatal(err)
	}

	if pAddr != 0x40012345 || slot.Kind != SlotLeaf || slot.Params != testParams {
		t.Fatalf("unexpected translation 0x%x %+v", pAddr, slot)
	}

	if _, _, err = tt.Translate(0x400000); err != ErrInvalidMapping {
		t.Fatalf("expected error %v; got %v", ErrInvalidMapping, err)
	}

	if _, _, err = tt.Translate(1 << 40); err != ErrAddressOutOfRange {
		t.Fatalf("expected error %v; got %v", ErrAddressOutOfRange, err)
	}

	tables := tt.TableCount()
	if err = tt.Unmap(0x200005); err != nil {
		t.Fatal(err)
	}

	if _, _, err = tt.Translate(0x212345); err != ErrInvalidMapping {
		t.Fatalf("expected error %v after unmap; got %v", ErrInvalidMapping, err)
	}

	if err = tt.Unmap(0x200000); err != ErrInvalidMapping {
		t.Fatalf("expected error %v; got %v", ErrInvalidMapping, err)
	}

	if tt.TableCount() != tables {
		t.Fatal("expected unmap to keep intermediate tables")
	}
}

func TestWalkOrder(t *testing.T) {
	tt, _ := newTestTable(t, kernelCfg)

	exp := []Mapping{
		{VirtAddr: 0x1000, PhysAddr: 0x9000, Size: Block4KB, Level: 3, Params: testParams},
		{VirtAddr: 0x200000, PhysAddr: 0x400000, Size: Block2MB, Level: 2, Params: testParams},
		{VirtAddr: 0x40000000, PhysAddr: 0x80000000, Size: Block1GB, Level: 1, Params: testParams},
		{VirtAddr: 0x7fc0000000, PhysAddr: 0, Size: Block1GB, Level: 1, Params: testParams},
	}

	// Map in reverse order; Walk must report ascending addresses.
	for i := len(exp) - 1; i >= 0; i-- {
		if err := tt.Map(exp[i].VirtAddr, exp[i].PhysAddr, exp[i].Size, exp[i].Params); err != nil {
			t.Fatal(err)
		}
	}

	got := collectMappings(tt)
	if len(got) != len(exp) {
		t.Fatalf("expected %d mappings; got %d", len(exp), len(got))
	}
	for i := range exp {
		if got[i] != exp[i] {
			t.Errorf("mapping %d: expected %+v; got %+v", i, exp[i], got[i])
		}
	}

	var visited int
	tt.Walk(func(Mapping) bool {
		visited++
		return visited < 2
	})

	if visited != 2 {
		t.Fatalf("expected walk to stop after 2 mappings; visited %d", visited)
	}
}

func TestDestroy(t *testing.T) {
	tt, alloc := newTestTable(t, kernelCfg)

	// Leaves point to pages from the same pool; none of them may be
	// released by Destroy.
	var leaves []pmm.Frame
	for i := 0; i < 5; i++ {
		page, err := alloc.pool.AllocFrame()
		if err != nil {
			t.Fatal(err)
		}
		leaves = append(leaves, page)
	}

	vAddrs := []uintptr{0x0, 0x1000, 0x40000000, 0x40201000, 0x7fc0000000}
	for i, vAddr := range vAddrs {
		if err := tt.Map(vAddr, leaves[i].Address(), Block4KB, testParams); err != nil {
			t.Fatal(err)
		}
	}

	// root, 3 level 2 tables and 4 level 3 tables
	tables := tt.TableCount()
	if tables != 8 {
		t.Fatalf("expected 8 tables; got %d", tables)
	}

	var (
		reserved  = alloc.pool.Reserved()
		rootFrame = pmm.FrameFromAddress(tt.Base())
	)

	freed, err := tt.Destroy()
	if err != nil {
		t.Fatal(err)
	}

	if freed != tables || alloc.frees != tables {
		t.Fatalf("expected %d table frees; got %d (%d calls)", tables, freed, alloc.frees)
	}

	for _, frame := range alloc.freed {
		for _, leaf := range leaves {
			if frame == leaf {
				t.Fatalf("leaf page 0x%x was freed", leaf.Address())
			}
		}
	}

	// The root is released last.
	if last := alloc.freed[len(alloc.freed)-1]; last != rootFrame {
		t.Fatalf("expected the root table to be freed last; got 0x%x", last.Address())
	}

	if got := alloc.pool.Reserved(); got != reserved-uint32(tables) || got != uint32(len(leaves)) {
		t.Fatalf("expected only the %d leaf pages to remain reserved; got %d", len(leaves), got)
	}

	if _, err = tt.Destroy(); err != errTableDestroyed {
		t.Fatalf("expected error %v; got %v", errTableDestroyed, err)
	}

	if _, _, err = tt.Translate(0); err != errTableDestroyed {
		t.Fatalf("expected error %v; got %v", errTableDestroyed, err)
	}
}

func TestHigherHalfIndexing(t *testing.T) {
	tt, _ := newTestTable(t, kernelCfg)

	// First address of a 39-bit higher half.
	higher := uintptr(0xffffff8000000000)
	if err := tt.Map(higher+0x40000000, 0x1000, Block4KB, testParams); err != nil {
		t.Fatal(err)
	}

	// The table does not know which half it serves; the mapping is
	// reported relative to the start of the region.
	got := collectMappings(tt)
	if len(got) != 1 || got[0].VirtAddr != 0x40000000 {
		t.Fatalf("unexpected mappings %+v", got)
	}

	pAddr, _, err := tt.Translate(higher + 0x40000010)
	if err != nil || pAddr != 0x1010 {
		t.Fatalf("expected translation to 0x1010; got 0x%x (%v)", pAddr, err)
	}
}
