// Package kmain contains the Go entry point of the kernel.
package kmain

import (
	"zos/kernel"
	"zos/kernel/cpu"
	"zos/kernel/kfmt"
	"zos/kernel/mem"
	"zos/kernel/mem/pmm"
	"zos/kernel/mem/pmm/allocator"
	"zos/kernel/mem/vmm"
)

const (
	// KernelAddressBits is the size of each half of the kernel address
	// space.
	KernelAddressBits = 39

	// KernelGranule is the translation granule used by the kernel.
	KernelGranule = vmm.Granule4KB

	// DeviceBase and DeviceLength describe the peripheral MMIO window,
	// which is identity mapped as device memory.
	DeviceBase   = uintptr(0x3f000000)
	DeviceLength = 16 * mem.Mb

	// HigherAliasBase is the higher half address at which the first
	// page of physical memory is made visible.
	HigherAliasBase = uintptr(0xffffffffffe00000)
)

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

	log = kfmt.Logger{Module: "kmain"}

	// KernelSpace is the address space installed by Init.
	KernelSpace *vmm.AddressSpace

	normalMemory = vmm.Attributes{MemoryAttr: vmm.AttrNormal, SH: cpu.InnerShareable, AF: true}
	deviceMemory = vmm.Attributes{MemoryAttr: vmm.AttrDeviceNGnRnE, AF: true, XN: true}

	newPoolFn = func(start, end uintptr) (vmm.FrameAllocator, *kernel.Error) {
		start = uintptr(mem.PageSize.AlignUp(mem.Size(start)))
		if end <= start {
			return nil, errNoPoolMemory
		}

		// A trailing partial page is not part of the pool.
		count := (end - start) >> mem.PageShift
		if count == 0 {
			return nil, errNoPoolMemory
		}
		return allocator.NewPagePool(pmm.FrameFromAddress(start), mem.PageSize, uint32(count))
	}
	enableMMUFn = vmm.EnableMMU
	panicFn     = kfmt.Panic

	errNoPoolMemory = &kernel.Error{Module: "kmain", Message: "no memory available for the page pool"}
)

// Kmain is invoked by the boot code once a stack is available. It receives
// the physical range reserved for translation tables and the extent of the
// kernel image.
//
// Kmain is not expected to return. If it does, the boot code will halt the
// CPU.
//
//go:noinline
func Kmain(poolStart, poolEnd, kernelStart, kernelEnd uintptr) {
	if err := Init(poolStart, poolEnd, kernelStart, kernelEnd); err != nil {
		panicFn(err)
		return
	}

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating kfmt.Panic as dead-code and eliminating it.
	panicFn(errKmainReturned)
}

// Init builds the kernel address space, installs it and turns on the MMU.
// The kernel image and the device window are identity mapped through the
// lower half; the first physical page is aliased at HigherAliasBase.
func Init(poolStart, poolEnd, kernelStart, kernelEnd uintptr) *kernel.Error {
	pool, err := newPoolFn(poolStart, poolEnd)
	if err != nil {
		return err
	}

	space, err := vmm.NewAddressSpace(vmm.SpaceConfig{
		Granule:     KernelGranule,
		AddressBits: KernelAddressBits,
		Lower:       true,
		Higher:      true,
	}, pool)
	if err != nil {
		return err
	}

	pageSize := KernelGranule.Size()
	kernelStart = kernelStart &^ uintptr(pageSize-1)
	kernelImage := &vmm.DirectRegion{
		Phys:   kernelStart,
		Length: pageSize.AlignUp(mem.Size(kernelEnd - kernelStart)),
	}

	regions := []struct {
		base   uintptr
		region vmm.Region
		attrs  vmm.Attributes
	}{
		{kernelStart, kernelImage, normalMemory},
		{DeviceBase, &vmm.DirectRegion{Phys: DeviceBase, Length: DeviceLength}, deviceMemory},
		{HigherAliasBase, &vmm.DirectRegion{Phys: 0, Length: pageSize}, normalMemory},
	}

	for _, r := range regions {
		if err = space.MapRegion(r.base, r.region, r.attrs); err != nil {
			_, _ = space.Destroy()
			return err
		}
	}

	if err = space.Activate(); err != nil {
		return err
	}

	if err = enableMMUFn(vmm.MMUConfig{Granule: KernelGranule, AddressBits: KernelAddressBits, IPS: cpu.IPS32Bit}); err != nil {
		return err
	}

	KernelSpace = space
	log.Infof("kernel address space ready (lower 0x%x, higher 0x%x)\n", uint64(space.LowerBase()), uint64(space.HigherBase()))
	return nil
}
