package vmm

import (
	"zos/kernel"
	"zos/kernel/bitfield"
	"zos/kernel/cpu"
)

var (
	errMMUConfig = &kernel.Error{Module: "mmu", Message: "invalid MMU configuration"}

	// The register accessors are replaced by tests.
	dsbFn        = cpu.Dsb
	isbFn        = cpu.Isb
	writeMairFn  = cpu.WriteMairEl1
	writeTcrFn   = cpu.WriteTcrEl1
	readSctlrFn  = cpu.ReadSctlrEl1
	writeSctlrFn = cpu.WriteSctlrEl1
)

// memoryTypes maps each MemoryAttr index to the MAIR_EL1 memory type it
// selects.
var memoryTypes = [...]cpu.MemoryType{
	AttrDeviceNGnRnE: cpu.DeviceNGnRnE,
	AttrDeviceNGnRE:  cpu.DeviceNGnRE,
	AttrDeviceGRE:    cpu.DeviceGRE,
	AttrNormalNC:     cpu.NormalNonCacheable,
	AttrNormal:       cpu.Normal,
}

// MMUConfig describes the translation regime programmed by EnableMMU. The
// same granule and address size are used for both halves.
type MMUConfig struct {
	Granule     Granule
	AddressBits uint8
	IPS         cpu.PhysAddrSize
}

// MAIRValue returns the MAIR_EL1 value that backs the MemoryAttr indices.
func MAIRValue() uint64 {
	var mair uint64
	for index, memType := range memoryTypes {
		mair = bitfield.Set(mair, cpu.MAIR.Attr[index].Of(memType))
	}
	return mair
}

// TCRValue returns the TCR_EL1 value for cfg. Table walks for both halves
// are inner shareable and write-back cacheable.
func TCRValue(cfg MMUConfig) (uint64, *kernel.Error) {
	if !cfg.Granule.Valid() || uint(cfg.AddressBits) < cfg.Granule.Shift()+cfg.Granule.indexBits() || cfg.AddressBits > maxAddressBits {
		return 0, errMMUConfig
	}

	var (
		tg0 = [...]cpu.Granule0{Granule4KB: cpu.TG0Granule4KB, Granule16KB: cpu.TG0Granule16KB, Granule64KB: cpu.TG0Granule64KB}
		tg1 = [...]cpu.Granule1{Granule4KB: cpu.TG1Granule4KB, Granule16KB: cpu.TG1Granule16KB, Granule64KB: cpu.TG1Granule64KB}
		tsz = cpu.RegionSizeOffset(cfg.AddressBits)
	)

	return bitfield.MakeValue(
		cpu.TCR.T0SZ.Of(tsz),
		cpu.TCR.IRGN0.Of(cpu.WriteBackCacheable),
		cpu.TCR.ORGN0.Of(cpu.WriteBackCacheable),
		cpu.TCR.SH0.Of(cpu.InnerShareable),
		cpu.TCR.TG0.Of(tg0[cfg.Granule]),
		cpu.TCR.T1SZ.Of(tsz),
		cpu.TCR.IRGN1.Of(cpu.WriteBackCacheable),
		cpu.TCR.ORGN1.Of(cpu.WriteBackCacheable),
		cpu.TCR.SH1.Of(cpu.InnerShareable),
		cpu.TCR.TG1.Of(tg1[cfg.Granule]),
		cpu.TCR.IPS.Of(cfg.IPS),
	), nil
}

// SCTLRValue returns cur with the MMU, the caches and the alignment checks
// enabled. The reserved bits that must be set are forced on.
func SCTLRValue(cur uint64) uint64 {
	reg := bitfield.NewReg[cpu.SCTLRTag](cur | cpu.SCTLRReservedOnes)
	reg.Set(
		cpu.SCTLR.M.Of(true),
		cpu.SCTLR.A.Of(true),
		cpu.SCTLR.C.Of(true),
		cpu.SCTLR.SA.Of(true),
		cpu.SCTLR.SA0.Of(true),
		cpu.SCTLR.I.Of(true),
	)
	return reg.Raw()
}

// EnableMMU programs the memory attributes and the translation control
// register and then turns on address translation. The translation base
// registers must already point to valid tables (see AddressSpace.Activate).
func EnableMMU(cfg MMUConfig) *kernel.Error {
	tcr, err := TCRValue(cfg)
	if err != nil {
		return err
	}

	dsbFn()
	writeMairFn(MAIRValue())
	writeTcrFn(tcr)
	isbFn()
	writeSctlrFn(SCTLRValue(readSctlrFn()))
	isbFn()

	log.Infof("MMU enabled (granule %s, %d-bit address space)\n", cfg.Granule.String(), cfg.AddressBits)
	return nil
}
