package vmm

import (
	"zos/kernel"
	"zos/kernel/cpu"
	"zos/kernel/kfmt"
)

var (
	readEsrFn = cpu.ReadEsrEl1
	readFarFn = cpu.ReadFarEl1
	panicFn   = kfmt.Panic

	errUnrecoverableFault = &kernel.Error{Module: "vmm", Message: "page/translation fault"}
)

// HandleAbort is invoked by the synchronous exception vector when an
// instruction or data abort is taken. Mappings are never created on demand
// so every abort is reported and treated as fatal.
func HandleAbort() {
	var (
		esr       = readEsrFn()
		faultAddr = uintptr(readFarFn())
		ec        = cpu.ESR.EC.Get(esr)
	)

	kfmt.Printf("\nAbort while accessing address: 0x%16x\n", uint64(faultAddr))
	printSyndrome(esr)
	kfmt.Printf("Reason: ")
	if !ec.IsAbort() {
		kfmt.Printf("unexpected exception class 0x%x\n", uint8(ec))
		panicFn(errUnrecoverableFault)
		return
	}

	status, level := cpu.AbortStatus(esr)
	switch status {
	case cpu.FSAddressSize:
		kfmt.Printf("address size fault")
	case cpu.FSTranslation:
		kfmt.Printf("translation fault")
	case cpu.FSAccessFlag:
		kfmt.Printf("access flag fault")
	case cpu.FSPermission:
		kfmt.Printf("permission fault")
	default:
		kfmt.Printf("unknown")
	}
	kfmt.Printf(" at level %d", level)

	switch ec {
	case cpu.ECInstrAbortLowerEL, cpu.ECInstrAbortSameEL:
		kfmt.Printf(" (instruction fetch)\n")
	default:
		kfmt.Printf(" (data access)\n")
	}

	describeFault(faultAddr)
	panicFn(errUnrecoverableFault)
}

// printSyndrome prints the fields of an ESR_EL1 value. Bits outside the
// known fields are reported only when set.
func printSyndrome(esr uint64) {
	kfmt.Printf("Syndrome:")
	cpu.ESR.Layout.Visit(esr, func(name string, _, _ uint, value uint64) {
		kfmt.Printf(" %s=0x%x", name, value)
	})
	if res0 := esr & cpu.ESR.Layout.ReservedMask(); res0 != 0 {
		kfmt.Printf(" RES0=0x%x", res0)
	}
	kfmt.Printf("\n")
}

// describeFault prints the translation of faultAddr in the active address
// space, if one is installed.
func describeFault(faultAddr uintptr) {
	if activeSpace == nil || activeSpace.destroyed {
		return
	}

	half := LowerHalf
	if faultAddr >= activeSpace.HigherStart() {
		half = HigherHalf
	}

	tt := activeSpace.tables[half]
	if tt == nil {
		kfmt.Printf("No %s half table is installed\n", half.String())
		return
	}

	pAddr, slot, err := tt.Translate(faultAddr)
	if err != nil {
		kfmt.Printf("Address is not mapped in the %s half\n", half.String())
		return
	}

	kfmt.Printf("Address maps to 0x%x (attr %d, ap %d, af %t, xn %t)\n",
		uint64(pAddr), uint8(slot.Params.MemoryAttr), uint8(slot.Params.S2AP), slot.Params.AF, slot.Params.XN)
}
