//go:build baremetal

package cpu

// Halt stops instruction execution.
func Halt()

// Dsb issues a full system data synchronization barrier.
func Dsb()

// Isb issues an instruction synchronization barrier.
func Isb()

// InvalidateTlbAll invalidates all stage 1 EL1 TLB entries in the inner
// shareable domain.
func InvalidateTlbAll()

// InvalidateTlbVa invalidates the TLB entries for the page containing va
// for all ASIDs.
func InvalidateTlbVa(va uintptr)

// ReadMairEl1 returns the contents of MAIR_EL1.
func ReadMairEl1() uint64

// WriteMairEl1 sets MAIR_EL1.
func WriteMairEl1(v uint64)

// ReadTcrEl1 returns the contents of TCR_EL1.
func ReadTcrEl1() uint64

// WriteTcrEl1 sets TCR_EL1 followed by an ISB.
func WriteTcrEl1(v uint64)

// ReadSctlrEl1 returns the contents of SCTLR_EL1.
func ReadSctlrEl1() uint64

// WriteSctlrEl1 sets SCTLR_EL1 followed by an ISB.
func WriteSctlrEl1(v uint64)

// ReadTtbr0El1 returns the contents of TTBR0_EL1.
func ReadTtbr0El1() uint64

// WriteTtbr0El1 sets TTBR0_EL1 followed by an ISB.
func WriteTtbr0El1(v uint64)

// ReadTtbr1El1 returns the contents of TTBR1_EL1.
func ReadTtbr1El1() uint64

// WriteTtbr1El1 sets TTBR1_EL1 followed by an ISB.
func WriteTtbr1El1(v uint64)

// ReadEsrEl1 returns the syndrome of the last exception taken to EL1.
func ReadEsrEl1() uint64

// ReadFarEl1 returns the faulting virtual address of the last abort taken
// to EL1.
func ReadFarEl1() uint64
