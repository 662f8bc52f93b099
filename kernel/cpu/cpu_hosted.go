//go:build !(arm64 && baremetal)

package cpu

import "os"

// sim is the register file of the simulated CPU.
var sim struct {
	mair, tcr, sctlr uint64
	ttbr0, ttbr1     uint64
	esr, far         uint64

	tlbFlushAll, tlbFlushVa uint64
}

// exitFn is mocked by tests.
var exitFn = os.Exit

// Halt terminates the hosting process.
func Halt() { exitFn(1) }

// Dsb is a no-op on the simulated CPU.
func Dsb() {}

// Isb is a no-op on the simulated CPU.
func Isb() {}

// InvalidateTlbAll records a full TLB invalidation.
func InvalidateTlbAll() { sim.tlbFlushAll++ }

// InvalidateTlbVa records a single page TLB invalidation.
func InvalidateTlbVa(_ uintptr) { sim.tlbFlushVa++ }

// ReadMairEl1 returns the simulated MAIR_EL1.
func ReadMairEl1() uint64 { return sim.mair }

// WriteMairEl1 sets the simulated MAIR_EL1.
func WriteMairEl1(v uint64) { sim.mair = v }

// ReadTcrEl1 returns the simulated TCR_EL1.
func ReadTcrEl1() uint64 { return sim.tcr }

// WriteTcrEl1 sets the simulated TCR_EL1.
func WriteTcrEl1(v uint64) { sim.tcr = v }

// ReadSctlrEl1 returns the simulated SCTLR_EL1.
func ReadSctlrEl1() uint64 { return sim.sctlr }

// WriteSctlrEl1 sets the simulated SCTLR_EL1.
func WriteSctlrEl1(v uint64) { sim.sctlr = v }

// ReadTtbr0El1 returns the simulated TTBR0_EL1.
func ReadTtbr0El1() uint64 { return sim.ttbr0 }

// WriteTtbr0El1 sets the simulated TTBR0_EL1.
func WriteTtbr0El1(v uint64) { sim.ttbr0 = v }

// ReadTtbr1El1 returns the simulated TTBR1_EL1.
func ReadTtbr1El1() uint64 { return sim.ttbr1 }

// WriteTtbr1El1 sets the simulated TTBR1_EL1.
func WriteTtbr1El1(v uint64) { sim.ttbr1 = v }

// ReadEsrEl1 returns the syndrome loaded by InjectFault.
func ReadEsrEl1() uint64 { return sim.esr }

// ReadFarEl1 returns the fault address loaded by InjectFault.
func ReadFarEl1() uint64 { return sim.far }

// InjectFault loads the syndrome and fault address registers of the
// simulated CPU as if an abort had been taken.
func InjectFault(esr, far uint64) {
	sim.esr, sim.far = esr, far
}
