// Package cpu provides access to the ARM64 system registers, barriers and
// TLB maintenance instructions used by the memory management code, along
// with bitfield layouts for the registers it exposes.
//
// Kernel builds (GOARCH=arm64 with the baremetal tag) use the assembly
// implementation. Every other build uses a simulated register file so the
// kernel packages can run as a regular process for tests and tooling.
package cpu

// ExceptionLevel is the value of the M[3:0] field of SPSR_EL1.
type ExceptionLevel uint8

// Exception levels and stack pointer selection (t: SP_EL0, h: SP_ELx).
const (
	EL0t ExceptionLevel = 0b0000
	EL1t ExceptionLevel = 0b0100
	EL1h ExceptionLevel = 0b0101
)
