package cpu

import "zos/kernel/bitfield"

type spsrTag struct{}

type spsrFields struct {
	Layout *bitfield.Layout[spsrTag, uint64]

	M          bitfield.Field[spsrTag, uint64, ExceptionLevel]
	AArch32    bitfield.Field[spsrTag, uint64, bool]
	F, I, A, D bitfield.Field[spsrTag, uint64, bool]
	IL, SS     bitfield.Field[spsrTag, uint64, bool]
	V, C, Z, N bitfield.Field[spsrTag, uint64, bool]
}

const spsrBits = 4 + 1 + 1 + 4 + 10 + 2 + 6 + 4 + 32

var _ [64 - spsrBits]struct{}

// SPSR describes the fields of the saved program status register SPSR_EL1
// restored on exception return.
var SPSR = func() (r spsrFields) {
	l := bitfield.NewLayout[spsrTag, uint64]("SPSR_EL1")
	r.Layout = l
	r.M = bitfield.Enum[ExceptionLevel](l, "M", 4)
	r.AArch32 = bitfield.Bool(l, "nRW")
	l.Reserved(1)
	r.F = bitfield.Bool(l, "F")
	r.I = bitfield.Bool(l, "I")
	r.A = bitfield.Bool(l, "A")
	r.D = bitfield.Bool(l, "D")
	l.Reserved(10)
	r.IL = bitfield.Bool(l, "IL")
	r.SS = bitfield.Bool(l, "SS")
	l.Reserved(6)
	r.V = bitfield.Bool(l, "V")
	r.C = bitfield.Bool(l, "C")
	r.Z = bitfield.Bool(l, "Z")
	r.N = bitfield.Bool(l, "N")
	l.Reserved(32)
	l.Seal()
	return r
}()
