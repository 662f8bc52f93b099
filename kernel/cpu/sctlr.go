package cpu

import "zos/kernel/bitfield"

// SCTLRReservedOnes holds the bits of SCTLR_EL1 that are RES1.
const SCTLRReservedOnes = uint64(0xC00800)

// SCTLRTag identifies SCTLR_EL1 values to the bitfield package.
type SCTLRTag struct{}

type sctlrFields struct {
	Layout *bitfield.Layout[SCTLRTag, uint64]

	M, A, C, SA, SA0, CP15BEN bitfield.Field[SCTLRTag, uint64, bool]
	ITD, SED, UMA             bitfield.Field[SCTLRTag, uint64, bool]
	I                         bitfield.Field[SCTLRTag, uint64, bool]
	DZE, UCT, NTWI, NTWE, WXN bitfield.Field[SCTLRTag, uint64, bool]
	E0E, EE, UCI              bitfield.Field[SCTLRTag, uint64, bool]
}

const sctlrBits = 6 + 1 + 3 + 2 + 1 + 1 + 3 + 1 + 2 + 4 + 3 + 5 + 32

var _ [64 - sctlrBits]struct{}

// SCTLR describes the fields of the system control register SCTLR_EL1.
var SCTLR = func() (r sctlrFields) {
	l := bitfield.NewLayout[SCTLRTag, uint64]("SCTLR_EL1")
	r.Layout = l
	r.M = bitfield.Bool(l, "M")
	r.A = bitfield.Bool(l, "A")
	r.C = bitfield.Bool(l, "C")
	r.SA = bitfield.Bool(l, "SA")
	r.SA0 = bitfield.Bool(l, "SA0")
	r.CP15BEN = bitfield.Bool(l, "CP15BEN")
	l.Reserved(1)
	r.ITD = bitfield.Bool(l, "ITD")
	r.SED = bitfield.Bool(l, "SED")
	r.UMA = bitfield.Bool(l, "UMA")
	l.Reserved(2)
	r.I = bitfield.Bool(l, "I")
	l.Reserved(1)
	r.DZE = bitfield.Bool(l, "DZE")
	r.UCT = bitfield.Bool(l, "UCT")
	r.NTWI = bitfield.Bool(l, "nTWI")
	l.Reserved(1)
	r.NTWE = bitfield.Bool(l, "nTWE")
	r.WXN = bitfield.Bool(l, "WXN")
	l.Reserved(4)
	r.E0E = bitfield.Bool(l, "E0E")
	r.EE = bitfield.Bool(l, "EE")
	r.UCI = bitfield.Bool(l, "UCI")
	l.Reserved(5)
	l.Reserved(32)
	l.Seal()
	return r
}()
