package cpu

import "zos/kernel/bitfield"

// ExceptionClass is the EC field of ESR_EL1.
type ExceptionClass uint8

// Exception classes reported for synchronous aborts and system calls.
const (
	ECUnknown           ExceptionClass = 0x00
	ECSVC64             ExceptionClass = 0x15
	ECInstrAbortLowerEL ExceptionClass = 0x20
	ECInstrAbortSameEL  ExceptionClass = 0x21
	ECDataAbortLowerEL  ExceptionClass = 0x24
	ECDataAbortSameEL   ExceptionClass = 0x25
)

// FaultStatus is the DFSC/IFSC code held in the low bits of the ISS field
// for instruction and data aborts.
type FaultStatus uint8

// Fault status groups. The low two bits of a fault status in one of these
// groups hold the lookup level that faulted.
const (
	FSAddressSize FaultStatus = 0b000000
	FSTranslation FaultStatus = 0b000100
	FSAccessFlag  FaultStatus = 0b001000
	FSPermission  FaultStatus = 0b001100
)

type esrTag struct{}

type esrFields struct {
	Layout *bitfield.Layout[esrTag, uint64]

	ISS bitfield.Field[esrTag, uint64, uint32]
	IL  bitfield.Field[esrTag, uint64, bool]
	EC  bitfield.Field[esrTag, uint64, ExceptionClass]
}

var _ [64 - (25 + 1 + 6 + 32)]struct{}

// ESR describes the fields of the exception syndrome register ESR_EL1.
var ESR = func() (r esrFields) {
	l := bitfield.NewLayout[esrTag, uint64]("ESR_EL1")
	r.Layout = l
	r.ISS = bitfield.Uint[uint32](l, "ISS", 25)
	r.IL = bitfield.Bool(l, "IL")
	r.EC = bitfield.Enum[ExceptionClass](l, "EC", 6)
	l.Reserved(32)
	l.Seal()
	return r
}()

// IsAbort returns true if ec is an instruction or data abort.
func (ec ExceptionClass) IsAbort() bool {
	switch ec {
	case ECInstrAbortLowerEL, ECInstrAbortSameEL, ECDataAbortLowerEL, ECDataAbortSameEL:
		return true
	}
	return false
}

// AbortStatus splits the fault status code of an abort syndrome into its
// group and the translation level it refers to.
func AbortStatus(esr uint64) (FaultStatus, uint8) {
	fsc := FaultStatus(ESR.ISS.Get(esr) & 0x3f)
	return fsc &^ 0b11, uint8(fsc & 0b11)
}
