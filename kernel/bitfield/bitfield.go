// Package bitfield models hardware registers as declarative layouts of named
// bit fields packed into an unsigned integer.
//
// A layout is declared once, at package initialisation, by appending fields
// from bit 0 upwards:
//
//	type tcrTag struct{}
//
//	var (
//		tcr  = bitfield.NewLayout[tcrTag, uint64]("TCR_EL1")
//		t0sz = bitfield.Uint[uint8](tcr, "T0SZ", 6)
//		_    = tcr.Reserved(1)
//		epd0 = bitfield.Bool(tcr, "EPD0")
//	)
//
// The tag type L identifies the register. Fields carry it in their type, so
// passing a field of one register to an operation on another does not
// compile. Declaring more bits than the raw type holds, reusing a sealed
// layout or passing the same field twice to one operation are programming
// errors that panic with a *kernel.Error.
package bitfield

import (
	"unsafe"
	"zos/kernel"
)

// Unsigned is the set of types a register can be stored in.
type Unsigned interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

var (
	errLayoutOverflow = &kernel.Error{Module: "bitfield", Message: "field does not fit in register"}
	errFieldWidth     = &kernel.Error{Module: "bitfield", Message: "field width exceeds its value type"}
	errZeroWidth      = &kernel.Error{Module: "bitfield", Message: "field width must be positive"}
	errLayoutSealed   = &kernel.Error{Module: "bitfield", Message: "cannot add fields to a sealed layout"}
	errForeignField   = &kernel.Error{Module: "bitfield", Message: "field belongs to a different layout"}
	errDuplicateField = &kernel.Error{Module: "bitfield", Message: "field specified more than once"}
)

type fieldInfo struct {
	name          string
	offset, width uint
	reserved      bool
}

// Layout describes the ordered fields of a register stored in R.
type Layout[L any, R Unsigned] struct {
	name   string
	used   uint
	fields []fieldInfo
	sealed bool
}

// NewLayout returns an empty layout for the register identified by L.
func NewLayout[L any, R Unsigned](name string) *Layout[L, R] {
	return &Layout[L, R]{name: name}
}

// Name returns the register name.
func (l *Layout[L, R]) Name() string { return l.name }

// Bits returns the width of the raw register type.
func (l *Layout[L, R]) Bits() uint { return bitsOf[R]() }

// Used returns the number of bits claimed by fields, including reserved ones.
func (l *Layout[L, R]) Used() uint { return l.used }

// Reserved appends width bits that carry no field and must be zero. It
// returns the offset of the reserved run.
func (l *Layout[L, R]) Reserved(width uint) uint {
	return l.add("", width, true)
}

// Seal prevents further fields from being added and returns the layout.
func (l *Layout[L, R]) Seal() *Layout[L, R] {
	l.sealed = true
	return l
}

// Visit invokes fn for every named field with the field value extracted from
// raw. Reserved runs are skipped.
func (l *Layout[L, R]) Visit(raw R, fn func(name string, offset, width uint, value uint64)) {
	for _, f := range l.fields {
		if f.reserved {
			continue
		}
		fn(f.name, f.offset, f.width, uint64((raw>>f.offset)&widthMask[R](f.width)))
	}
}

// ReservedMask returns the bits of the register that are not covered by a
// named field, including any unused bits above the last field.
func (l *Layout[L, R]) ReservedMask() R {
	var named R
	for _, f := range l.fields {
		if !f.reserved {
			named |= widthMask[R](f.width) << f.offset
		}
	}
	return ^named
}

func (l *Layout[L, R]) add(name string, width uint, reserved bool) uint {
	switch {
	case l.sealed:
		panic(errLayoutSealed)
	case width == 0:
		panic(errZeroWidth)
	case l.used+width > l.Bits():
		panic(errLayoutOverflow)
	}

	offset := l.used
	l.fields = append(l.fields, fieldInfo{name: name, offset: offset, width: width, reserved: reserved})
	l.used += width
	return offset
}

// Field describes a field of type T within the layout of register L.
type Field[L any, R Unsigned, T any] struct {
	layout        *Layout[L, R]
	index         uint8
	offset, width uint
	enc           func(T) R
	dec           func(R) T
}

// Uint declares an unsigned integer field of width bits.
func Uint[T Unsigned, L any, R Unsigned](l *Layout[L, R], name string, width uint) Field[L, R, T] {
	return declare(l, name, width, func(v T) R { return R(v) }, func(r R) T { return T(r) })
}

// Enum declares a field holding one of a set of named values of type T. It
// encodes exactly like Uint; the distinct constructor documents intent at
// the declaration site.
func Enum[T Unsigned, L any, R Unsigned](l *Layout[L, R], name string, width uint) Field[L, R, T] {
	return Uint[T](l, name, width)
}

// Bool declares a single-bit flag.
func Bool[L any, R Unsigned](l *Layout[L, R], name string) Field[L, R, bool] {
	return declare(l, name, 1,
		func(v bool) R {
			if v {
				return 1
			}
			return 0
		},
		func(r R) bool { return r != 0 },
	)
}

func declare[L any, R Unsigned, T any](l *Layout[L, R], name string, width uint, enc func(T) R, dec func(R) T) Field[L, R, T] {
	if width > bitsOf[T]() {
		panic(errFieldWidth)
	}

	index := uint8(len(l.fields))
	offset := l.add(name, width, false)
	return Field[L, R, T]{layout: l, index: index, offset: offset, width: width, enc: enc, dec: dec}
}

// Name returns the field name.
func (f Field[L, R, T]) Name() string { return f.layout.fields[f.index].name }

// Offset returns the position of the lowest bit of the field.
func (f Field[L, R, T]) Offset() uint { return f.offset }

// Width returns the number of bits in the field.
func (f Field[L, R, T]) Width() uint { return f.width }

// Mask returns the in-place mask of the field.
func (f Field[L, R, T]) Mask() R { return widthMask[R](f.width) << f.offset }

// Of returns a value for this field. Bits of v above the field width are
// discarded.
func (f Field[L, R, T]) Of(v T) Value[L, R] {
	return Value[L, R]{
		slot: f.slot(),
		bits: (f.enc(v) & widthMask[R](f.width)) << f.offset,
	}
}

// Get extracts the field from raw.
func (f Field[L, R, T]) Get(raw R) T {
	return f.dec((raw >> f.offset) & widthMask[R](f.width))
}

func (f Field[L, R, T]) slot() slot[L, R] {
	return slot[L, R]{layout: f.layout, index: f.index, mask: f.Mask()}
}

// Value is a field paired with an encoded value, ready to be merged into a
// register.
type Value[L any, R Unsigned] struct {
	slot slot[L, R]
	bits R
}

func (v Value[L, R]) part() slot[L, R] { return v.slot }

// Part is implemented by Field and Value. It names a region of a register
// for MakeMask.
type Part[L any, R Unsigned] interface {
	part() slot[L, R]
}

func (f Field[L, R, T]) part() slot[L, R] { return f.slot() }

type slot[L any, R Unsigned] struct {
	layout *Layout[L, R]
	index  uint8
	mask   R
}

// checker validates that a list of parts refers to distinct fields of a
// single layout. Layouts hold at most 64 fields since every field is at
// least one bit wide.
type checker[L any, R Unsigned] struct {
	layout *Layout[L, R]
	seen   uint64
}

func (c *checker[L, R]) check(s slot[L, R]) {
	if c.layout == nil {
		c.layout = s.layout
	} else if c.layout != s.layout {
		panic(errForeignField)
	}

	bit := uint64(1) << s.index
	if c.seen&bit != 0 {
		panic(errDuplicateField)
	}
	c.seen |= bit
}

// MakeValue combines values into a raw register value. Bits not covered by
// any value are zero.
func MakeValue[L any, R Unsigned](values ...Value[L, R]) R {
	var (
		c   checker[L, R]
		raw R
	)
	for _, v := range values {
		c.check(v.slot)
		raw |= v.bits
	}
	return raw
}

// MakeMask returns the union of the in-place masks of parts.
func MakeMask[L any, R Unsigned](parts ...Part[L, R]) R {
	var (
		c    checker[L, R]
		mask R
	)
	for _, p := range parts {
		s := p.part()
		c.check(s)
		mask |= s.mask
	}
	return mask
}

// GetValue extracts field f from raw.
func GetValue[L any, R Unsigned, T any](f Field[L, R, T], raw R) T {
	return f.Get(raw)
}

// Set replaces the fields named by values in raw and leaves every other bit
// unchanged.
func Set[L any, R Unsigned](raw R, values ...Value[L, R]) R {
	var (
		c    checker[L, R]
		mask R
		bits R
	)
	for _, v := range values {
		c.check(v.slot)
		mask |= v.slot.mask
		bits |= v.bits
	}
	return (raw &^ mask) | bits
}

// Reg holds the raw contents of register L.
type Reg[L any, R Unsigned] struct {
	raw R
}

// NewReg wraps an existing raw value.
func NewReg[L any, R Unsigned](raw R) Reg[L, R] {
	return Reg[L, R]{raw: raw}
}

// Set updates the fields named by values.
func (r *Reg[L, R]) Set(values ...Value[L, R]) {
	r.raw = Set(r.raw, values...)
}

// Raw returns the register contents.
func (r Reg[L, R]) Raw() R { return r.raw }

func bitsOf[T any]() uint {
	var zero T
	return uint(unsafe.Sizeof(zero)) * 8
}

func widthMask[R Unsigned](width uint) R {
	if width >= bitsOf[R]() {
		return ^R(0)
	}
	return R(1)<<width - 1
}
