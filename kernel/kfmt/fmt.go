// Package kfmt implements the kernel console output path: an allocation-free
// Printf, an early ring buffer that captures output until a console sink is
// attached, module-prefixed levelled logging and the kernel panic handler.
package kfmt

import (
	"io"
	"unsafe"
	"zos/kernel"
)

// numBufSize bounds the number of digits (including padding) emitted for a
// single integer.
const numBufSize = 32

var (
	markMissingArg = []byte("(MISSING)")
	markWrongType  = []byte("%!(WRONGTYPE)")
	markNoVerb     = []byte("%!(NOVERB)")
	markExtraArg   = []byte("%!(EXTRA)")
	trueValue      = []byte("true")
	falseValue     = []byte("false")
	digits         = []byte("0123456789abcdef")

	numBuf  [numBufSize + 1]byte
	oneByte [1]byte

	// earlyBuf captures Printf output until SetOutputSink is called.
	earlyBuf ringBuffer

	// outputSink receives Printf output. When nil, output is redirected to
	// earlyBuf.
	outputSink io.Writer
)

// SetOutputSink sets the default target for calls to Printf to w and flushes
// any output captured before the sink was available.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		_, _ = io.Copy(w, &earlyBuf)
	}
}

// Printf formats according to a format specifier and writes to the active
// output sink. It does not allocate, so it is safe to call before the Go
// allocator is ready and from the page-table code that backs it.
//
// Supported verbs: %s (string, []byte, *kernel.Error), %d, %o and %x (all
// built-in integer types), %t (bool) and %% for a literal percent sign. An
// optional decimal width pads strings and base-10 values with spaces and
// base-8/16 values with zeroes.
//
// Named types (e.g. mem.Size or pmm.Frame) are not matched and must be
// converted to their underlying type by the caller.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves like Printf but writes to w.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		argIndex int
		width    int
		i        int
	)

	for i < len(format) {
		if format[i] != '%' {
			writeByte(w, format[i])
			i++
			continue
		}

		width = 0
		for i++; i < len(format) && format[i] >= '0' && format[i] <= '9'; i++ {
			width = width*10 + int(format[i]-'0')
		}

		if i == len(format) {
			write(w, markNoVerb)
			break
		}

		verb := format[i]
		i++

		switch verb {
		case '%':
			writeByte(w, '%')
			continue
		case 'd', 'o', 'x', 's', 't':
		default:
			write(w, markNoVerb)
			continue
		}

		if argIndex >= len(args) {
			write(w, markMissingArg)
			continue
		}

		arg := args[argIndex]
		argIndex++

		switch verb {
		case 'd':
			fmtInt(w, arg, 10, width)
		case 'o':
			fmtInt(w, arg, 8, width)
		case 'x':
			fmtInt(w, arg, 16, width)
		case 's':
			fmtString(w, arg, width)
		case 't':
			fmtBool(w, arg)
		}
	}

	for ; argIndex < len(args); argIndex++ {
		write(w, markExtraArg)
	}
}

func fmtBool(w io.Writer, v interface{}) {
	b, ok := v.(bool)
	switch {
	case !ok:
		write(w, markWrongType)
	case b:
		write(w, trueValue)
	default:
		write(w, falseValue)
	}
}

func fmtString(w io.Writer, v interface{}, width int) {
	switch s := v.(type) {
	case string:
		pad(w, ' ', width-len(s))
		writeString(w, s)
	case []byte:
		pad(w, ' ', width-len(s))
		write(w, s)
	case *kernel.Error:
		if s == nil {
			writeString(w, "<nil>")
			return
		}
		writeString(w, s.Module)
		writeString(w, ": ")
		writeString(w, s.Message)
	default:
		write(w, markWrongType)
	}
}

// fmtInt writes v in the requested base. Digits are produced right-to-left
// into numBuf so no intermediate reversal is required.
func fmtInt(w io.Writer, v interface{}, base uint64, width int) {
	var (
		val uint64
		neg bool
	)

	switch n := v.(type) {
	case uint8:
		val = uint64(n)
	case uint16:
		val = uint64(n)
	case uint32:
		val = uint64(n)
	case uint64:
		val = n
	case uint:
		val = uint64(n)
	case uintptr:
		val = uint64(n)
	case int8:
		val, neg = abs(int64(n))
	case int16:
		val, neg = abs(int64(n))
	case int32:
		val, neg = abs(int64(n))
	case int64:
		val, neg = abs(n)
	case int:
		val, neg = abs(int64(n))
	default:
		write(w, markWrongType)
		return
	}

	padCh := byte('0')
	if base == 10 {
		padCh = ' '
	}

	if width > numBufSize-1 {
		width = numBufSize - 1
	}

	end := len(numBuf)
	start := end
	for {
		start--
		numBuf[start] = digits[val%base]
		val /= base
		if val == 0 {
			break
		}
	}

	// A zero-padded negative value places its sign before the padding; a
	// space-padded one right before the digits.
	if neg && padCh == ' ' {
		start--
		numBuf[start] = '-'
	}

	for end-start < width && start > 1 {
		start--
		numBuf[start] = padCh
	}

	if neg && padCh == '0' {
		start--
		numBuf[start] = '-'
	}

	write(w, numBuf[start:end])
}

func abs(v int64) (uint64, bool) {
	if v < 0 {
		return uint64(-v), true
	}
	return uint64(v), false
}

func pad(w io.Writer, ch byte, count int) {
	for ; count > 0; count-- {
		writeByte(w, ch)
	}
}

// writeString emits s one byte at a time; converting it to a []byte would
// allocate.
func writeString(w io.Writer, s string) {
	for i := 0; i < len(s); i++ {
		writeByte(w, s[i])
	}
}

func writeByte(w io.Writer, b byte) {
	oneByte[0] = b
	write(w, oneByte[:])
}

// write hides p from escape analysis. Without it the compiler flags p as
// escaping through the io.Writer interface call and every Printf call site
// would allocate its argument slice on the heap.
func write(w io.Writer, p []byte) {
	realWrite(w, noEscape(unsafe.Pointer(&p)))
}

func realWrite(w io.Writer, bufPtr unsafe.Pointer) {
	p := *(*[]byte)(bufPtr)
	if w == nil {
		_, _ = earlyBuf.Write(p)
		return
	}
	_, _ = w.Write(p)
}

// noEscape hides a pointer from escape analysis (see runtime/stubs.go).
//
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
