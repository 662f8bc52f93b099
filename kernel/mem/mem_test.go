package mem

import (
	"testing"
	"unsafe"
)

func TestSizeAlignment(t *testing.T) {
	specs := []struct {
		size    Size
		addr    uintptr
		aligned bool
	}{
		{PageSize, 0, true},
		{PageSize, 0x1000, true},
		{PageSize, 0x1001, false},
		{2 * Mb, 0x200000, true},
		{2 * Mb, 0x201000, false},
		{Gb, 0x40000000, true},
	}

	for specIndex, spec := range specs {
		if got := spec.size.Aligned(spec.addr); got != spec.aligned {
			t.Errorf("[spec %d] expected Aligned(0x%x) to return %t; got %t", specIndex, spec.addr, spec.aligned, got)
		}
	}

	if exp, got := 2*PageSize, PageSize.AlignUp(PageSize+1); got != exp {
		t.Errorf("expected AlignUp to return %d; got %d", exp, got)
	}
}

func TestMemset(t *testing.T) {
	// memset with a 0 size should be a no-op
	Memset(uintptr(0), 0x00, 0)

	for pageCount := uint32(1); pageCount <= 10; pageCount++ {
		buf := make([]byte, PageSize<<pageCount)
		for i := 0; i < len(buf); i++ {
			buf[i] = 0xFE
		}

		addr := uintptr(unsafe.Pointer(&buf[0]))
		Memset(addr, 0x00, Size(len(buf)))

		for i := 0; i < len(buf); i++ {
			if got := buf[i]; got != 0x00 {
				t.Errorf("[block with %d pages] expected byte: %d to be 0x00; got 0x%x", pageCount, i, got)
			}
		}
	}
}

func TestMemcopy(t *testing.T) {
	// memcopy with a 0 size should be a no-op
	Memcopy(uintptr(0), uintptr(0), 0)

	var (
		src = make([]byte, PageSize)
		dst = make([]byte, PageSize)
	)
	for i := 0; i < len(src); i++ {
		src[i] = byte(i % 256)
	}

	Memcopy(
		uintptr(unsafe.Pointer(&src[0])),
		uintptr(unsafe.Pointer(&dst[0])),
		PageSize,
	)

	for i := 0; i < len(src); i++ {
		if got := dst[i]; got != src[i] {
			t.Errorf("value mismatch between src and dst at index %d", i)
		}
	}
}
