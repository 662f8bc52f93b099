package main

import (
	"bytes"
	"flag"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"zos/kernel/mem"
	"zos/kernel/mem/pmm/allocator"
	"zos/kernel/mem/vmm"
)

func TestParseRoot(t *testing.T) {
	specs := []struct {
		arg    string
		exp    rootSpec
		expErr bool
	}{
		{"0x1000", rootSpec{name: "0x1000", addr: 0x1000}, false},
		{"lower:4096", rootSpec{name: "lower:4096", addr: 0x1000}, false},
		{"higher:0x2000", rootSpec{name: "higher:0x2000", higher: true, addr: 0x2000}, false},
		{"middle:0x2000", rootSpec{}, true},
		{"higher:nope", rootSpec{}, true},
	}

	for _, spec := range specs {
		got, err := parseRoot(spec.arg)
		if spec.expErr {
			if err == nil {
				t.Errorf("[%s] expected an error", spec.arg)
			}
			continue
		}

		if err != nil || got != spec.exp {
			t.Errorf("[%s] expected %+v; got %+v (%v)", spec.arg, spec.exp, got, err)
		}
	}
}

func TestParseGranule(t *testing.T) {
	for name, exp := range map[string]vmm.Granule{"4k": vmm.Granule4KB, "16KB": vmm.Granule16KB, "64k": vmm.Granule64KB} {
		if got, err := parseGranule(name); err != nil || got != exp {
			t.Errorf("[%s] expected granule %s; got %s (%v)", name, exp, got, err)
		}
	}

	if _, err := parseGranule("8k"); err == nil {
		t.Error("expected an error for an unknown granule")
	}
}

func TestSizeName(t *testing.T) {
	for size, exp := range map[vmm.BlockSize]string{vmm.Block4KB: "4KB", vmm.Block64KB: "64KB", vmm.Block2MB: "2MB", vmm.Block512MB: "512MB", vmm.Block1GB: "1GB"} {
		if got := sizeName(size); got != exp {
			t.Errorf("expected %s; got %s", exp, got)
		}
	}
}

// buildImage maps a few regions into a fresh address space and writes the
// backing pool to a file.
func buildImage(t *testing.T) (string, *allocator.PagePool, *vmm.AddressSpace) {
	t.Helper()

	pool, err := allocator.NewHostedPagePool(mem.PageSize, 16)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = pool.Close() })

	space, err := vmm.NewAddressSpace(vmm.SpaceConfig{Granule: vmm.Granule4KB, AddressBits: 39, Lower: true, Higher: true}, pool)
	if err != nil {
		t.Fatal(err)
	}

	regions := []struct {
		base   uintptr
		region vmm.Region
		attrs  vmm.Attributes
	}{
		{0x80000, &vmm.DirectRegion{Phys: 0x80000, Length: 0x2000}, vmm.Attributes{MemoryAttr: vmm.AttrNormal, AF: true}},
		{0x3f000000, &vmm.DirectRegion{Phys: 0x3f000000, Length: 0x200000}, vmm.Attributes{MemoryAttr: vmm.AttrDeviceNGnRnE, AF: true, XN: true}},
		{space.HigherStart(), &vmm.DirectRegion{Phys: 0, Length: 0x1000}, vmm.Attributes{MemoryAttr: vmm.AttrNormal}},
	}
	for _, r := range regions {
		if err := space.MapRegion(r.base, r.region, r.attrs); err != nil {
			t.Fatal(err)
		}
	}

	var buf bytes.Buffer
	if err := pool.WriteImage(&buf); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "memory.img")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	return path, pool, space
}

func TestRun(t *testing.T) {
	defer func(origBase, origGranule string, origBits uint, origPNG string) {
		imageBase, granuleName, addressBits, pngFile = origBase, origGranule, origBits, origPNG
	}(imageBase, granuleName, addressBits, pngFile)

	path, pool, space := buildImage(t)
	pngPath := filepath.Join(t.TempDir(), "layout.png")

	args := []string{
		"-base", hex(pool.Base()),
		"-granule", "4k",
		"-bits", "39",
		"-png", pngPath,
		path,
		"lower:" + hex(space.LowerBase()),
		"higher:" + hex(space.HigherBase()),
	}
	if err := flag.CommandLine.Parse(args); err != nil {
		t.Fatal(err)
	}

	if err := checkFlags(); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := run(&out); err != nil {
		t.Fatal(err)
	}

	expLines := []string{
		"(3 mappings)",
		"0x0000000000080000-0x0000000000080fff -> 0x000000080000 4KB   L3 attr=4 ap=0 sh=0 af",
		"0x000000003f000000-0x000000003f1fffff -> 0x00003f000000 2MB   L2 attr=0 ap=0 sh=0 af xn",
		"(1 mappings)",
		"0xffffff8000000000-0xffffff8000000fff -> 0x000000000000 4KB   L3 attr=4",
	}
	for _, line := range expLines {
		if !strings.Contains(out.String(), line) {
			t.Errorf("expected output to contain %q; got:\n%s", line, out.String())
		}
	}

	f, err := os.Open(pngPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		t.Fatal(err)
	}

	if bounds := img.Bounds(); bounds.Dx() != imageWidth || bounds.Dy() != 2*margin+2*rowHeight {
		t.Fatalf("unexpected image size %v", bounds)
	}
}

func TestDumpRootsError(t *testing.T) {
	path, pool, space := buildImage(t)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	roots := []rootSpec{
		{name: "lower", addr: space.LowerBase()},
		{name: "bogus", addr: pool.Base() + uintptr(len(data))},
	}

	_, err = dumpRoots(bytes.NewReader(data), pool.Base(), vmm.Config{Granule: vmm.Granule4KB, AddressBits: 39}, roots)
	if err == nil || !strings.Contains(err.Error(), "root bogus") {
		t.Fatalf("expected an error for the bogus root; got %v", err)
	}
}

func TestCheckFlags(t *testing.T) {
	defer func(origBits uint) { addressBits = origBits }(addressBits)

	if err := flag.CommandLine.Parse([]string{"image"}); err != nil {
		t.Fatal(err)
	}
	if err := checkFlags(); err == nil {
		t.Error("expected an error when no root is given")
	}

	if err := flag.CommandLine.Parse([]string{"-bits", "52", "image", "0x1000"}); err != nil {
		t.Fatal(err)
	}
	if err := checkFlags(); err == nil {
		t.Error("expected an error for an address size above 48 bits")
	}
}

func hex(v uintptr) string {
	return "0x" + strconv.FormatUint(uint64(v), 16)
}
