// Command ptdump prints the translation tables stored in a raw physical
// memory image and optionally renders the mapped address ranges to a PNG.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/exp/mmap"
	"golang.org/x/sync/errgroup"

	"zos/kernel/mem/vmm"
)

var (
	imageBase   string
	granuleName string
	addressBits uint
	pngFile     string
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s:\n", os.Args[0])
		fmt.Fprintf(flag.CommandLine.Output(), "Utility that decodes the translation tables stored\n")
		fmt.Fprintf(flag.CommandLine.Output(), "in a physical memory image.\n")
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <image-file> [lower:|higher:]<root-address>...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.StringVar(&imageBase, "base", "0", "physical address of the first byte of the image")
	flag.StringVar(&granuleName, "granule", "4k", "translation granule (4k, 16k or 64k)")
	flag.UintVar(&addressBits, "bits", 39, "size of each translated half in bits")
	flag.StringVar(&pngFile, "png", "", "if set, render the mappings of each root to this PNG file")
}

// rootSpec identifies a table tree inside the image.
type rootSpec struct {
	name   string
	higher bool
	addr   uintptr
}

// rootDump holds the leaf mappings found under a root.
type rootDump struct {
	root     rootSpec
	mappings []vmm.Mapping
}

func parseAddr(s string) (uintptr, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return uintptr(v), nil
}

func parseGranule(name string) (vmm.Granule, error) {
	switch strings.ToLower(name) {
	case "4k", "4kb":
		return vmm.Granule4KB, nil
	case "16k", "16kb":
		return vmm.Granule16KB, nil
	case "64k", "64kb":
		return vmm.Granule64KB, nil
	}
	return 0, fmt.Errorf("unknown granule %q", name)
}

// parseRoot parses a root argument of the form [lower:|higher:]address.
func parseRoot(arg string) (rootSpec, error) {
	spec := rootSpec{name: arg}

	addr := arg
	if half, rest, ok := strings.Cut(arg, ":"); ok {
		switch half {
		case "lower":
		case "higher":
			spec.higher = true
		default:
			return spec, fmt.Errorf("unknown half %q", half)
		}
		addr = rest
	}

	var err error
	spec.addr, err = parseAddr(addr)
	return spec, err
}

// dumpRoots walks every root concurrently. The dumps are returned in the
// order of roots.
func dumpRoots(image io.ReaderAt, base uintptr, cfg vmm.Config, roots []rootSpec) ([]rootDump, error) {
	dumps := make([]rootDump, len(roots))

	var eg errgroup.Group
	for i := range roots {
		i := i
		eg.Go(func() error {
			dumps[i].root = roots[i]
			err := vmm.InspectImage(image, base, roots[i].addr, cfg, func(m vmm.Mapping) bool {
				dumps[i].mappings = append(dumps[i].mappings, m)
				return true
			})
			if err != nil {
				return fmt.Errorf("root %s: %w", roots[i].name, err)
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return dumps, nil
}

// virtAddr returns the address at which a mapping is visible.
func virtAddr(root rootSpec, m vmm.Mapping, bits uint8) uint64 {
	if root.higher {
		return ^uint64(0)<<bits | uint64(m.VirtAddr)
	}
	return uint64(m.VirtAddr)
}

func sizeName(size vmm.BlockSize) string {
	switch {
	case size >= 1<<30:
		return strconv.FormatUint(uint64(size>>30), 10) + "GB"
	case size >= 1<<20:
		return strconv.FormatUint(uint64(size>>20), 10) + "MB"
	default:
		return strconv.FormatUint(uint64(size>>10), 10) + "KB"
	}
}

func writeDumps(w io.Writer, dumps []rootDump, bits uint8) {
	for _, d := range dumps {
		fmt.Fprintf(w, "root %s (%d mappings)\n", d.root.name, len(d.mappings))
		for _, m := range d.mappings {
			start := virtAddr(d.root, m, bits)
			fmt.Fprintf(w, "  0x%016x-0x%016x -> 0x%012x %-5s L%d attr=%d ap=%d sh=%d",
				start, start+uint64(m.Size)-1, uint64(m.PhysAddr), sizeName(m.Size), m.Level,
				m.Params.MemoryAttr, m.Params.S2AP, m.Params.SH)
			if m.Params.AF {
				fmt.Fprint(w, " af")
			}
			if m.Params.Contiguous {
				fmt.Fprint(w, " cont")
			}
			if m.Params.XN {
				fmt.Fprint(w, " xn")
			}
			fmt.Fprintln(w)
		}
	}
}

func checkFlags() error {
	if flag.NArg() < 2 {
		return errors.New("incorrect number of arguments")
	}
	if addressBits > 48 {
		return fmt.Errorf("address size %d exceeds 48 bits", addressBits)
	}
	return nil
}

func run(out io.Writer) error {
	granule, err := parseGranule(granuleName)
	if err != nil {
		return err
	}

	base, err := parseAddr(imageBase)
	if err != nil {
		return err
	}

	var roots []rootSpec
	for _, arg := range flag.Args()[1:] {
		root, err := parseRoot(arg)
		if err != nil {
			return err
		}
		roots = append(roots, root)
	}

	r, err := mmap.Open(flag.Arg(0))
	if err != nil {
		return fmt.Errorf("failed to map image: %v", err)
	}
	defer r.Close()

	cfg := vmm.Config{Granule: granule, AddressBits: uint8(addressBits)}
	dumps, err := dumpRoots(r, base, cfg, roots)
	if err != nil {
		return err
	}

	writeDumps(out, dumps, cfg.AddressBits)

	if pngFile != "" {
		if err := renderPNG(pngFile, dumps, cfg.AddressBits); err != nil {
			return fmt.Errorf("rendering %s: %v", pngFile, err)
		}
	}
	return nil
}

func main() {
	flag.Parse()
	if err := checkFlags(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		flag.Usage()
		os.Exit(1)
	}
	if err := run(os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
