package vmm

import (
	"encoding/binary"
	"io"
	"zos/kernel"
)

var (
	errImageRange = &kernel.Error{Module: "vmm", Message: "table address is outside the memory image"}
	errImageRead  = &kernel.Error{Module: "vmm", Message: "could not read table from memory image"}
)

// InspectImage walks a table tree stored in a raw memory image and calls
// visit for each leaf mapping, like TranslationTable.Walk. The image holds
// the physical memory that starts at imageBase; root is the physical
// address of the root table, i.e. the value of TranslationTable.Base or
// the table address in a TTBRn_EL1 value.
//
// Descriptors are decoded with the same formats Map uses to write them.
// The image is expected to be in little-endian byte order.
func InspectImage(image io.ReaderAt, imageBase, root uintptr, cfg Config, visit func(Mapping) bool) *kernel.Error {
	geom, err := newGeometry(cfg)
	if err != nil {
		return err
	}

	if !geom.granule.Size().Aligned(root) {
		return ErrMisaligned
	}

	var (
		tableSize = int(geom.granule.Size())
		buf       = make([]byte, tableSize)
	)

	tree := treeWalker{
		granule:     geom.granule,
		addressBits: geom.addressBits,
		startLevel:  geom.startLevel,
		load: func(tableAddr uintptr) ([]pageTableEntry, *kernel.Error) {
			if tableAddr < imageBase {
				return nil, errImageRange
			}

			n, rerr := image.ReadAt(buf, int64(tableAddr-imageBase))
			if n != tableSize {
				if rerr == io.EOF || rerr == nil {
					return nil, errImageRange
				}
				return nil, errImageRead
			}

			// Each nested walkTable call keeps its own copy of the
			// entries so buf can be reused by the next load.
			entries := make([]pageTableEntry, geom.granule.EntryCount())
			for i := range entries {
				entries[i] = pageTableEntry(binary.LittleEndian.Uint64(buf[i*8:]))
			}
			return entries, nil
		},
	}

	_, err = tree.walkTable(root, geom.startLevel, 0, visit)
	return err
}
