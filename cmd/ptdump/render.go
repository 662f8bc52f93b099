package main

import (
	"github.com/fogleman/gg"

	"zos/kernel/mem/vmm"
)

const (
	imageWidth = 1024
	rowHeight  = 40
	margin     = 10
	labelWidth = 200
	barInset   = 6
)

// attrColors holds the fill colour of each memory attribute index.
var attrColors = [...][3]int{
	vmm.AttrDeviceNGnRnE: {214, 39, 40},
	vmm.AttrDeviceNGnRE:  {255, 127, 14},
	vmm.AttrDeviceGRE:    {188, 189, 34},
	vmm.AttrNormalNC:     {23, 190, 207},
	vmm.AttrNormal:       {31, 119, 180},
}

var trackColor = [3]int{230, 230, 230}

func attrColor(attr vmm.MemoryAttr) [3]int {
	if int(attr) < len(attrColors) {
		return attrColors[attr]
	}
	return [3]int{127, 127, 127}
}

// drawDumps draws one row per root. The row spans the translated region of
// 2^bits bytes and every leaf mapping is drawn at its relative position.
func drawDumps(dumps []rootDump, bits uint8) *gg.Context {
	height := 2*margin + rowHeight*len(dumps)
	dc := gg.NewContext(imageWidth, height)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	var (
		span  = float64(uint64(1) << bits)
		x0    = float64(margin + labelWidth)
		track = float64(imageWidth - labelWidth - 2*margin)
	)

	for i, d := range dumps {
		y := float64(margin + i*rowHeight)

		dc.SetRGB(0, 0, 0)
		dc.DrawStringAnchored(d.root.name, margin, y+rowHeight/2, 0, 0.5)

		dc.SetRGB255(trackColor[0], trackColor[1], trackColor[2])
		dc.DrawRectangle(x0, y+barInset, track, rowHeight-2*barInset)
		dc.Fill()

		for _, m := range d.mappings {
			width := float64(m.Size) / span * track
			if width < 1 {
				width = 1
			}

			c := attrColor(m.Params.MemoryAttr)
			dc.SetRGB255(c[0], c[1], c[2])
			dc.DrawRectangle(x0+float64(m.VirtAddr)/span*track, y+barInset, width, rowHeight-2*barInset)
			dc.Fill()
		}
	}

	return dc
}

func renderPNG(path string, dumps []rootDump, bits uint8) error {
	return drawDumps(dumps, bits).SavePNG(path)
}
