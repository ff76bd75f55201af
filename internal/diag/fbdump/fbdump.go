// Package fbdump renders diagnostic PNG snapshots of kernel-server state
// for offline debugging, replacing the teacher's QEMU/Bochs framebuffer
// console (mazboot/golang/main/gg_circle_qemu.go) with an on-disk image:
// there is no bare-metal framebuffer in this rendition, but the drawing
// stack the teacher used to paint one is still worth having.
package fbdump

import (
	"image"
	"image/color"
	"image/png"
	"os"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/lpae-kernel/kernel/internal/kheap"
	"github.com/lpae-kernel/kernel/internal/vfs"
)

const (
	marginX    = 16
	marginY    = 16
	rowHeight  = 28
	labelWidth = 220
)

var loadedFace font.Face

func face() font.Face {
	if loadedFace != nil {
		return loadedFace
	}
	ttf, err := truetype.Parse(goregular.TTF)
	if err != nil {
		// goregular.TTF is an embedded constant; this can only fail if the
		// font package itself is corrupt, which a fixed-literal build
		// never produces. Fall back to gg's default face rather than
		// panic so a diagnostic dump never takes a server down.
		return nil
	}
	loadedFace = truetype.NewFace(ttf, &truetype.Options{Size: 14})
	return loadedFace
}

// DumpMountTree renders the VFS mount table as a simple list, one row
// per mount ordered by path, annotated with the owning pid. Useful for
// seeing the live effect of Property P9's longest-prefix resolution
// without attaching a debugger.
func DumpMountTree(mounts *vfs.MountTable, path string) error {
	entries := mounts.List()

	width := 640
	height := marginY*2 + rowHeight*(len(entries)+1)
	if height < marginY*2+rowHeight {
		height = marginY*2 + rowHeight
	}

	dc := gg.NewContext(width, height)
	dc.SetColor(color.White)
	dc.Clear()
	dc.SetColor(color.Black)
	if f := face(); f != nil {
		dc.SetFontFace(f)
	}

	y := marginY + rowHeight/2
	dc.DrawStringAnchored("mount", float64(marginX), float64(y), 0, 0.35)
	dc.DrawStringAnchored("owner pid", float64(marginX+labelWidth), float64(y), 0, 0.35)

	for _, e := range entries {
		y += rowHeight
		dc.DrawStringAnchored(e.Path, float64(marginX), float64(y), 0, 0.35)
		dc.DrawStringAnchored(pidLabel(e.Owner), float64(marginX+labelWidth), float64(y), 0, 0.35)
	}

	return savePNG(dc.Image(), path)
}

func pidLabel(p vfs.PID) string {
	if p == 0 {
		return "(local)"
	}
	return itoa(int(p))
}

// DumpHeapMap renders a heap's live extent as a horizontal bar: used
// blocks in red, free blocks in green, proportioned to the mapped
// region's size. Scenario coverage in heap_test.go exercises the
// allocator itself; this is a purely visual aid layered on Stats.
func DumpHeapMap(stats kheap.Stats, path string) error {
	const width = 800
	const barHeight = 80
	height := marginY*2 + barHeight + rowHeight

	dc := gg.NewContext(width, height)
	dc.SetColor(color.White)
	dc.Clear()
	if f := face(); f != nil {
		dc.SetFontFace(f)
	}

	if stats.RegionSize == 0 {
		dc.SetColor(color.Black)
		dc.DrawStringAnchored("empty heap", marginX, marginY+14, 0, 0.35)
		return savePNG(dc.Image(), path)
	}

	scale := float64(width-2*marginX) / float64(stats.RegionSize)
	draw := func(blocks []kheap.Block, c color.Color) {
		dc.SetColor(c)
		for _, b := range blocks {
			x := float64(marginX) + float64(b.Addr-stats.RegionStart)*scale
			w := float64(b.Size) * scale
			if w < 1 {
				w = 1
			}
			dc.DrawRectangle(x, marginY, w, barHeight)
			dc.Fill()
		}
	}
	draw(stats.Used, color.RGBA{R: 0xd9, G: 0x3b, B: 0x3b, A: 0xff})
	draw(stats.Free, color.RGBA{R: 0x3b, G: 0xa8, B: 0x55, A: 0xff})

	dc.SetColor(color.Black)
	dc.DrawRectangle(marginX, marginY, float64(width-2*marginX), barHeight)
	dc.Stroke()

	label := "region=[" + hex32(stats.RegionStart) + "," + hex32(stats.RegionStart+stats.RegionSize) + ")"
	dc.DrawStringAnchored(label, marginX, float64(marginY+barHeight+20), 0, 0.35)

	return savePNG(dc.Image(), path)
}

func savePNG(img image.Image, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

func hex32(v uint32) string {
	const digits = "0123456789abcdef"
	buf := make([]byte, 10)
	buf[0] = '0'
	buf[1] = 'x'
	for i := 0; i < 8; i++ {
		shift := uint(28 - 4*i)
		buf[2+i] = digits[(v>>shift)&0xF]
	}
	return string(buf)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
