package ui

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"sync"
)

const iconSize = 22

var iconBytes = sync.OnceValue(func() []byte {
	return renderIcon(iconSize)
})

// renderIcon draws crop marks: two opposing corner brackets.
func renderIcon(size int) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	ink := color.NRGBA{R: 0x20, G: 0x20, B: 0x20, A: 0xff}

	arm := size / 2
	thick := max(size/10, 2)
	lo, hi := size/6, size-size/6

	for i := 0; i < arm; i++ {
		for j := 0; j < thick; j++ {
			// top-left bracket
			img.SetNRGBA(lo+i, lo+j, ink)
			img.SetNRGBA(lo+j, lo+i, ink)
			// bottom-right bracket
			img.SetNRGBA(hi-1-i, hi-1-j, ink)
			img.SetNRGBA(hi-1-j, hi-1-i, ink)
		}
	}

	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}
