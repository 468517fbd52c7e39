package convert

import (
	"errors"
	"fmt"
	"image"
)

// DefaultThreshold separates ink from paper: gray levels below it are ink.
// The mid-gray guide lines (128) therefore stay white on 1bpp panels.
const DefaultThreshold = 128

// Stride is the number of bytes per packed row of a w-pixel image.
func Stride(w int) int {
	return (w + 7) / 8
}

// PackGray converts a grayscale image into a packed 1bpp plane for raw e-ink
// framebuffers.
//
// Packing rules:
//
//   - y-major, MSB-first: byteIndex = y*Stride(w) + x>>3, mask = 0x80 >> (x&7)
//   - every bit starts at 1 (white); ink pixels clear their bit to 0
//   - padding bits at the end of a row stay 1
func PackGray(img *image.Gray, threshold uint8) ([]byte, error) {
	if img == nil {
		return nil, errors.New("convert: nil image")
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("convert: empty image %dx%d", w, h)
	}

	stride := Stride(w)
	plane := make([]byte, stride*h)
	for i := range plane {
		plane[i] = 0xFF
	}

	// Walk Pix directly instead of calling At() per pixel.
	for py := 0; py < h; py++ {
		rowOff := py * img.Stride
		for px := 0; px < w; px++ {
			if !isInk(img.Pix[rowOff+px], threshold) {
				continue
			}
			plane[py*stride+(px>>3)] &^= byte(0x80 >> (px & 7))
		}
	}
	return plane, nil
}

func isInk(y, threshold uint8) bool {
	return y < threshold
}
