// Package raster executes draw commands on an 8-bit grayscale image, the
// format e-ink readers display natively.
package raster

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"tinygo.org/x/drivers"
	"tinygo.org/x/tinyfont"

	"einkcal/internal/draw"
	appLog "einkcal/internal/log"
)

// Canvas is a draw.Canvas backed by an image.Gray. Pixels outside the image
// are clipped silently.
type Canvas struct {
	img   *image.Gray
	fonts *Fonts
}

// New returns a white canvas. A nil fonts uses the built-in faces.
func New(w, h int, fonts *Fonts) *Canvas {
	if fonts == nil {
		fonts = NewFonts()
	}
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xFF
	}
	return &Canvas{img: img, fonts: fonts}
}

// Image exposes the backing image.
func (c *Canvas) Image() *image.Gray { return c.img }

// Fonts is the loader Text commands are resolved with; pass it to the
// layout so measurement and painting agree.
func (c *Canvas) Fonts() *Fonts { return c.fonts }

func (c *Canvas) Size() (int, int) {
	b := c.img.Bounds()
	return b.Dx(), b.Dy()
}

// Paint executes one command.
func (c *Canvas) Paint(cmd draw.Command) {
	switch v := cmd.(type) {
	case draw.Rect:
		c.rect(v)
	case draw.Line:
		c.line(v)
	case draw.Text:
		c.text(v)
	}
}

func (c *Canvas) rect(r draw.Rect) {
	if r.W <= 0 || r.H <= 0 {
		return
	}
	if r.Filled {
		c.fill(r.X, r.Y, r.W, r.H, uint8(r.Tone))
		return
	}
	s := max(r.StrokeWidth, 1)
	c.fill(r.X, r.Y, r.W, s, uint8(r.Tone))
	c.fill(r.X, r.Y+r.H-s, r.W, s, uint8(r.Tone))
	c.fill(r.X, r.Y, s, r.H, uint8(r.Tone))
	c.fill(r.X+r.W-s, r.Y, s, r.H, uint8(r.Tone))
}

// fill paints the clipped rectangle [x,x+w) x [y,y+h).
func (c *Canvas) fill(x, y, w, h int, v uint8) {
	area := image.Rect(x, y, x+w, y+h).Intersect(c.img.Bounds())
	if area.Empty() {
		return
	}
	for py := area.Min.Y; py < area.Max.Y; py++ {
		row := c.img.PixOffset(area.Min.X, py)
		for i := 0; i < area.Dx(); i++ {
			c.img.Pix[row+i] = v
		}
	}
}

// line draws with Bresenham and a square brush of l.Width pixels.
func (c *Canvas) line(l draw.Line) {
	w := max(l.Width, 1)
	off := (w - 1) / 2
	v := uint8(l.Tone)

	x0, y0, x1, y1 := l.X1, l.Y1, l.X2, l.Y2
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		c.fill(x0-off, y0-off, w, w, v)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func (c *Canvas) text(t draw.Text) {
	if t.Value == "" {
		return
	}
	f := c.fonts.face(t.Role, t.Size)
	if n := f.Missing(t.Value); n > 0 {
		appLog.Debug("text has runes the built-in face cannot draw", "text", t.Value, "missing", n, "role", t.Role)
	}
	col := color.RGBA{R: uint8(t.Tone), G: uint8(t.Tone), B: uint8(t.Tone), A: 0xFF}
	// tinyfont positions text by its baseline.
	tinyfont.WriteLine(&displayer{img: c.img}, f.font, int16(t.X), int16(t.Y+f.ascent), t.Value, col)
}

// WritePNG encodes the canvas as an 8-bit grayscale PNG.
func (c *Canvas) WritePNG(w io.Writer) error {
	if err := png.Encode(w, c.img); err != nil {
		return fmt.Errorf("raster: encode png: %w", err)
	}
	return nil
}

// SavePNG writes the PNG to path atomically (temp file + rename) so a
// reader polling the file never sees a partial image.
func (c *Canvas) SavePNG(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("raster: create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".einkcal-*.png")
	if err != nil {
		return fmt.Errorf("raster: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := c.WritePNG(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("raster: close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("raster: chmod: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("raster: rename: %w", err)
	}
	return nil
}

// displayer adapts the image to tinyfont's drivers.Displayer.
type displayer struct {
	img *image.Gray
}

var _ drivers.Displayer = (*displayer)(nil)

func (d *displayer) Size() (x, y int16) {
	b := d.img.Bounds()
	return int16(b.Dx()), int16(b.Dy())
}

func (d *displayer) SetPixel(x, y int16, c color.RGBA) {
	ix, iy := int(x), int(y)
	if !(image.Point{X: ix, Y: iy}).In(d.img.Bounds()) {
		return
	}
	d.img.Pix[d.img.PixOffset(ix, iy)] = color.GrayModel.Convert(c).(color.Gray).Y
}

func (d *displayer) Display() error { return nil }

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
