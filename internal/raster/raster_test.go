package raster

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"einkcal/internal/draw"
	appLog "einkcal/internal/log"
)

func pix(c *Canvas, x, y int) uint8 {
	return c.Image().GrayAt(x, y).Y
}

func TestNewIsWhite(t *testing.T) {
	c := New(20, 10, nil)
	if w, h := c.Size(); w != 20 || h != 10 {
		t.Fatalf("Size = %d,%d, want 20,10", w, h)
	}
	for _, v := range c.Image().Pix {
		if v != 0xFF {
			t.Fatalf("new canvas pixel = %d, want 255", v)
		}
	}
}

func TestFilledRectClipped(t *testing.T) {
	c := New(10, 10, nil)
	c.Paint(draw.Rect{X: 7, Y: -3, W: 10, H: 5, Filled: true, Tone: draw.Black})

	tests := []struct {
		x, y int
		want uint8
	}{
		{7, 0, 0},
		{9, 1, 0},
		{6, 0, 255},
		{7, 2, 255},
	}
	for _, tt := range tests {
		if got := pix(c, tt.x, tt.y); got != tt.want {
			t.Errorf("pixel (%d,%d) = %d, want %d", tt.x, tt.y, got, tt.want)
		}
	}
}

func TestOutlineRect(t *testing.T) {
	c := New(20, 20, nil)
	c.Paint(draw.Rect{X: 2, Y: 2, W: 10, H: 8, StrokeWidth: 2, Tone: draw.Black})

	if pix(c, 2, 2) != 0 || pix(c, 3, 3) != 0 || pix(c, 11, 9) != 0 || pix(c, 10, 8) != 0 {
		t.Errorf("outline edges not painted")
	}
	if pix(c, 6, 5) != 255 {
		t.Errorf("outline interior painted")
	}
	if pix(c, 12, 5) != 255 || pix(c, 5, 10) != 255 {
		t.Errorf("outline painted outside bounds")
	}
}

func TestLines(t *testing.T) {
	c := New(20, 20, nil)
	c.Paint(draw.Line{X1: 0, Y1: 5, X2: 19, Y2: 5, Width: 1, Tone: draw.Gray})
	c.Paint(draw.Line{X1: 0, Y1: 0, X2: 9, Y2: 9, Width: 1, Tone: draw.Black})
	c.Paint(draw.Line{X1: 15, Y1: 10, X2: 15, Y2: 19, Width: 3, Tone: draw.Black})

	for x := 0; x < 20; x++ {
		want := uint8(draw.Gray)
		if x == 5 {
			want = 0 // diagonal crosses here
		}
		if got := pix(c, x, 5); got != want {
			t.Errorf("horizontal line pixel (%d,5) = %d, want %d", x, got, want)
		}
	}
	for i := 0; i < 10; i++ {
		if pix(c, i, i) != 0 {
			t.Errorf("diagonal pixel (%d,%d) not painted", i, i)
		}
	}
	for _, x := range []int{14, 15, 16} {
		if pix(c, x, 12) != 0 {
			t.Errorf("thick line pixel (%d,12) not painted", x)
		}
	}
	if pix(c, 13, 12) != 255 || pix(c, 17, 12) != 255 {
		t.Errorf("thick line too wide")
	}
}

func TestTextInkStaysNearBox(t *testing.T) {
	c := New(300, 80, nil)
	face := c.Fonts().Load(draw.RoleEvent, 18)
	c.Paint(draw.Text{X: 10, Y: 10, Value: "Standup", Role: draw.RoleEvent, Size: 18})

	w := face.Width("Standup")
	if w <= 0 {
		t.Fatalf("Width = %d, want > 0", w)
	}
	ink := 0
	img := c.Image()
	for y := 0; y < 80; y++ {
		for x := 0; x < 300; x++ {
			if img.GrayAt(x, y).Y != 0 {
				continue
			}
			ink++
			if x < 8 || x > 10+w+2 || y < 8 || y > 10+face.Height()+2 {
				t.Fatalf("ink at (%d,%d) outside text box", x, y)
			}
		}
	}
	if ink == 0 {
		t.Error("text left no ink")
	}
}

func TestUncoveredRunesAreLogged(t *testing.T) {
	var buf bytes.Buffer
	appLog.SetOutput(&buf)
	appLog.SetLevel(appLog.LevelDebug)
	defer func() {
		appLog.SetOutput(os.Stderr)
		appLog.SetLevel(appLog.LevelInfo)
	}()

	c := New(300, 80, nil)
	face := c.Fonts().face(draw.RoleEvent, 18)
	if n := face.Missing("Standup"); n != 0 {
		t.Errorf("Missing(ASCII) = %d, want 0", n)
	}
	if n := face.Missing("会議 Sync"); n != 2 {
		t.Errorf("Missing = %d, want 2", n)
	}

	c.Paint(draw.Text{X: 10, Y: 10, Value: "Standup", Role: draw.RoleEvent, Size: 18})
	if buf.Len() != 0 {
		t.Errorf("ASCII title logged: %q", buf.String())
	}
	c.Paint(draw.Text{X: 10, Y: 10, Value: "会議会議会議", Role: draw.RoleEvent, Size: 18})
	if out := buf.String(); !strings.Contains(out, "[DEBUG]") || !strings.Contains(out, "missing=6") {
		t.Errorf("missing glyphs not logged: %q", out)
	}
}

func TestWhiteTextOnBlack(t *testing.T) {
	c := New(200, 60, nil)
	c.Paint(draw.Rect{X: 0, Y: 0, W: 200, H: 60, Filled: true, Tone: draw.Black})
	c.Paint(draw.Text{X: 5, Y: 5, Value: "WED", Role: draw.RoleDay, Size: 24, Tone: draw.White})
	white := 0
	for _, v := range c.Image().Pix {
		if v == 0xFF {
			white++
		}
	}
	if white == 0 {
		t.Error("white text not drawn")
	}
}

func TestFontsPickClosestFace(t *testing.T) {
	fs := NewFonts()
	small := fs.Load(draw.RoleTime, 1)
	event := fs.Load(draw.RoleEvent, 18)
	header := fs.Load(draw.RoleHeader, 48)
	huge := fs.Load(draw.RoleHeader, 500)

	if small.Height() != event.Height() {
		t.Errorf("undersized request should fall back to the smallest face")
	}
	if header.Height() <= event.Height() || header.Height() > 48 {
		t.Errorf("header face height = %d, want in (%d,48]", header.Height(), event.Height())
	}
	if huge.Height() < header.Height() {
		t.Errorf("oversized request should get the largest face")
	}
	if fs.Load(draw.RoleEvent, 18) != event {
		t.Errorf("faces are not cached")
	}
	if header.Width("Standup") <= event.Width("Standup") {
		t.Errorf("larger face should measure wider")
	}
}

func TestTruncateWithRealFace(t *testing.T) {
	face := NewFonts().Load(draw.RoleEvent, 18)
	title := "Quarterly planning with the extended leadership team"
	for _, limit := range []int{40, 81, 162, 500} {
		got := draw.Truncate(face, title, limit, "...")
		if got != "" && face.Width(got) > limit {
			t.Errorf("Truncate(..., %d) = %q measuring %d", limit, got, face.Width(got))
		}
	}
}

func TestReplayMatchesDirectPaint(t *testing.T) {
	cmds := []draw.Command{
		draw.Rect{X: 0, Y: 0, W: 64, H: 32, Filled: true, Tone: draw.White},
		draw.Line{X1: 0, Y1: 16, X2: 63, Y2: 16, Width: 1, Tone: draw.Gray},
		draw.Rect{X: 4, Y: 4, W: 30, H: 20, StrokeWidth: 2, Tone: draw.Black},
		draw.Text{X: 6, Y: 6, Value: "Hi", Role: draw.RoleEvent, Size: 18},
	}
	direct := New(64, 32, nil)
	rec := draw.NewRecorder(64, 32)
	for _, cmd := range cmds {
		direct.Paint(cmd)
		rec.Paint(cmd)
	}
	replayed := New(64, 32, nil)
	rec.Replay(replayed)
	if !bytes.Equal(direct.Image().Pix, replayed.Image().Pix) {
		t.Error("replayed image differs from direct painting")
	}
}

func TestSavePNG(t *testing.T) {
	c := New(40, 30, nil)
	c.Paint(draw.Rect{X: 0, Y: 0, W: 10, H: 10, Filled: true, Tone: draw.Black})
	path := filepath.Join(t.TempDir(), "out", "calendar.png")
	if err := c.SavePNG(path); err != nil {
		t.Fatalf("SavePNG error: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds() != image.Rect(0, 0, 40, 30) {
		t.Errorf("bounds = %v", img.Bounds())
	}
	if _, ok := img.(*image.Gray); !ok {
		t.Errorf("decoded %T, want *image.Gray", img)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %d entries", len(entries))
	}
}
