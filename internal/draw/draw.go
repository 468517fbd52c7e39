// Package draw defines the backend-independent drawing vocabulary shared by
// the layout engine and raster backends: draw commands, the canvas they are
// painted on, and the font capability used to measure text.
package draw

import "fmt"

// Tone is an 8-bit gray level. The e-ink output is two-tone plus a mid gray
// for guide lines.
type Tone uint8

const (
	Black Tone = 0
	Gray  Tone = 128
	White Tone = 255
)

// Command is one drawing instruction. Backends execute commands strictly
// in emission order; later commands paint over earlier ones.
type Command interface {
	command()
}

// Rect is a rectangle with its top-left corner at (X, Y). A filled rect is
// painted solid in Tone; otherwise an outline StrokeWidth pixels thick is
// drawn inside the bounds.
type Rect struct {
	X, Y, W, H  int
	Filled      bool
	StrokeWidth int
	Tone        Tone
}

// Line is an axis-aligned or diagonal line Width pixels thick.
type Line struct {
	X1, Y1, X2, Y2 int
	Width          int
	Tone           Tone
}

// Text is a single line whose top-left corner is at (X, Y). The backend
// resolves Role and Size through its own Fonts.
type Text struct {
	X, Y  int
	Value string
	Role  FontRole
	Size  int
	Tone  Tone
}

func (Rect) command() {}
func (Line) command() {}
func (Text) command() {}

func (r Rect) String() string {
	return fmt.Sprintf("rect(%d,%d %dx%d filled=%t stroke=%d tone=%d)", r.X, r.Y, r.W, r.H, r.Filled, r.StrokeWidth, r.Tone)
}

func (l Line) String() string {
	return fmt.Sprintf("line(%d,%d-%d,%d w=%d tone=%d)", l.X1, l.Y1, l.X2, l.Y2, l.Width, l.Tone)
}

func (t Text) String() string {
	return fmt.Sprintf("text(%d,%d %q %s/%d tone=%d)", t.X, t.Y, t.Value, t.Role, t.Size, t.Tone)
}

// Canvas receives draw commands.
type Canvas interface {
	Size() (w, h int)
	Paint(cmd Command)
}

// Recorder is a Canvas that keeps every command it receives, so a render can
// be asserted on or replayed onto another canvas later.
type Recorder struct {
	W, H     int
	Commands []Command
}

// NewRecorder returns an empty Recorder reporting the given size.
func NewRecorder(w, h int) *Recorder {
	return &Recorder{W: w, H: h}
}

func (r *Recorder) Size() (int, int) { return r.W, r.H }

func (r *Recorder) Paint(cmd Command) {
	r.Commands = append(r.Commands, cmd)
}

// Replay paints every recorded command onto dst in order.
func (r *Recorder) Replay(dst Canvas) {
	for _, cmd := range r.Commands {
		dst.Paint(cmd)
	}
}

// Texts returns only the Text commands, in order.
func (r *Recorder) Texts() []Text {
	var out []Text
	for _, cmd := range r.Commands {
		if t, ok := cmd.(Text); ok {
			out = append(out, t)
		}
	}
	return out
}
