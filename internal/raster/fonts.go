package raster

import (
	"sync"

	"tinygo.org/x/tinyfont"
	"tinygo.org/x/tinyfont/freesans"

	"einkcal/internal/draw"
)

// builtin is ordered by line height. Every role uses the bold sans set; it
// reads best on e-ink at arm's length.
var builtin = []tinyfont.Fonter{
	&freesans.Bold9pt7b,
	&freesans.Bold12pt7b,
	&freesans.Bold18pt7b,
	&freesans.Bold24pt7b,
}

// The 7b faces carry glyphs for printable ASCII only.
const (
	firstGlyph = ' '
	lastGlyph  = '~'
)

// Face is a tinyfont face with the metrics the renderer needs.
type Face struct {
	font   tinyfont.Fonter
	ascent int
	height int
}

func newFace(f tinyfont.Fonter) *Face {
	ascent := 0
	for _, r := range "Ady" {
		if a := -int(f.GetGlyph(r).Info().YOffset); a > ascent {
			ascent = a
		}
	}
	return &Face{font: f, ascent: ascent, height: int(f.GetYAdvance())}
}

// Width measures s as tinyfont would advance over it.
func (f *Face) Width(s string) int {
	if s == "" {
		return 0
	}
	_, outbox := tinyfont.LineWidth(f.font, s)
	return int(outbox)
}

func (f *Face) Height() int { return f.height }

// Missing counts the runes of s the face has no glyph for. tinyfont
// advances over them without painting ink.
func (f *Face) Missing(s string) int {
	n := 0
	for _, r := range s {
		if r < firstGlyph || r > lastGlyph {
			n++
		}
	}
	return n
}

// Ascent is the distance from the top of the line to the baseline.
func (f *Face) Ascent() int { return f.ascent }

type faceKey struct {
	role draw.FontRole
	size int
}

// Fonts resolves (role, size) to the closest built-in face. It never fails:
// sizes below the smallest face get the smallest one.
type Fonts struct {
	mu    sync.Mutex
	faces map[faceKey]*Face
	set   []tinyfont.Fonter
}

// NewFonts returns a loader over the built-in bold sans faces.
func NewFonts() *Fonts {
	return &Fonts{faces: make(map[faceKey]*Face), set: builtin}
}

// Load implements draw.Fonts.
func (fs *Fonts) Load(role draw.FontRole, size int) draw.Face {
	return fs.face(role, size)
}

func (fs *Fonts) face(role draw.FontRole, size int) *Face {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	key := faceKey{role: role, size: size}
	if f, ok := fs.faces[key]; ok {
		return f
	}

	pick := fs.set[0]
	for _, f := range fs.set {
		if int(f.GetYAdvance()) <= size {
			pick = f
		}
	}
	f := newFace(pick)
	fs.faces[key] = f
	return f
}
