package draw

// FontRole names what a piece of text is for; backends pick a face per role.
type FontRole int

const (
	RoleHeader FontRole = iota
	RoleDay
	RoleTime
	RoleEvent
)

func (r FontRole) String() string {
	switch r {
	case RoleHeader:
		return "header"
	case RoleDay:
		return "day"
	case RoleTime:
		return "time"
	case RoleEvent:
		return "event"
	default:
		return "unknown"
	}
}

// Face is a loaded font. Width is the measureText operation used for
// truncation; Height is the line height in pixels.
type Face interface {
	Width(s string) int
	Height() int
}

// Fonts loads faces. Implementations must always return a usable Face,
// falling back to a built-in one when the requested face is unavailable.
type Fonts interface {
	Load(role FontRole, size int) Face
}

// Truncate returns the longest rune prefix of s that, followed by ellipsis,
// measures at most maxW. s itself is returned when it already fits, and ""
// when not even the ellipsis fits.
func Truncate(f Face, s string, maxW int, ellipsis string) string {
	if maxW <= 0 || s == "" {
		return ""
	}
	if f.Width(s) <= maxW {
		return s
	}
	r := []rune(s)
	for len(r) > 0 {
		r = r[:len(r)-1]
		candidate := string(r) + ellipsis
		if f.Width(candidate) <= maxW {
			return candidate
		}
	}
	return ""
}

// MonoFonts approximates every face as monospace with an advance of 3/5 of
// the requested size. It is the fallback when no real fonts are wired.
type MonoFonts struct{}

func (MonoFonts) Load(_ FontRole, size int) Face {
	if size <= 0 {
		size = 1
	}
	return monoFace{size: size}
}

type monoFace struct{ size int }

func (m monoFace) Width(s string) int {
	n := 0
	for range s {
		n++
	}
	return n * m.size * 3 / 5
}

func (m monoFace) Height() int { return m.size }
