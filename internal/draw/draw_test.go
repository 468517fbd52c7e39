package draw

import (
	"testing"
	"unicode/utf8"
)

// fixedFace measures every rune as w pixels wide.
type fixedFace struct{ w int }

func (f fixedFace) Width(s string) int { return f.w * utf8.RuneCountInString(s) }
func (f fixedFace) Height() int        { return 10 }

func TestTruncate(t *testing.T) {
	f := fixedFace{w: 5}
	tests := []struct {
		name string
		in   string
		maxW int
		want string
	}{
		{"fits", "Sync", 20, "Sync"},
		{"exact fit", "Standup", 35, "Standup"},
		{"truncated", "Standup", 30, "Sta..."},
		{"only ellipsis", "Standup", 15, "..."},
		{"nothing fits", "Standup", 10, ""},
		{"zero width", "Standup", 0, ""},
		{"multibyte", "회의실예약", 20, "회..."},
		{"empty", "", 50, ""},
	}
	for _, tt := range tests {
		got := Truncate(f, tt.in, tt.maxW, "...")
		if got != tt.want {
			t.Errorf("%s: Truncate(%q, %d) = %q, want %q", tt.name, tt.in, tt.maxW, got, tt.want)
		}
		if f.Width(got) > tt.maxW && got != "" {
			t.Errorf("%s: result %q is %dpx wide, limit %d", tt.name, got, f.Width(got), tt.maxW)
		}
	}
}

func TestRecorderReplay(t *testing.T) {
	src := NewRecorder(100, 50)
	src.Paint(Rect{X: 0, Y: 0, W: 100, H: 50, Filled: true, Tone: White})
	src.Paint(Line{X1: 0, Y1: 10, X2: 99, Y2: 10, Width: 1, Tone: Gray})
	src.Paint(Text{X: 2, Y: 2, Value: "hi", Role: RoleEvent, Size: 12})

	dst := NewRecorder(100, 50)
	src.Replay(dst)

	if len(dst.Commands) != 3 {
		t.Fatalf("replayed %d commands, want 3", len(dst.Commands))
	}
	for i := range src.Commands {
		if src.Commands[i] != dst.Commands[i] {
			t.Errorf("command %d = %v, want %v", i, dst.Commands[i], src.Commands[i])
		}
	}
	texts := dst.Texts()
	if len(texts) != 1 || texts[0].Value != "hi" {
		t.Errorf("Texts() = %v", texts)
	}
	if w, h := dst.Size(); w != 100 || h != 50 {
		t.Errorf("Size() = %d,%d", w, h)
	}
}

func TestFontRoleString(t *testing.T) {
	if RoleHeader.String() != "header" || RoleEvent.String() != "event" || FontRole(42).String() != "unknown" {
		t.Errorf("unexpected role names")
	}
}

func TestMonoFonts(t *testing.T) {
	f := MonoFonts{}.Load(RoleEvent, 20)
	if got := f.Width("abcd"); got != 48 {
		t.Errorf("Width = %d, want 48", got)
	}
	if f.Height() != 20 {
		t.Errorf("Height = %d, want 20", f.Height())
	}
	if (MonoFonts{}).Load(RoleTime, 0).Height() != 1 {
		t.Errorf("non-positive size should clamp to 1")
	}
}
