package theme

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

type Theme struct {
	Palette *Palette
	Symbols Symbols
}

type Symbols struct {
	Record  rune // ● recording
	Play    rune // ▶ playing
	Stop    rune // ■ stopped
	Busy    rune // ◌ generating
	Enabled rune // ◉ action available
	Off     rune // ○ action disabled
}

func New(palette *Palette) *Theme {
	if palette == nil || len(palette.Colors) == 0 {
		palette = Plasma()
	}
	return &Theme{
		Palette: palette,
		Symbols: Symbols{
			Record:  '●',
			Play:    '▶',
			Stop:    '■',
			Busy:    '◌',
			Enabled: '◉',
			Off:     '○',
		},
	}
}

// Color roles mapped to palette positions (0-1)
const (
	RoleBG      = 0.0 // deep purple
	RoleSurface = 0.1 // dark purple
	RoleMuted   = 0.2 // purple-magenta
	RoleFG      = 0.4 // pink-purple (readable)
	RoleAccent  = 0.5 // vivid magenta
	RoleCursor  = 0.6 // rose pink
	RoleActive  = 0.7 // soft red
	RoleWarning = 0.8 // orange
	RoleSuccess = 1.0 // bright yellow
)

// Style helpers

func (t *Theme) BG() lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(RoleBG))
}

func (t *Theme) Surface() lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(RoleSurface))
}

func (t *Theme) FG() lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(RoleFG))
}

func (t *Theme) Accent() lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(RoleAccent))
}

func (t *Theme) Muted() lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(RoleMuted))
}

func (t *Theme) Active() lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(RoleActive))
}

func (t *Theme) Cursor() lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(RoleCursor))
}

func (t *Theme) Warning() lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(RoleWarning))
}

func (t *Theme) Success() lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(RoleSuccess))
}

// Color returns lipgloss color for any normalized value 0-1
func (t *Theme) Color(norm float64) lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(norm))
}

// StateColor picks the header color for a session state name.
func (t *Theme) StateColor(state string) lipgloss.Color {
	switch state {
	case "recording":
		return t.Active()
	case "playing":
		return t.Success()
	case "generating":
		return t.Warning()
	}
	return t.FG()
}

func rgbToLipgloss(c RGB) lipgloss.Color {
	return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", c[0], c[1], c[2]))
}
