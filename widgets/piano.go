package widgets

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// PianoKey is one key of the on-screen keyboard
type PianoKey struct {
	Name  string // note name, e.g. "C#4"
	Key   string // computer key that plays it
	Sharp bool
	Lit   bool // sounding right now
}

// PianoStyles colors the keyboard
type PianoStyles struct {
	White lipgloss.Style
	Black lipgloss.Style
	Lit   lipgloss.Style
	Label lipgloss.Style
}

const keyWidth = 5

// RenderPiano renders keys left to right: a row of note cells with the
// computer key for each underneath. Sharps sit on the upper row.
func RenderPiano(keys []PianoKey, st PianoStyles) string {
	var sharps, naturals, labels strings.Builder
	for _, k := range keys {
		cell := lipgloss.PlaceHorizontal(keyWidth, lipgloss.Center, k.Name)
		blank := strings.Repeat(" ", keyWidth)

		style := st.White
		if k.Sharp {
			style = st.Black
		}
		if k.Lit {
			style = st.Lit
		}

		if k.Sharp {
			sharps.WriteString(style.Render(cell))
			naturals.WriteString(blank)
		} else {
			sharps.WriteString(blank)
			naturals.WriteString(style.Render(cell))
		}
		labels.WriteString(st.Label.Render(lipgloss.PlaceHorizontal(keyWidth, lipgloss.Center, k.Key)))
	}
	return strings.Join([]string{sharps.String(), naturals.String(), labels.String()}, "\n")
}

// Control is one action button
type Control struct {
	Key     string
	Label   string
	Enabled bool
}

// RenderControls renders a row of buttons, dimming the disabled ones.
func RenderControls(controls []Control, on, off lipgloss.Style, onMark, offMark rune) string {
	parts := make([]string, len(controls))
	for i, c := range controls {
		text := string(offMark) + " " + c.Key + ":" + c.Label
		style := off
		if c.Enabled {
			text = string(onMark) + " " + c.Key + ":" + c.Label
			style = on
		}
		parts[i] = style.Render(text)
	}
	return strings.Join(parts, "  ")
}
