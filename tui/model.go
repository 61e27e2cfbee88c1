package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"go-melody/debug"
	"go-melody/generate"
	"go-melody/midi"
	"go-melody/note"
	"go-melody/sequencer"
	"go-melody/theme"
	"go-melody/widgets"
)

// keyLayout maps computer keys to semitones above the current octave's C
var keyLayout = []struct {
	key      string
	semitone int
}{
	{"a", 0}, {"w", 1}, {"s", 2}, {"e", 3}, {"d", 4}, {"f", 5}, {"t", 6},
	{"g", 7}, {"y", 8}, {"h", 9}, {"u", 10}, {"j", 11}, {"k", 12},
}

var helpSections = []widgets.KeySection{
	{Title: "Play", Keys: []widgets.KeyBinding{
		{Key: "a w s e d f", Desc: "C to F"},
		{Key: "t g y h u j", Desc: "F# to B"},
		{Key: "k", Desc: "C an octave up"},
		{Key: "z / x", Desc: "octave down / up"},
	}},
	{Title: "Session", Keys: []widgets.KeyBinding{
		{Key: "r", Desc: "record"},
		{Key: "space", Desc: "stop"},
		{Key: "p", Desc: "play recording"},
		{Key: "/ or tab", Desc: "type a prompt, enter to generate"},
		{Key: "c", Desc: "continue the recording"},
		{Key: "o", Desc: "play generated melody"},
		{Key: "q", Desc: "quit"},
	}},
}

const (
	minOctave = 0
	maxOctave = 8

	frameRate = time.Second / 30
)

type Model struct {
	Manager   *sequencer.Manager
	DeviceMgr *midi.DeviceManager // nil without hardware input
	Theme     *theme.Theme
	Flasher   *KeyFlasher

	// GenerateTimeout bounds each generation; zero means none
	GenerateTimeout time.Duration

	prompt     textinput.Model
	octave     int
	status     string
	quitting   bool
	showHelp   bool
	controller midi.Controller // current keyboard (may be nil)
}

type UpdateMsg struct{}

type DeviceEventMsg midi.DeviceEvent

type tickMsg time.Time

type generatedMsg struct {
	res generate.Result
	err error
}

type playedMsg struct{ err error }

func NewModel(manager *sequencer.Manager, deviceMgr *midi.DeviceManager, th *theme.Theme, flasher *KeyFlasher, octave int) Model {
	ti := textinput.New()
	ti.Placeholder = "describe a melody, e.g. a calm lullaby in C major"
	ti.Prompt = "prompt> "
	ti.CharLimit = 500
	ti.Width = 60

	if octave < minOctave || octave > maxOctave {
		octave = 4
	}
	if flasher == nil {
		flasher = NewKeyFlasher()
	}
	if th != nil {
		ti.Cursor.Style = lipgloss.NewStyle().Foreground(th.Cursor())
		ti.PromptStyle = lipgloss.NewStyle().Foreground(th.Accent())
	}
	return Model{
		Manager:   manager,
		DeviceMgr: deviceMgr,
		Theme:     th,
		Flasher:   flasher,
		prompt:    ti,
		octave:    octave,
	}
}

func ListenForUpdates(manager *sequencer.Manager) tea.Cmd {
	return func() tea.Msg {
		<-manager.Updates()
		return UpdateMsg{}
	}
}

func ListenForDevices(deviceMgr *midi.DeviceManager) tea.Cmd {
	if deviceMgr == nil {
		return nil
	}
	return func() tea.Msg {
		event, ok := <-deviceMgr.Events()
		if !ok {
			return nil
		}
		return DeviceEventMsg(event)
	}
}

func tick() tea.Cmd {
	return tea.Tick(frameRate, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		ListenForUpdates(m.Manager),
		ListenForDevices(m.DeviceMgr),
		tick(),
	)
}

func (m Model) generateCmd(prompt string) tea.Cmd {
	return m.runGenerator(func(ctx context.Context) (generate.Result, error) {
		return m.Manager.Generate(ctx, prompt)
	})
}

func (m Model) continueCmd() tea.Cmd {
	return m.runGenerator(m.Manager.Continue)
}

func (m Model) runGenerator(run func(context.Context) (generate.Result, error)) tea.Cmd {
	timeout := m.GenerateTimeout
	return func() tea.Msg {
		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		res, err := run(ctx)
		return generatedMsg{res: res, err: err}
	}
}

func (m Model) playGeneratedCmd() tea.Cmd {
	return func() tea.Msg {
		return playedMsg{err: m.Manager.PlayGenerated(context.Background())}
	}
}

// pitchFor returns the pitch a layout key plays at the current octave
func (m Model) pitchFor(key string) (uint8, bool) {
	for _, k := range keyLayout {
		if k.key == key {
			p := (m.octave+1)*12 + k.semitone
			if p > 127 {
				return 0, false
			}
			return uint8(p), true
		}
	}
	return 0, false
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.prompt.Focused() {
			return m.updatePrompt(msg)
		}
		return m.updateKeys(msg)

	case UpdateMsg:
		if err := m.Manager.Snapshot().Err; err != nil {
			m.status = describe(err)
		}
		return m, ListenForUpdates(m.Manager)

	case generatedMsg:
		if msg.err != nil {
			m.status = describe(msg.err)
		} else {
			m.status = "melody ready: " + string(msg.res.MIDI) + "  (o to play)"
		}

	case playedMsg:
		if msg.err != nil {
			m.status = describe(msg.err)
		}

	case tickMsg:
		debug.LogEvery(300, "tui", "frame")
		return m, tick()

	case DeviceEventMsg:
		event := midi.DeviceEvent(msg)
		debug.Log("tui", "device event type=%d id=%s", event.Type, event.ID)
		if event.Type == midi.DeviceConnected {
			m.controller = event.Controller
			m.Manager.SetMIDIInput(event.Controller)
			m.status = "keyboard connected: " + event.ID
		} else if event.Type == midi.DeviceDisconnected {
			if m.controller != nil && m.controller.ID() == event.ID {
				m.controller = nil
			}
			m.status = "keyboard disconnected: " + event.ID
		}
		return m, ListenForDevices(m.DeviceMgr)
	}

	return m, nil
}

func (m Model) updatePrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "esc":
		m.prompt.Blur()
		return m, nil
	case "enter":
		text := m.prompt.Value()
		if strings.TrimSpace(text) == "" {
			m.status = describe(generate.ErrEmptyPrompt)
			return m, nil
		}
		m.prompt.Blur()
		m.status = "generating..."
		return m, m.generateCmd(text)
	}

	var cmd tea.Cmd
	m.prompt, cmd = m.prompt.Update(msg)
	return m, cmd
}

func (m Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if pitch, ok := m.pitchFor(key); ok {
		if err := m.Manager.PressPitch(pitch); err != nil {
			m.status = describe(err)
		}
		return m, nil
	}

	m.status = ""
	var err error
	switch key {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "?":
		m.showHelp = !m.showHelp
	case "z":
		if m.octave > minOctave {
			m.octave--
		}
	case "x":
		if m.octave < maxOctave {
			m.octave++
		}
	case "r":
		err = m.Manager.Record()
	case " ":
		err = m.Manager.Stop()
	case "p":
		err = m.Manager.Playback()
	case "o":
		if !m.Manager.Snapshot().Controls.PlayGenerated {
			err = fmt.Errorf("%w: nothing generated yet", sequencer.ErrActionDisabled)
			break
		}
		return m, m.playGeneratedCmd()
	case "c":
		if !m.Manager.Snapshot().Controls.Continue {
			err = fmt.Errorf("%w: continue while %s", sequencer.ErrActionDisabled, m.Manager.Snapshot().State)
			break
		}
		m.status = "generating..."
		return m, m.continueCmd()
	case "/", "tab":
		if !m.Manager.Snapshot().Controls.Generate {
			err = fmt.Errorf("%w: generate while %s", sequencer.ErrActionDisabled, m.Manager.Snapshot().State)
			break
		}
		return m, m.prompt.Focus()
	}
	if err != nil {
		m.status = describe(err)
	}
	return m, nil
}

// describe turns an error into a one-line status
func describe(err error) string {
	var failed *generate.FailedError
	switch {
	case errors.As(err, &failed):
		detail := strings.TrimSpace(failed.Detail)
		if i := strings.LastIndexByte(detail, '\n'); i >= 0 {
			detail = detail[i+1:] // last line of a traceback says the most
		}
		return "generation failed: " + detail
	case errors.Is(err, generate.ErrEmptyPrompt):
		return "type a prompt first"
	case errors.Is(err, midi.ErrEmptyRecording):
		return "nothing recorded yet"
	case errors.Is(err, midi.ErrMalformedMidi):
		return "generated file is not valid MIDI"
	}
	return err.Error()
}

func (m Model) pianoKeys() []widgets.PianoKey {
	names := append(note.Names(m.octave), note.Names(m.octave+1)[0])
	keys := make([]widgets.PianoKey, 0, len(keyLayout))
	for _, k := range keyLayout {
		pitch, ok := m.pitchFor(k.key)
		if !ok {
			continue
		}
		keys = append(keys, widgets.PianoKey{
			Name:  names[k.semitone],
			Key:   k.key,
			Sharp: note.IsSharp(pitch),
			Lit:   m.Flasher.Lit(pitch),
		})
	}
	return keys
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	snap := m.Manager.Snapshot()
	th := m.Theme

	// Styles
	headerStyle := lipgloss.NewStyle().Foreground(th.Accent()).Bold(true)
	stateStyle := lipgloss.NewStyle().Foreground(th.StateColor(snap.State.String()))
	dimStyle := lipgloss.NewStyle().Foreground(th.Muted())
	statusStyle := lipgloss.NewStyle().Foreground(th.Warning())
	octaveStyle := lipgloss.NewStyle().Foreground(th.Color(float64(m.octave) / maxOctave))

	stateMark := th.Symbols.Stop
	switch snap.State {
	case sequencer.Recording:
		stateMark = th.Symbols.Record
	case sequencer.Playing:
		stateMark = th.Symbols.Play
	case sequencer.Generating:
		stateMark = th.Symbols.Busy
	}

	deviceStatus := ""
	if m.controller != nil {
		deviceStatus = "  KB:" + m.controller.ID()
	}

	header := headerStyle.Render("go-melody") + "  " +
		stateStyle.Render(fmt.Sprintf("%c %s", stateMark, strings.ToUpper(snap.State.String()))) +
		dimStyle.Render("  octave:") + octaveStyle.Render(fmt.Sprint(m.octave)) +
		dimStyle.Render(fmt.Sprintf("  notes:%d%s", snap.Notes, deviceStatus))

	piano := widgets.RenderPiano(m.pianoKeys(), widgets.PianoStyles{
		White: lipgloss.NewStyle().Foreground(th.BG()).Background(th.FG()),
		Black: lipgloss.NewStyle().Foreground(th.FG()).Background(th.Surface()),
		Lit:   lipgloss.NewStyle().Foreground(th.BG()).Background(th.Success()),
		Label: dimStyle,
	})

	c := snap.Controls
	controls := widgets.RenderControls([]widgets.Control{
		{Key: "r", Label: "record", Enabled: c.Record},
		{Key: "space", Label: "stop", Enabled: c.Stop},
		{Key: "p", Label: "playback", Enabled: c.Playback},
		{Key: "/", Label: "generate", Enabled: c.Generate},
		{Key: "c", Label: "continue", Enabled: c.Continue},
		{Key: "o", Label: "play generated", Enabled: c.PlayGenerated},
	},
		lipgloss.NewStyle().Foreground(th.Accent()),
		dimStyle,
		th.Symbols.Enabled, th.Symbols.Off)

	help := dimStyle.Render("a-k:notes  z/x:octave  enter:generate  esc:leave prompt  ?:help  q:quit")
	if m.showHelp {
		help = dimStyle.Render(widgets.RenderKeyHelp(helpSections))
	}

	// Build output
	var out strings.Builder
	out.WriteString("\n")
	out.WriteString(header)
	out.WriteString("\n\n")
	out.WriteString(piano)
	out.WriteString("\n\n")
	out.WriteString(controls)
	out.WriteString("\n\n")
	out.WriteString(m.prompt.View())
	out.WriteString("\n")
	if m.status != "" {
		out.WriteString(statusStyle.Render(m.status))
	}
	out.WriteString("\n\n")
	out.WriteString(help)

	return out.String()
}

// Octave is the keyboard's current octave
func (m Model) Octave() int {
	return m.octave
}
