package sequencer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"go-melody/generate"
	"go-melody/midi"
	"go-melody/note"
	"go-melody/storage"
	"go-melody/transport"
)

// ErrActionDisabled is returned for actions that are not legal in the
// current state. It wraps the cause where there is one.
var ErrActionDisabled = errors.New("action disabled")

const persistTimeout = 30 * time.Second

// Manager owns the session state and orchestrates recording, generation
// and playback.
type Manager struct {
	sound transport.Sound
	sched *transport.Scheduler
	clock transport.Clock
	store storage.Store
	orch  *generate.Orchestrator
	log   *zap.Logger

	buildOpts []midi.BuildOption
	cont      generate.Generator

	mu        sync.Mutex
	state     State
	source    Source
	playToken uint64 // bumped whenever playback starts or is abandoned
	start     time.Time
	recording []note.Event
	generated *generate.Result
	lastErr   error

	persisting sync.WaitGroup

	// MIDI input
	midiInputChan     chan midi.Event
	midiInputStopChan chan struct{}
	inputOnce         sync.Once

	// Notify TUI of updates
	updateChan chan struct{}
}

// Option configures a Manager
type Option func(*Manager)

// WithClock replaces the wall clock for recording timestamps and playback.
func WithClock(c transport.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithBuildOptions configures how recordings are written to MIDI.
func WithBuildOptions(opts ...midi.BuildOption) Option {
	return func(m *Manager) {
		m.buildOpts = append(m.buildOpts, opts...)
	}
}

// WithContinuation sets the generator that extends a recording into a
// generated melody. Without one, Continue is never enabled.
func WithContinuation(gen generate.Generator) Option {
	return func(m *Manager) {
		m.cont = gen
	}
}

// NewManager creates a manager in the Idle state. sound plays both live
// key presses and scheduled playback.
func NewManager(sound transport.Sound, store storage.Store, gen generate.Generator, opts ...Option) *Manager {
	m := &Manager{
		sound:             sound,
		store:             store,
		clock:             transport.SystemClock,
		log:               zap.NewNop(),
		midiInputChan:     make(chan midi.Event, 32),
		midiInputStopChan: make(chan struct{}),
		updateChan:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.sched = transport.NewScheduler(sound,
		transport.WithClock(m.clock),
		transport.WithLogger(m.log.Named("transport")))
	orchOpts := []generate.Option{generate.WithLogger(m.log.Named("generate"))}
	if m.cont != nil {
		orchOpts = append(orchOpts, generate.WithContinuation(m.cont))
	}
	m.orch = generate.NewOrchestrator(gen, orchOpts...)
	return m
}

// Updates signals asynchronous transitions (playback end, generation end).
func (m *Manager) Updates() <-chan struct{} {
	return m.updateChan
}

func (m *Manager) notify() {
	select {
	case m.updateChan <- struct{}{}:
	default:
	}
}

// Snapshot returns the current state and the controls derived from it.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	s := Snapshot{
		State:       m.state,
		Source:      m.source,
		Notes:       len(m.recording),
		Err:         m.lastErr,
		CanContinue: m.orch.CanContinue(),
	}
	if m.generated != nil {
		g := *m.generated
		s.Generated = &g
	}
	s.Controls = ControlsFor(s)
	return s
}

// Recording returns a copy of the recorded events.
func (m *Manager) Recording() []note.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]note.Event(nil), m.recording...)
}

// guardLocked rejects actions the current controls don't allow.
func (m *Manager) guardLocked(a Action) error {
	if ControlsFor(m.snapshotLocked()).Enabled(a) {
		return nil
	}
	return fmt.Errorf("%w: %s while %s", ErrActionDisabled, a, m.state)
}

// Record starts a new recording, cutting any playback first.
func (m *Manager) Record() error {
	m.mu.Lock()
	defer m.notify()
	defer m.mu.Unlock()

	if err := m.guardLocked(ActionRecord); err != nil {
		return err
	}

	m.stopPlaybackLocked()
	m.recording = nil
	m.lastErr = nil
	m.start = m.clock.Now()
	m.state = Recording
	m.log.Info("recording started")
	return nil
}

// Press sounds a key and, while recording, appends it to the recording.
func (m *Manager) Press(name string) error {
	return m.pressAt(name, m.clock.Now())
}

func (m *Manager) pressAt(name string, at time.Time) error {
	pitch, err := note.ToMidiPitch(name)
	if err != nil {
		return err
	}

	m.sound.Trigger(pitch, note.DefaultDuration, at)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Recording {
		return nil
	}

	offset := note.Normalize(m.start, at)
	// concurrent presses may arrive slightly out of order
	if n := len(m.recording); n > 0 && offset < m.recording[n-1].Offset {
		offset = m.recording[n-1].Offset
	}
	m.recording = append(m.recording, note.Event{
		Name:     name,
		Offset:   offset,
		Duration: note.DefaultDuration,
	})
	return nil
}

// PressPitch is Press by MIDI pitch.
func (m *Manager) PressPitch(pitch uint8) error {
	return m.PressPitchAt(pitch, m.clock.Now())
}

// PressPitchAt records a key struck at a known instant, such as the time a
// hardware keyboard's message arrived.
func (m *Manager) PressPitchAt(pitch uint8, at time.Time) error {
	name, err := note.FromMidiPitch(pitch)
	if err != nil {
		return err
	}
	return m.pressAt(name, at)
}

// Stop ends a recording or playback. A finished recording is persisted in
// the background; failures there are logged and never change state.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.notify()
	defer m.mu.Unlock()

	if err := m.guardLocked(ActionStop); err != nil {
		return err
	}

	switch m.state {
	case Recording:
		m.state = Stopped
		events := append([]note.Event(nil), m.recording...)
		m.log.Info("recording stopped", zap.Int("notes", len(events)))
		m.persist(events)
	case Playing:
		m.stopPlaybackLocked()
		m.state = Stopped
	default:
		// nothing running; still cut ringing notes
		m.sched.Stop()
	}
	return nil
}

func (m *Manager) persist(events []note.Event) {
	if len(events) == 0 {
		m.log.Debug("empty recording not persisted")
		return
	}

	m.persisting.Add(1)
	go func() {
		defer m.persisting.Done()

		data, err := midi.Encode(events, m.buildOpts...)
		if err != nil {
			m.log.Error("encode recording", zap.Error(err))
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		ref, err := m.store.Save(ctx, storage.RecordedMIDI, data)
		if err != nil {
			m.log.Error("save recording", zap.Error(err))
			return
		}
		m.log.Info("recording saved", zap.String("ref", string(ref)), zap.Int("bytes", len(data)))
	}()
}

// Playback plays the recording, or stops it if it is already playing.
func (m *Manager) Playback() error {
	m.mu.Lock()
	defer m.notify()
	defer m.mu.Unlock()

	if m.state == Playing && m.source == SourceRecording {
		m.stopPlaybackLocked()
		m.state = Stopped
		return nil
	}
	if (m.state == Idle || m.state == Stopped) && len(m.recording) == 0 {
		return fmt.Errorf("%w: %w", ErrActionDisabled, midi.ErrEmptyRecording)
	}
	if err := m.guardLocked(ActionPlayback); err != nil {
		return err
	}

	events := make([]transport.Event, 0, len(m.recording))
	for _, ev := range m.recording {
		pitch, err := note.ToMidiPitch(ev.Name)
		if err != nil {
			return err
		}
		events = append(events, transport.Event{Pitch: pitch, Offset: ev.Offset, Duration: ev.Duration})
	}

	m.lastErr = nil
	m.startPlaybackLocked(SourceRecording, events)
	return nil
}

// Generate submits a prompt and waits for the result. The session sits in
// Generating, with every action disabled, until the generator finishes;
// it always ends in Stopped.
func (m *Manager) Generate(ctx context.Context, prompt string) (generate.Result, error) {
	if strings.TrimSpace(prompt) == "" {
		m.setErr(generate.ErrEmptyPrompt)
		return generate.Result{}, generate.ErrEmptyPrompt
	}

	m.mu.Lock()
	if m.state == Generating {
		m.mu.Unlock()
		return generate.Result{}, fmt.Errorf("%w: %w", ErrActionDisabled, generate.ErrBusy)
	}
	if err := m.guardLocked(ActionGenerate); err != nil {
		m.mu.Unlock()
		return generate.Result{}, err
	}
	m.state = Generating
	m.lastErr = nil
	m.mu.Unlock()
	m.notify()

	res, err := m.orch.Submit(ctx, prompt)

	m.mu.Lock()
	m.state = Stopped
	if err != nil {
		m.lastErr = err
	} else {
		m.generated = &res
	}
	m.mu.Unlock()
	m.notify()
	return res, err
}

// Continue saves the recording and asks the continuation generator to
// extend it. Like Generate it holds the session in Generating and always
// ends in Stopped; a success replaces the generated melody.
func (m *Manager) Continue(ctx context.Context) (generate.Result, error) {
	m.mu.Lock()
	if m.state == Generating {
		m.mu.Unlock()
		return generate.Result{}, fmt.Errorf("%w: %w", ErrActionDisabled, generate.ErrBusy)
	}
	if (m.state == Idle || m.state == Stopped) && len(m.recording) == 0 {
		m.mu.Unlock()
		return generate.Result{}, fmt.Errorf("%w: %w", ErrActionDisabled, midi.ErrEmptyRecording)
	}
	if err := m.guardLocked(ActionContinue); err != nil {
		m.mu.Unlock()
		return generate.Result{}, err
	}
	events := append([]note.Event(nil), m.recording...)
	m.state = Generating
	m.lastErr = nil
	m.mu.Unlock()
	m.notify()

	res, err := m.continueRecording(ctx, events)

	m.mu.Lock()
	m.state = Stopped
	if err != nil {
		m.lastErr = err
	} else {
		m.generated = &res
	}
	m.mu.Unlock()
	m.notify()
	return res, err
}

func (m *Manager) continueRecording(ctx context.Context, events []note.Event) (generate.Result, error) {
	// a background save of the same take must not land after ours
	m.persisting.Wait()

	data, err := midi.Encode(events, m.buildOpts...)
	if err != nil {
		return generate.Result{}, err
	}
	ref, err := m.store.Save(ctx, storage.RecordedMIDI, data)
	if err != nil {
		m.log.Error("save recording", zap.Error(err))
		return generate.Result{}, fmt.Errorf("save recording: %w", err)
	}
	return m.orch.Continue(ctx, ref)
}

// PlayGenerated fetches, parses and plays the generated melody, or stops
// it if it is already playing.
func (m *Manager) PlayGenerated(ctx context.Context) error {
	m.mu.Lock()
	if m.state == Playing && m.source == SourceGenerated {
		m.stopPlaybackLocked()
		m.state = Stopped
		m.mu.Unlock()
		m.notify()
		return nil
	}
	if err := m.guardLocked(ActionPlayGenerated); err != nil {
		m.mu.Unlock()
		return err
	}

	ref := m.generated.MIDI
	m.sched.Stop()
	m.playToken++
	token := m.playToken
	m.state = Playing
	m.source = SourceGenerated
	m.lastErr = nil
	m.mu.Unlock()
	m.notify()

	notes, err := m.fetchNotes(ctx, ref)

	m.mu.Lock()
	defer m.notify()
	defer m.mu.Unlock()

	if m.playToken != token {
		// stopped or re-recorded while fetching
		return nil
	}
	if err != nil {
		m.log.Error("play generated", zap.String("ref", string(ref)), zap.Error(err))
		m.state = Stopped
		m.source = SourceNone
		m.lastErr = err
		return err
	}
	m.startPlaybackLocked(SourceGenerated, midi.ToTransport(notes))
	return nil
}

func (m *Manager) fetchNotes(ctx context.Context, ref storage.Ref) ([]midi.Note, error) {
	data, err := m.store.Fetch(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", ref, err)
	}
	return midi.Parse(data)
}

// startPlaybackLocked schedules events from a fresh origin. An empty event
// list leaves the session Stopped.
func (m *Manager) startPlaybackLocked(src Source, events []transport.Event) {
	m.playToken++
	token := m.playToken

	if !m.sched.Schedule(events, m.clock.Now(), func() { m.playbackDone(token) }) {
		m.state = Stopped
		m.source = SourceNone
		return
	}
	m.state = Playing
	m.source = src
	m.log.Info("playback started", zap.Stringer("source", src), zap.Int("events", len(events)))
}

func (m *Manager) playbackDone(token uint64) {
	m.mu.Lock()
	if m.playToken != token || m.state != Playing {
		m.mu.Unlock()
		return
	}
	m.state = Stopped
	m.source = SourceNone
	m.mu.Unlock()

	m.log.Debug("playback finished")
	m.notify()
}

func (m *Manager) stopPlaybackLocked() {
	m.sched.Stop()
	m.playToken++
	m.source = SourceNone
}

func (m *Manager) setErr(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
	m.notify()
}

// SetMIDIInput routes a hardware keyboard's note-ons into Press.
func (m *Manager) SetMIDIInput(ctrl midi.Controller) {
	m.inputOnce.Do(func() {
		go m.midiInputLoop()
	})

	go func() {
		for evt := range ctrl.NoteEvents() {
			select {
			case m.midiInputChan <- evt:
			default:
				// Drop if channel full
			}
		}
	}()
}

// midiInputLoop consumes MIDI keyboard input
func (m *Manager) midiInputLoop() {
	for {
		select {
		case <-m.midiInputStopChan:
			return
		case evt := <-m.midiInputChan:
			if evt.Type != midi.NoteOn || evt.Velocity == 0 {
				continue
			}
			at := evt.At
			if at.IsZero() {
				at = m.clock.Now()
			}
			if err := m.PressPitchAt(evt.Note, at); err != nil {
				m.log.Warn("midi input", zap.Uint8("note", evt.Note), zap.Error(err))
			}
		}
	}
}

// Close stops playback and input, then waits for pending saves.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.sched.Active() {
		m.log.Debug("cutting playback on close")
	}
	m.stopPlaybackLocked()
	if m.state == Playing {
		m.state = Stopped
	}
	select {
	case <-m.midiInputStopChan:
	default:
		close(m.midiInputStopChan)
	}
	m.mu.Unlock()

	m.persisting.Wait()
}
