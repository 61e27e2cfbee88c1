package midi

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"go.uber.org/zap"
)

// ErrPortNotFound is returned when no output port matches the requested name.
var ErrPortNotFound = errors.New("midi port not found")

// CC 123: all notes off
const allNotesOff = 123

// Synth plays notes on an external MIDI output. Each trigger sends a
// note-on immediately and a note-off after the note's duration.
type Synth struct {
	send     func(gomidi.Message) error
	channel  uint8
	velocity uint8
	log      *zap.Logger

	mu       sync.Mutex
	timers   map[*time.Timer]uint8 // pending note-offs -> pitch
	sounding map[uint8]int
}

// SynthOption configures a Synth
type SynthOption func(*Synth)

// WithVelocity sets the note-on velocity.
func WithVelocity(v uint8) SynthOption {
	return func(s *Synth) {
		if v > 0 && v <= 127 {
			s.velocity = v
		}
	}
}

// WithSynthLogger sets the logger used for send failures.
func WithSynthLogger(l *zap.Logger) SynthOption {
	return func(s *Synth) {
		if l != nil {
			s.log = l
		}
	}
}

// NewSynth creates a synth writing through send on the given channel.
func NewSynth(send func(gomidi.Message) error, channel uint8, opts ...SynthOption) *Synth {
	s := &Synth{
		send:     send,
		channel:  channel & 0x0f,
		velocity: defaultVelocity,
		log:      zap.NewNop(),
		timers:   make(map[*time.Timer]uint8),
		sounding: make(map[uint8]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenSynth opens the first output port whose name contains portName.
func OpenSynth(portName string, channel uint8, opts ...SynthOption) (*Synth, error) {
	want := strings.ToLower(portName)
	for _, port := range gomidi.GetOutPorts() {
		if !strings.Contains(strings.ToLower(port.String()), want) {
			continue
		}
		sender, err := gomidi.SendTo(port)
		if err != nil {
			return nil, fmt.Errorf("open %q: %w", port.String(), err)
		}
		return NewSynth(sender, channel, opts...), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrPortNotFound, portName)
}

// OutPorts lists the names of available output ports.
func OutPorts() []string {
	var names []string
	for _, port := range gomidi.GetOutPorts() {
		names = append(names, port.String())
	}
	return names
}

// Trigger implements transport.Sound.
func (s *Synth) Trigger(pitch uint8, duration time.Duration, at time.Time) {
	if pitch > 127 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.send(gomidi.NoteOn(s.channel, pitch, s.velocity)); err != nil {
		s.log.Warn("note on", zap.Uint8("pitch", pitch), zap.Error(err))
		return
	}
	s.sounding[pitch]++

	var timer *time.Timer
	timer = time.AfterFunc(duration, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.timers[timer]; !ok {
			return // silenced
		}
		delete(s.timers, timer)
		s.release(pitch)
	})
	s.timers[timer] = pitch
}

// release must be called with mu held
func (s *Synth) release(pitch uint8) {
	if s.sounding[pitch] == 0 {
		return
	}
	s.sounding[pitch]--
	if s.sounding[pitch] > 0 {
		return // a later strike of the same pitch is still ringing
	}
	delete(s.sounding, pitch)
	if err := s.send(gomidi.NoteOff(s.channel, pitch)); err != nil {
		s.log.Warn("note off", zap.Uint8("pitch", pitch), zap.Error(err))
	}
}

// Silence cancels pending note-offs and cuts everything that is sounding.
func (s *Synth) Silence() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for timer := range s.timers {
		timer.Stop()
	}
	s.timers = make(map[*time.Timer]uint8)

	for pitch := range s.sounding {
		if err := s.send(gomidi.NoteOff(s.channel, pitch)); err != nil {
			s.log.Warn("note off", zap.Uint8("pitch", pitch), zap.Error(err))
		}
	}
	s.sounding = make(map[uint8]int)

	if err := s.send(gomidi.ControlChange(s.channel, allNotesOff, 0)); err != nil {
		s.log.Warn("all notes off", zap.Error(err))
	}
}
