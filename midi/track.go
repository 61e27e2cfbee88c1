package midi

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"go-melody/note"
)

var (
	// ErrEmptyRecording is returned when building a track from no events.
	ErrEmptyRecording = errors.New("empty recording")
	// ErrMalformedMidi is returned for byte streams that are not a readable SMF.
	ErrMalformedMidi = errors.New("malformed midi")
	// ErrOutOfRange is returned for offsets or lengths too large for a track.
	ErrOutOfRange = errors.New("time out of range")
)

const (
	// PPQ is ticks per quarter note for tracks we write.
	PPQ = 960
	// DefaultBPM is the fixed tempo recordings are written at.
	DefaultBPM = 120.0
	// DefaultNoteLength is the fixed length of every written note. Key-hold
	// time is not captured while recording.
	DefaultNoteLength = time.Second

	defaultVelocity = 100
)

// TrackNote is a note positioned in ticks.
type TrackNote struct {
	Pitch  uint8
	Start  uint32 // absolute ticks
	Length uint32 // ticks
}

// Track is a single-track MIDI sequence ready to serialize.
type Track struct {
	TicksPerQuarter uint16
	BPM             float64
	Notes           []TrackNote
}

type buildOptions struct {
	bpm        float64
	noteLength time.Duration
}

// BuildOption configures Build
type BuildOption func(*buildOptions)

// WithBPM sets the tempo the track is written at.
func WithBPM(bpm float64) BuildOption {
	return func(o *buildOptions) {
		if bpm > 0 {
			o.bpm = bpm
		}
	}
}

// WithNoteLength overrides DefaultNoteLength.
func WithNoteLength(d time.Duration) BuildOption {
	return func(o *buildOptions) {
		if d > 0 {
			o.noteLength = d
		}
	}
}

// Build converts recorded note events into a track. Every note gets the
// same fixed length regardless of the event's own duration.
func Build(events []note.Event, opts ...BuildOption) (Track, error) {
	if len(events) == 0 {
		return Track{}, ErrEmptyRecording
	}

	o := buildOptions{bpm: DefaultBPM, noteLength: DefaultNoteLength}
	for _, opt := range opts {
		opt(&o)
	}

	length, ok := durationToTicks(o.noteLength, o.bpm, PPQ)
	if !ok {
		return Track{}, fmt.Errorf("%w: note length %s", ErrOutOfRange, o.noteLength)
	}

	track := Track{
		TicksPerQuarter: PPQ,
		BPM:             o.bpm,
		Notes:           make([]TrackNote, 0, len(events)),
	}
	for _, ev := range events {
		pitch, err := note.ToMidiPitch(ev.Name)
		if err != nil {
			return Track{}, err
		}
		start, ok := durationToTicks(ev.Offset, o.bpm, PPQ)
		if !ok || uint64(start)+uint64(length) > math.MaxUint32 {
			return Track{}, fmt.Errorf("%w: offset %s", ErrOutOfRange, ev.Offset)
		}
		track.Notes = append(track.Notes, TrackNote{
			Pitch:  pitch,
			Start:  start,
			Length: length,
		})
	}
	return track, nil
}

// Duration returns the length of d ticks at the track's tempo.
func (t Track) Duration(d uint32) time.Duration {
	return ticksToDuration(d, t.BPM, t.TicksPerQuarter)
}

// durationToTicks rounds to the nearest tick so offsets survive a round trip.
// ok is false when d is negative or does not fit in 32 bits of ticks.
func durationToTicks(d time.Duration, bpm float64, tpq uint16) (ticks uint32, ok bool) {
	t := math.Round(d.Seconds() * bpm / 60 * float64(tpq))
	if t < 0 || t > math.MaxUint32 {
		return 0, false
	}
	return uint32(t), true
}

func ticksToDuration(ticks uint32, bpm float64, tpq uint16) time.Duration {
	return time.Duration(math.Round(float64(ticks) * 60 / (bpm * float64(tpq)) * float64(time.Second)))
}

type tickMessage struct {
	tick uint32
	off  bool
	msg  gomidi.Message
	seq  int
}

// Serialize writes the track as a single-track standard MIDI file.
func Serialize(t Track) ([]byte, error) {
	if len(t.Notes) == 0 {
		return nil, ErrEmptyRecording
	}
	tpq := t.TicksPerQuarter
	if tpq == 0 {
		tpq = PPQ
	}
	bpm := t.BPM
	if bpm <= 0 {
		bpm = DefaultBPM
	}

	msgs := make([]tickMessage, 0, len(t.Notes)*2)
	for i, n := range t.Notes {
		msgs = append(msgs,
			tickMessage{tick: n.Start, msg: gomidi.NoteOn(0, n.Pitch, defaultVelocity), seq: i},
			tickMessage{tick: n.Start + n.Length, off: true, msg: gomidi.NoteOff(0, n.Pitch), seq: i},
		)
	}
	// note-offs go before note-ons on the same tick so repeated pitches re-strike
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].tick != msgs[j].tick {
			return msgs[i].tick < msgs[j].tick
		}
		if msgs[i].off != msgs[j].off {
			return msgs[i].off
		}
		return msgs[i].seq < msgs[j].seq
	})

	var track smf.Track
	track.Add(0, smf.MetaTempo(bpm))
	var last uint32
	for _, m := range msgs {
		track.Add(m.tick-last, m.msg)
		last = m.tick
	}
	track.Close(0)

	file := smf.New()
	file.TimeFormat = smf.MetricTicks(tpq)
	if err := file.Add(track); err != nil {
		return nil, fmt.Errorf("add track: %w", err)
	}

	var buf bytes.Buffer
	if _, err := file.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write smf: %w", err)
	}
	return buf.Bytes(), nil
}

// Encode builds and serializes events in one step.
func Encode(events []note.Event, opts ...BuildOption) ([]byte, error) {
	track, err := Build(events, opts...)
	if err != nil {
		return nil, err
	}
	return Serialize(track)
}
