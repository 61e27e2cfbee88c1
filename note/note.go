package note

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidNoteFormat is returned for names that are not a sharp pitch class followed by an octave.
var ErrInvalidNoteFormat = errors.New("invalid note format")

// DefaultDuration is the length of a live-played note: an eighth note at 120 BPM.
const DefaultDuration = 250 * time.Millisecond

// pitchClasses maps semitone (C=0 … B=11) to its spelling. Sharps only.
var pitchClasses = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// Event is a single key press captured during a recording.
type Event struct {
	Name     string        // e.g. "C#4"
	Offset   time.Duration // from recording start
	Duration time.Duration
}

// ToMidiPitch converts a note name like "C#4" to its MIDI pitch.
func ToMidiPitch(name string) (uint8, error) {
	class, rest, ok := splitName(name)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidNoteFormat, name)
	}

	octave, err := strconv.Atoi(rest)
	if err != nil || !isOctave(rest) {
		return 0, fmt.Errorf("%w: bad octave in %q", ErrInvalidNoteFormat, name)
	}

	pitch := class + (octave+1)*12
	if pitch < 0 || pitch > 127 {
		return 0, fmt.Errorf("%w: %q is outside the MIDI range", ErrInvalidNoteFormat, name)
	}
	return uint8(pitch), nil
}

// FromMidiPitch converts a MIDI pitch back to its sharp spelling, e.g. 61 -> "C#4".
func FromMidiPitch(pitch uint8) (string, error) {
	if pitch > 127 {
		return "", fmt.Errorf("%w: pitch %d is outside the MIDI range", ErrInvalidNoteFormat, pitch)
	}
	octave := int(pitch)/12 - 1
	return pitchClasses[pitch%12] + strconv.Itoa(octave), nil
}

// Names returns the twelve note names of one octave, C first.
func Names(octave int) []string {
	names := make([]string, len(pitchClasses))
	for i, class := range pitchClasses {
		names[i] = class + strconv.Itoa(octave)
	}
	return names
}

// IsSharp reports whether the pitch falls on a black key
func IsSharp(pitch uint8) bool {
	return strings.HasSuffix(pitchClasses[pitch%12], "#")
}

// Normalize returns the offset of at from start, never negative.
func Normalize(start, at time.Time) time.Duration {
	d := at.Sub(start)
	if d < 0 {
		return 0
	}
	return d
}

// splitName separates the pitch class from the octave digits.
// Two-character spellings are tried first so "C#4" is not read as "C" + "#4".
func splitName(name string) (class int, rest string, ok bool) {
	if len(name) >= 3 && name[1] == '#' {
		for i, pc := range pitchClasses {
			if pc == name[:2] {
				return i, name[2:], true
			}
		}
		return 0, "", false
	}
	if len(name) < 2 {
		return 0, "", false
	}
	for i, pc := range pitchClasses {
		if pc == name[:1] {
			return i, name[1:], true
		}
	}
	return 0, "", false
}

func isOctave(s string) bool {
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
