package note

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMidiPitch(t *testing.T) {
	cases := map[string]uint8{
		"C-1": 0,
		"C4":  60,
		"C#4": 61,
		"A4":  69,
		"B3":  59,
		"G9":  127,
		"C1":  24,
		"A#5": 82,
	}
	for name, want := range cases {
		got, err := ToMidiPitch(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
}

func TestToMidiPitchRejectsBadNames(t *testing.T) {
	for _, name := range []string{
		"", "C", "C#", "H4", "Db4", "E#4", "c4", "C+4", "C4.5", "C 4", "G#9", "A10", "C-2", "#4",
	} {
		_, err := ToMidiPitch(name)
		assert.ErrorIs(t, err, ErrInvalidNoteFormat, name)
	}
}

func TestRoundTripAllPitches(t *testing.T) {
	for p := 0; p <= 127; p++ {
		name, err := FromMidiPitch(uint8(p))
		require.NoError(t, err)
		back, err := ToMidiPitch(name)
		require.NoError(t, err, name)
		assert.Equal(t, uint8(p), back, name)
	}
}

func TestRoundTripNames(t *testing.T) {
	for octave := 0; octave <= 8; octave++ {
		for _, name := range Names(octave) {
			pitch, err := ToMidiPitch(name)
			require.NoError(t, err, name)
			got, err := FromMidiPitch(pitch)
			require.NoError(t, err)
			assert.Equal(t, name, got)
		}
	}
}

func TestFromMidiPitchOutOfRange(t *testing.T) {
	_, err := FromMidiPitch(128)
	assert.ErrorIs(t, err, ErrInvalidNoteFormat)
}

func TestIsSharp(t *testing.T) {
	assert.True(t, IsSharp(61))
	assert.False(t, IsSharp(60))
	assert.False(t, IsSharp(64))
}

func TestNormalize(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 500*time.Millisecond, Normalize(start, start.Add(500*time.Millisecond)))
	assert.Equal(t, time.Duration(0), Normalize(start, start.Add(-time.Second)))
}
