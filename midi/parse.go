package midi

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"go-melody/transport"
)

// Note is a note read back from a MIDI file, positioned in real time.
type Note struct {
	Pitch    uint8
	Start    time.Duration
	Duration time.Duration
	Track    int
}

type tempoChange struct {
	tick int64
	bpm  float64
}

type pendingKey struct {
	channel, key uint8
}

// Parse reads a standard MIDI file and flattens the notes of every track
// into one sequence ordered by start time, then track, then pitch.
func Parse(data []byte) ([]Note, error) {
	if err := checkChunks(data); err != nil {
		return nil, err
	}

	file, err := smf.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMidi, err)
	}
	ticks, ok := file.TimeFormat.(smf.MetricTicks)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported time format %v", ErrMalformedMidi, file.TimeFormat)
	}

	tempos := collectTempos(file)
	at := func(tick int64) time.Duration {
		return tickTime(ticks, tempos, tick)
	}

	var notes []Note
	for trackNo, track := range file.Tracks {
		var abs int64
		open := make(map[pendingKey][]int64)

		for _, ev := range track {
			abs += int64(ev.Delta)
			msg := gomidi.Message(ev.Message)

			var ch, key, vel uint8
			switch {
			case msg.GetNoteStart(&ch, &key, &vel):
				k := pendingKey{ch, key}
				open[k] = append(open[k], abs)
			case msg.GetNoteEnd(&ch, &key):
				k := pendingKey{ch, key}
				starts := open[k]
				if len(starts) == 0 {
					continue
				}
				start := starts[0]
				open[k] = starts[1:]
				notes = append(notes, Note{
					Pitch:    key,
					Start:    at(start),
					Duration: at(abs) - at(start),
					Track:    trackNo,
				})
			}
		}

		// notes never released end with their track
		for k, starts := range open {
			for _, start := range starts {
				notes = append(notes, Note{
					Pitch:    k.key,
					Start:    at(start),
					Duration: at(abs) - at(start),
					Track:    trackNo,
				})
			}
		}
	}

	sort.SliceStable(notes, func(i, j int) bool {
		a, b := notes[i], notes[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.Track != b.Track {
			return a.Track < b.Track
		}
		return a.Pitch < b.Pitch
	})
	return notes, nil
}

// ToTransport converts parsed notes into scheduler events.
func ToTransport(notes []Note) []transport.Event {
	events := make([]transport.Event, len(notes))
	for i, n := range notes {
		events[i] = transport.Event{Pitch: n.Pitch, Offset: n.Start, Duration: n.Duration}
	}
	return events
}

// collectTempos gathers tempo meta events from all tracks, sorted by tick.
func collectTempos(file *smf.SMF) []tempoChange {
	tempos := []tempoChange{{tick: 0, bpm: DefaultBPM}}
	for _, track := range file.Tracks {
		var abs int64
		for _, ev := range track {
			abs += int64(ev.Delta)
			var bpm float64
			if ev.Message.GetMetaTempo(&bpm) && bpm > 0 {
				tempos = append(tempos, tempoChange{tick: abs, bpm: bpm})
			}
		}
	}
	sort.SliceStable(tempos, func(i, j int) bool {
		return tempos[i].tick < tempos[j].tick
	})
	return tempos
}

// tickTime integrates the tempo map up to tick.
func tickTime(ticks smf.MetricTicks, tempos []tempoChange, tick int64) time.Duration {
	var d time.Duration
	for i, tc := range tempos {
		if tc.tick >= tick {
			break
		}
		end := tick
		if i+1 < len(tempos) && tempos[i+1].tick < tick {
			end = tempos[i+1].tick
		}
		d += ticksToDuration(uint32(end-tc.tick), tc.bpm, uint16(ticks))
	}
	return d
}

// checkChunks walks the RIFF-style chunk layout so truncated files fail
// before the decoder sees them.
func checkChunks(data []byte) error {
	if len(data) < 14 || string(data[:4]) != "MThd" {
		return fmt.Errorf("%w: missing header chunk", ErrMalformedMidi)
	}
	if binary.BigEndian.Uint32(data[4:8]) < 6 {
		return fmt.Errorf("%w: short header chunk", ErrMalformedMidi)
	}
	ntracks := int(binary.BigEndian.Uint16(data[10:12]))

	pos := 8 + int(binary.BigEndian.Uint32(data[4:8]))
	found := 0
	for pos < len(data) {
		if len(data)-pos < 8 {
			return fmt.Errorf("%w: truncated chunk header at byte %d", ErrMalformedMidi, pos)
		}
		size := int(binary.BigEndian.Uint32(data[pos+4 : pos+8]))
		if size > len(data)-pos-8 {
			return fmt.Errorf("%w: chunk at byte %d overruns file", ErrMalformedMidi, pos)
		}
		if string(data[pos:pos+4]) == "MTrk" {
			found++
		}
		pos += 8 + size
	}
	if found < ntracks {
		return fmt.Errorf("%w: header declares %d tracks, found %d", ErrMalformedMidi, ntracks, found)
	}
	return nil
}
