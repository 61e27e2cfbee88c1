package midi

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomidi "gitlab.com/gomidi/midi/v2"
)

type sent struct {
	mu   sync.Mutex
	msgs []gomidi.Message
}

func (s *sent) send(msg gomidi.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *sent) all() []gomidi.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gomidi.Message(nil), s.msgs...)
}

func TestSynthTriggerSendsNoteOnThenOff(t *testing.T) {
	var out sent
	synth := NewSynth(out.send, 2, WithVelocity(90))

	synth.Trigger(60, 20*time.Millisecond, time.Now())

	require.Eventually(t, func() bool { return len(out.all()) == 2 }, time.Second, 5*time.Millisecond)
	msgs := out.all()

	var ch, key, vel uint8
	require.True(t, msgs[0].GetNoteStart(&ch, &key, &vel))
	assert.Equal(t, uint8(2), ch)
	assert.Equal(t, uint8(60), key)
	assert.Equal(t, uint8(90), vel)

	require.True(t, msgs[1].GetNoteEnd(&ch, &key))
	assert.Equal(t, uint8(60), key)
}

func TestSynthSilenceCutsPendingNotes(t *testing.T) {
	var out sent
	synth := NewSynth(out.send, 0)

	synth.Trigger(64, time.Hour, time.Now())
	synth.Trigger(67, time.Hour, time.Now())
	synth.Silence()

	msgs := out.all()
	require.Len(t, msgs, 5) // 2 on, 2 off, all-notes-off

	var ch, key uint8
	offs := map[uint8]bool{}
	for _, m := range msgs[2:4] {
		require.True(t, m.GetNoteEnd(&ch, &key))
		offs[key] = true
	}
	assert.Equal(t, map[uint8]bool{64: true, 67: true}, offs)

	var ctrl, val uint8
	require.True(t, msgs[4].GetControlChange(&ch, &ctrl, &val))
	assert.Equal(t, uint8(allNotesOff), ctrl)

	// the silenced note-offs never fire again
	assert.Never(t, func() bool { return len(out.all()) != 5 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestSynthRestrikeKeepsNoteSounding(t *testing.T) {
	var out sent
	synth := NewSynth(out.send, 0)

	synth.Trigger(60, 10*time.Millisecond, time.Now())
	synth.Trigger(60, time.Hour, time.Now())

	// first note-off is swallowed while the second strike rings
	assert.Never(t, func() bool { return len(out.all()) > 2 }, 60*time.Millisecond, 5*time.Millisecond)
	synth.Silence()
	assert.Len(t, out.all(), 4)
}

func TestSynthIgnoresOutOfRangePitch(t *testing.T) {
	var out sent
	NewSynth(out.send, 0).Trigger(200, time.Millisecond, time.Now())
	assert.Empty(t, out.all())
}
