package transport

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-melody/transport/transporttest"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

const (
	wait = time.Second
	poll = time.Millisecond
)

func newTestScheduler() (*Scheduler, *transporttest.Clock, *transporttest.Sound) {
	clock := transporttest.NewClock(epoch)
	sound := &transporttest.Sound{}
	return NewScheduler(sound, WithClock(clock)), clock, sound
}

func TestScheduleFiresAtOffsets(t *testing.T) {
	s, clock, sound := newTestScheduler()

	var done atomic.Bool
	start := clock.Now()
	ok := s.Schedule([]Event{
		{Pitch: 60, Offset: 0, Duration: 250 * time.Millisecond},
		{Pitch: 64, Offset: 500 * time.Millisecond, Duration: 250 * time.Millisecond},
	}, start, func() { done.Store(true) })
	require.True(t, ok)

	require.Eventually(t, func() bool { return sound.Len() == 1 && clock.Waiters() == 1 }, wait, poll)
	assert.True(t, s.Active())

	clock.Advance(500 * time.Millisecond)
	require.Eventually(t, func() bool { return sound.Len() == 2 }, wait, poll)
	require.Eventually(t, done.Load, wait, poll)

	got := sound.Triggers()
	assert.Equal(t, uint8(60), got[0].Pitch)
	assert.Equal(t, time.Duration(0), got[0].At.Sub(start))
	assert.Equal(t, uint8(64), got[1].Pitch)
	assert.Equal(t, 500*time.Millisecond, got[1].At.Sub(start))
	assert.Equal(t, 250*time.Millisecond, got[1].Duration)
	assert.False(t, s.Active())
}

func TestEqualOffsetsKeepInsertionOrder(t *testing.T) {
	s, clock, sound := newTestScheduler()

	s.Schedule([]Event{
		{Pitch: 64, Offset: 100 * time.Millisecond},
		{Pitch: 60, Offset: 100 * time.Millisecond},
		{Pitch: 67, Offset: 100 * time.Millisecond},
		{Pitch: 50, Offset: 0},
	}, clock.Now(), nil)

	require.Eventually(t, func() bool { return sound.Len() == 1 && clock.Waiters() == 1 }, wait, poll)
	clock.Advance(100 * time.Millisecond)
	require.Eventually(t, func() bool { return sound.Len() == 4 }, wait, poll)

	var pitches []uint8
	for _, tr := range sound.Triggers() {
		pitches = append(pitches, tr.Pitch)
	}
	assert.Equal(t, []uint8{50, 64, 60, 67}, pitches)
}

func TestCancelAllPreventsPendingTriggers(t *testing.T) {
	s, clock, sound := newTestScheduler()

	var done atomic.Bool
	s.Schedule([]Event{{Pitch: 60, Offset: time.Second}}, clock.Now(), func() { done.Store(true) })
	require.Eventually(t, func() bool { return clock.Waiters() == 1 }, wait, poll)

	s.CancelAll()
	s.CancelAll()
	clock.Advance(2 * time.Second)

	assert.Never(t, func() bool { return sound.Len() > 0 }, 50*time.Millisecond, poll)
	assert.False(t, done.Load())
	assert.False(t, s.Active())
}

func TestCancelAllWhenIdle(t *testing.T) {
	s, _, sound := newTestScheduler()
	s.CancelAll()
	s.Stop()
	assert.Zero(t, sound.Len())
	assert.Equal(t, 1, sound.Silenced())
}

func TestScheduleReplacesPrevious(t *testing.T) {
	s, clock, sound := newTestScheduler()

	s.Schedule([]Event{{Pitch: 1, Offset: time.Second}}, clock.Now(), nil)
	require.Eventually(t, func() bool { return clock.Waiters() == 1 }, wait, poll)

	s.Schedule([]Event{{Pitch: 2, Offset: 2 * time.Second}}, clock.Now(), nil)
	require.Eventually(t, func() bool { return clock.Waiters() == 2 }, wait, poll)

	clock.Advance(3 * time.Second)
	require.Eventually(t, func() bool { return sound.Len() == 1 }, wait, poll)
	assert.Never(t, func() bool { return sound.Len() > 1 }, 50*time.Millisecond, poll)
	assert.Equal(t, uint8(2), sound.Triggers()[0].Pitch)
}

func TestEmptyScheduleIsAbsorbed(t *testing.T) {
	s, clock, sound := newTestScheduler()

	s.Schedule([]Event{{Pitch: 1, Offset: time.Second}}, clock.Now(), nil)
	require.Eventually(t, func() bool { return clock.Waiters() == 1 }, wait, poll)

	called := false
	ok := s.Schedule(nil, clock.Now(), func() { called = true })
	assert.False(t, ok)
	assert.False(t, s.Active())

	clock.Advance(2 * time.Second)
	assert.Never(t, func() bool { return sound.Len() > 0 }, 50*time.Millisecond, poll)
	assert.False(t, called)
}

func TestStopStartsFreshOrigin(t *testing.T) {
	s, clock, sound := newTestScheduler()

	s.Schedule([]Event{{Pitch: 60, Offset: time.Second}}, clock.Now(), nil)
	require.Eventually(t, func() bool { return clock.Waiters() == 1 }, wait, poll)
	s.Stop()
	assert.Equal(t, 1, sound.Silenced())

	clock.Advance(10 * time.Second)
	restart := clock.Now()
	s.Schedule([]Event{{Pitch: 62, Offset: 0}}, restart, nil)
	require.Eventually(t, func() bool { return sound.Len() == 1 }, wait, poll)

	got := sound.Triggers()[0]
	assert.Equal(t, uint8(62), got.Pitch)
	assert.Equal(t, restart, got.At)
}

func TestSoundsFanOut(t *testing.T) {
	a, b := &transporttest.Sound{}, &transporttest.Sound{}
	var fn int
	sounds := Sounds{a, b, SoundFunc(func(uint8, time.Duration, time.Time) { fn++ })}

	sounds.Trigger(60, time.Second, epoch)
	sounds.Silence()

	assert.Equal(t, 1, a.Len())
	assert.Equal(t, 1, b.Len())
	assert.Equal(t, 1, fn)
	assert.Equal(t, 1, a.Silenced())
}
