package transport

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is one note to be fired at Offset from the playback start instant.
type Event struct {
	Pitch    uint8
	Offset   time.Duration
	Duration time.Duration
}

// Sound makes a note audible. at is the instant the note was scheduled for.
type Sound interface {
	Trigger(pitch uint8, duration time.Duration, at time.Time)
}

// Silencer is implemented by sounds that can cut ringing notes on Stop.
type Silencer interface {
	Silence()
}

// SoundFunc adapts a function to Sound
type SoundFunc func(pitch uint8, duration time.Duration, at time.Time)

func (f SoundFunc) Trigger(pitch uint8, duration time.Duration, at time.Time) {
	f(pitch, duration, at)
}

// Sounds fans a trigger out to several sounds.
type Sounds []Sound

func (s Sounds) Trigger(pitch uint8, duration time.Duration, at time.Time) {
	for _, snd := range s {
		snd.Trigger(pitch, duration, at)
	}
}

func (s Sounds) Silence() {
	for _, snd := range s {
		if sil, ok := snd.(Silencer); ok {
			sil.Silence()
		}
	}
}

// Clock is the time source driving the scheduler.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		s.log = l
	}
}

// Scheduler fires one-shot note triggers relative to a playback start instant.
//
// Every Schedule cancels what came before it. Triggers are fired while
// holding mu and only if the schedule's epoch is still current, so once
// CancelAll returns nothing from an older schedule can sound.
type Scheduler struct {
	sound Sound
	clock Clock
	log   *zap.Logger

	mu       sync.Mutex
	epoch    uint64
	stopChan chan struct{} // closed to wake the running loop; nil when idle
}

// NewScheduler creates a scheduler that plays through sound.
func NewScheduler(sound Sound, opts ...Option) *Scheduler {
	s := &Scheduler{
		sound: sound,
		clock: SystemClock,
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule cancels any pending schedule and arranges for events to fire at
// start+Offset. Events with equal offsets fire in the order given. onDone (may
// be nil) runs after the last event fires, unless the schedule is cancelled
// first. An empty event list schedules nothing and returns false.
func (s *Scheduler) Schedule(events []Event, start time.Time, onDone func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked()
	if len(events) == 0 {
		s.log.Debug("empty schedule ignored")
		return false
	}

	queue := make([]Event, len(events))
	copy(queue, events)
	sort.SliceStable(queue, func(i, j int) bool {
		return queue[i].Offset < queue[j].Offset
	})

	stop := make(chan struct{})
	s.stopChan = stop
	epoch := s.epoch

	s.log.Debug("schedule", zap.Int("events", len(queue)), zap.Uint64("epoch", epoch))
	go s.run(epoch, start, queue, stop, onDone)
	return true
}

// CancelAll prevents every not-yet-fired trigger from firing. Safe to call
// repeatedly or when nothing is scheduled.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
}

// Stop cancels everything and silences ringing notes. The next Schedule
// starts from its own origin.
func (s *Scheduler) Stop() {
	s.CancelAll()
	if sil, ok := s.sound.(Silencer); ok {
		sil.Silence()
	}
}

// Active reports whether a schedule is still running.
func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopChan != nil
}

func (s *Scheduler) cancelLocked() {
	s.epoch++
	if s.stopChan != nil {
		close(s.stopChan)
		s.stopChan = nil
	}
}

// run walks the sorted queue, sleeping until each event is due.
func (s *Scheduler) run(epoch uint64, start time.Time, queue []Event, stop <-chan struct{}, onDone func()) {
	for _, ev := range queue {
		at := start.Add(ev.Offset)
		if wait := at.Sub(s.clock.Now()); wait > 0 {
			select {
			case <-stop:
				return
			case <-s.clock.After(wait):
			}
		}

		s.mu.Lock()
		if s.epoch != epoch {
			s.mu.Unlock()
			return
		}
		s.sound.Trigger(ev.Pitch, ev.Duration, at)
		s.mu.Unlock()
	}

	s.mu.Lock()
	current := s.epoch == epoch
	if current {
		s.stopChan = nil
	}
	s.mu.Unlock()

	if current && onDone != nil {
		onDone()
	}
}
