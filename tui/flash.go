package tui

import (
	"sync"
	"time"
)

// KeyFlasher lights on-screen keys while their notes sound. It is a
// transport.Sound so it sees both live presses and playback.
type KeyFlasher struct {
	mu  sync.Mutex
	lit map[uint8]time.Time // pitch -> release time
	now func() time.Time
}

func NewKeyFlasher() *KeyFlasher {
	return &KeyFlasher{lit: make(map[uint8]time.Time), now: time.Now}
}

// Trigger uses the wall clock rather than at, so keys go dark on screen
// even when playback runs on another clock.
func (f *KeyFlasher) Trigger(pitch uint8, duration time.Duration, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	until := f.now().Add(duration)
	if until.After(f.lit[pitch]) {
		f.lit[pitch] = until
	}
}

func (f *KeyFlasher) Silence() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lit = make(map[uint8]time.Time)
}

// Lit reports whether pitch is sounding
func (f *KeyFlasher) Lit(pitch uint8) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	until, ok := f.lit[pitch]
	if !ok {
		return false
	}
	if !f.now().Before(until) {
		delete(f.lit, pitch)
		return false
	}
	return true
}
