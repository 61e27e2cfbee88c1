package midi

import (
	"fmt"
	"sync"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

// KeyboardController handles a standard MIDI keyboard
type KeyboardController struct {
	id       string
	stopFunc func()

	mu       sync.Mutex
	noteChan chan Event
	closed   bool
}

// NewKeyboardController creates a keyboard controller (input only)
func NewKeyboardController(id string, inPort drivers.In) (*KeyboardController, error) {
	kb := &KeyboardController{
		id:       id,
		noteChan: make(chan Event, 32),
	}

	if inPort != nil {
		stop, err := gomidi.ListenTo(inPort, kb.handle)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		kb.stopFunc = stop
	}

	return kb, nil
}

// handle converts raw messages into note events, dropping them if the
// consumer falls behind.
func (kb *KeyboardController) handle(msg gomidi.Message, timestampms int32) {
	var channel, note, velocity uint8
	var ev Event
	switch {
	case msg.GetNoteStart(&channel, &note, &velocity):
		ev = Event{Type: NoteOn, Channel: channel, Note: note, Velocity: velocity}
	case msg.GetNoteEnd(&channel, &note):
		ev = Event{Type: NoteOff, Channel: channel, Note: note}
	default:
		return
	}
	ev.At = time.Now()

	kb.mu.Lock()
	defer kb.mu.Unlock()
	if kb.closed {
		return
	}
	select {
	case kb.noteChan <- ev:
	default:
	}
}

func (kb *KeyboardController) ID() string {
	return kb.id
}

func (kb *KeyboardController) Type() ControllerType {
	return ControllerKeyboard
}

func (kb *KeyboardController) NoteEvents() <-chan Event {
	return kb.noteChan
}

func (kb *KeyboardController) Close() error {
	if kb.stopFunc != nil {
		kb.stopFunc()
	}

	kb.mu.Lock()
	defer kb.mu.Unlock()
	if !kb.closed {
		kb.closed = true
		close(kb.noteChan)
	}
	return nil
}
