package sequencer

import (
	"go-melody/generate"
)

// State is the session's single source of truth. At most one of
// Recording, Generating and Playing holds at any instant.
type State int

const (
	Idle State = iota
	Recording
	Stopped
	Generating
	Playing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Stopped:
		return "stopped"
	case Generating:
		return "generating"
	case Playing:
		return "playing"
	}
	return "unknown"
}

// Source identifies what is playing
type Source int

const (
	SourceNone Source = iota
	SourceRecording
	SourceGenerated
)

func (s Source) String() string {
	switch s {
	case SourceRecording:
		return "recording"
	case SourceGenerated:
		return "generated"
	}
	return "none"
}

// Action is a user-triggered transition
type Action int

const (
	ActionRecord Action = iota
	ActionStop
	ActionPlayback
	ActionGenerate
	ActionPlayGenerated
	ActionContinue
)

func (a Action) String() string {
	switch a {
	case ActionRecord:
		return "record"
	case ActionStop:
		return "stop"
	case ActionPlayback:
		return "playback"
	case ActionGenerate:
		return "generate"
	case ActionPlayGenerated:
		return "play generated"
	case ActionContinue:
		return "continue"
	}
	return "unknown"
}

// Controls says which actions are currently legal.
type Controls struct {
	Record        bool
	Stop          bool
	Playback      bool
	Generate      bool
	PlayGenerated bool
	Continue      bool
}

// Enabled reports whether a is legal.
func (c Controls) Enabled(a Action) bool {
	switch a {
	case ActionRecord:
		return c.Record
	case ActionStop:
		return c.Stop
	case ActionPlayback:
		return c.Playback
	case ActionGenerate:
		return c.Generate
	case ActionPlayGenerated:
		return c.PlayGenerated
	case ActionContinue:
		return c.Continue
	}
	return false
}

// Snapshot is a copy of the session at one instant.
type Snapshot struct {
	State     State
	Source    Source // what is playing, when State is Playing
	Notes     int    // recorded events
	Generated *generate.Result
	Err       error // last surfaced failure, cleared by the next action
	Controls  Controls

	CanContinue bool // a continuation generator is configured
}

// ControlsFor derives the legal actions from a snapshot. It depends on
// nothing else, so the UI can recompute it on every update.
func ControlsFor(s Snapshot) Controls {
	switch s.State {
	case Idle, Stopped:
		return Controls{
			Record:        true,
			Stop:          true,
			Playback:      s.Notes > 0,
			Generate:      true,
			PlayGenerated: s.Generated != nil,
			Continue:      s.CanContinue && s.Notes > 0,
		}
	case Recording:
		return Controls{Stop: true}
	case Playing:
		return Controls{
			Record:        true,
			Stop:          true,
			Playback:      s.Source == SourceRecording,
			PlayGenerated: s.Source == SourceGenerated,
		}
	}
	// Generating: everything waits for the result
	return Controls{}
}
