// Package storage persists and fetches the session's artifacts: the last
// recorded MIDI file, the last generated MIDI/audio and the generator input.
package storage

import (
	"context"
	"errors"
	"path"
	"strings"
)

// ErrNotFound is returned when fetching an artifact that does not exist.
var ErrNotFound = errors.New("artifact not found")

// Well-known artifact names. Each save overwrites the previous one.
const (
	RecordedMIDI  = "recorded.mid"
	GeneratedMIDI = "generated.mid"
	GeneratedWAV  = "generated.wav"
	PromptInput   = "input.txt"
)

// Ref locates a stored artifact. It is either a bare name, a path such as
// "/artifacts/generated.mid" or an absolute URL.
type Ref string

// Name is the artifact name the ref points at.
func (r Ref) Name() string {
	s := string(r)
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimRight(s, "/")
	if s == "" {
		return ""
	}
	return path.Base(s)
}

// Store saves and fetches artifacts by name
type Store interface {
	Save(ctx context.Context, name string, data []byte) (Ref, error)
	Fetch(ctx context.Context, ref Ref) ([]byte, error)
}

// validName rejects names that would escape the store.
func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}
