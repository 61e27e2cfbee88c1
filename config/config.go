package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/multierr"

	"go-melody/storage"
)

// GeneratorMode selects how prompts reach the melody generator
type GeneratorMode string

const (
	GeneratorProcess GeneratorMode = "process" // run a local command
	GeneratorHTTP    GeneratorMode = "http"    // POST to a go-melody server
)

// InputConfig defines the hardware keyboard input
type InputConfig struct {
	PortName    string `json:"portName,omitempty"` // substring match; empty = any keyboard
	AutoConnect bool   `json:"autoConnect"`
}

// SynthOutputConfig defines the synth MIDI output
type SynthOutputConfig struct {
	PortName string `json:"portName,omitempty"`
	Channel  int    `json:"channel,omitempty"` // 1-16
	Velocity int    `json:"velocity,omitempty"`
}

// GeneratorConfig defines the melody generator
type GeneratorConfig struct {
	Mode GeneratorMode `json:"mode"`
	// Command is run with {input}, {midi} and {audio} replaced by artifact paths
	Command []string `json:"command,omitempty"`
	// ContinueCommand extends recorded.mid; {recorded} is also replaced.
	// Empty disables continuing in process mode.
	ContinueCommand []string `json:"continueCommand,omitempty"`
	URL             string   `json:"url,omitempty"`
	TimeoutSeconds  int      `json:"timeoutSeconds,omitempty"`
}

// StorageConfig says where artifacts live
type StorageConfig struct {
	Dir string `json:"dir,omitempty"` // empty = ~/.config/go-melody/artifacts
	URL string `json:"url,omitempty"` // store on a go-melody server instead; defaults to generator.url in http mode
}

// RecordingConfig controls how recordings are written to MIDI
type RecordingConfig struct {
	BPM          float64 `json:"bpm,omitempty"`
	NoteLengthMs int     `json:"noteLengthMs,omitempty"`
}

// ServerConfig for `go-melody serve`
type ServerConfig struct {
	Addr string `json:"addr,omitempty"`
}

// UIConfig stores UI preferences
type UIConfig struct {
	Octave int `json:"octave,omitempty"`
}

// Config is the main configuration structure
type Config struct {
	Input     InputConfig       `json:"input"`
	Synth     SynthOutputConfig `json:"synthOutput,omitempty"`
	Generator GeneratorConfig   `json:"generator"`
	Storage   StorageConfig     `json:"storage,omitempty"`
	Recording RecordingConfig   `json:"recording,omitempty"`
	Server    ServerConfig      `json:"server,omitempty"`
	UI        UIConfig          `json:"ui,omitempty"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Input: InputConfig{AutoConnect: true},
		Synth: SynthOutputConfig{Channel: 1, Velocity: 100},
		Generator: GeneratorConfig{
			Mode:           GeneratorProcess,
			Command:         []string{"python3", "textToMidi.py", "{input}"},
			ContinueCommand: []string{"python3", "midi_generator.py", "{recorded}", "{midi}"},
			TimeoutSeconds: 600,
		},
		Recording: RecordingConfig{BPM: 120, NoteLengthMs: 1000},
		Server:    ServerConfig{Addr: ":5000"},
		UI:        UIConfig{Octave: 4},
	}
}

// ConfigDir returns the config directory path
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "go-melody"), nil
}

// ConfigPath returns the full path to config.json
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads the config from disk, or returns defaults if not found.
// Fields missing from the file keep their defaults.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}

	// Create directory if it doesn't exist
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	path, err := ConfigPath()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var err error
	switch c.Generator.Mode {
	case GeneratorProcess:
		if len(c.Generator.Command) == 0 {
			err = multierr.Append(err, errors.New("generator.command is required in process mode"))
		}
		if c.Storage.URL != "" {
			// the command writes local files a remote store never sees
			err = multierr.Append(err, errors.New("storage.url requires generator.mode http"))
		}
	case GeneratorHTTP:
		if c.Generator.URL == "" {
			err = multierr.Append(err, errors.New("generator.url is required in http mode"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("unknown generator.mode %q", c.Generator.Mode))
	}
	if c.Synth.Channel < 1 || c.Synth.Channel > 16 {
		err = multierr.Append(err, fmt.Errorf("synthOutput.channel %d out of range 1-16", c.Synth.Channel))
	}
	if c.Synth.Velocity < 1 || c.Synth.Velocity > 127 {
		err = multierr.Append(err, fmt.Errorf("synthOutput.velocity %d out of range 1-127", c.Synth.Velocity))
	}
	if c.Recording.BPM <= 0 {
		err = multierr.Append(err, errors.New("recording.bpm must be positive"))
	}
	if c.UI.Octave < 0 || c.UI.Octave > 8 {
		err = multierr.Append(err, fmt.Errorf("ui.octave %d out of range 0-8", c.UI.Octave))
	}
	return err
}

// Timeout is the generator deadline; zero means none.
func (g GeneratorConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSeconds) * time.Second
}

// NoteLength is the fixed length written for every recorded note.
func (r RecordingConfig) NoteLength() time.Duration {
	return time.Duration(r.NoteLengthMs) * time.Millisecond
}

// StorageURL is the server artifacts live on, empty for local storage. A
// remote generator returns refs on its own server, so http mode stores there
// unless storage.url says otherwise.
func (c *Config) StorageURL() string {
	if c.Storage.URL != "" {
		return c.Storage.URL
	}
	if c.Generator.Mode == GeneratorHTTP {
		return c.Generator.URL
	}
	return ""
}

// StorageDir resolves the artifact directory.
func (c *Config) StorageDir() (string, error) {
	if c.Storage.Dir != "" {
		return c.Storage.Dir, nil
	}
	return storage.DefaultDir()
}
