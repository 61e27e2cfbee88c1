package main

import (
	"fmt"

	"go.uber.org/zap"

	"go-melody/config"
	"go-melody/generate"
	"go-melody/midi"
	"go-melody/storage"
)

// openStore returns the artifact store. files is the local directory store,
// nil when artifacts live on a remote server.
func openStore(cfg *config.Config) (store storage.Store, files *storage.FileStore, err error) {
	if url := cfg.StorageURL(); url != "" {
		return storage.NewHTTPStore(url, nil), nil, nil
	}
	dir, err := cfg.StorageDir()
	if err != nil {
		return nil, nil, err
	}
	files, err = storage.NewFileStore(dir)
	if err != nil {
		return nil, nil, err
	}
	return files, files, nil
}

func newGenerator(cfg *config.Config, files *storage.FileStore, log *zap.Logger) (generate.Generator, error) {
	switch cfg.Generator.Mode {
	case config.GeneratorHTTP:
		return generate.NewHTTPGenerator(cfg.Generator.URL, nil), nil
	case config.GeneratorProcess:
		if files == nil {
			// the command needs local paths even when recordings go remote
			dir, err := cfg.StorageDir()
			if err != nil {
				return nil, err
			}
			if files, err = storage.NewFileStore(dir); err != nil {
				return nil, err
			}
		}
		return generate.NewProcessGenerator(files, cfg.Generator.Command, log.Named("generator")), nil
	}
	return nil, fmt.Errorf("unknown generator mode %q", cfg.Generator.Mode)
}

// newContinuation returns the generator that extends a recording, nil when
// none is configured.
func newContinuation(cfg *config.Config, files *storage.FileStore, log *zap.Logger) generate.Generator {
	switch cfg.Generator.Mode {
	case config.GeneratorHTTP:
		return generate.NewHTTPContinuation(cfg.Generator.URL, nil)
	case config.GeneratorProcess:
		if files == nil || len(cfg.Generator.ContinueCommand) == 0 {
			return nil
		}
		return generate.NewContinuationGenerator(files, cfg.Generator.ContinueCommand, log.Named("continuation"))
	}
	return nil
}

// openSynth opens the configured output port. Without one the session is
// silent apart from the on-screen keys.
func openSynth(cfg *config.Config, log *zap.Logger) *midi.Synth {
	if cfg.Synth.PortName == "" {
		log.Info("no synth output configured")
		return nil
	}
	synth, err := midi.OpenSynth(cfg.Synth.PortName, uint8(cfg.Synth.Channel-1),
		midi.WithVelocity(uint8(cfg.Synth.Velocity)),
		midi.WithSynthLogger(log.Named("synth")))
	if err != nil {
		log.Warn("open synth", zap.Error(err), zap.Strings("available", midi.OutPorts()))
		return nil
	}
	return synth
}

func buildOptions(cfg *config.Config) []midi.BuildOption {
	return []midi.BuildOption{
		midi.WithBPM(cfg.Recording.BPM),
		midi.WithNoteLength(cfg.Recording.NoteLength()),
	}
}
