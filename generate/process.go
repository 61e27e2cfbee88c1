package generate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"go-melody/storage"
)

// ProcessGenerator runs a local command. {input}, {recorded}, {midi} and
// {audio} in the command are replaced with artifact paths in the store
// directory. Exit status 0 is success.
//
// A prompt generator writes the prompt to input.txt first. A continuation
// generator instead requires the recording it extends to exist.
type ProcessGenerator struct {
	store        *storage.FileStore
	command      []string
	continuation bool
	log          *zap.Logger
}

func NewProcessGenerator(store *storage.FileStore, command []string, log *zap.Logger) *ProcessGenerator {
	if log == nil {
		log = zap.NewNop()
	}
	return &ProcessGenerator{store: store, command: command, log: log}
}

// NewContinuationGenerator runs command to extend a recording into
// generated.mid.
func NewContinuationGenerator(store *storage.FileStore, command []string, log *zap.Logger) *ProcessGenerator {
	p := NewProcessGenerator(store, command, log)
	p.continuation = true
	return p
}

func (p *ProcessGenerator) Generate(ctx context.Context, req Request) (Result, error) {
	if len(p.command) == 0 {
		return Result{}, &FailedError{Detail: "no generator command configured"}
	}

	recorded := storage.RecordedMIDI
	if req.Recording != "" {
		recorded = req.Recording.Name()
	}
	if p.continuation {
		if !p.store.Exists(recorded) {
			return Result{}, &FailedError{Detail: "no recording to continue: " + recorded}
		}
	} else if _, err := p.store.Save(ctx, storage.PromptInput, []byte(req.Prompt)); err != nil {
		return Result{}, fmt.Errorf("write prompt: %w", err)
	}

	// stale outputs would look like a fresh result
	for _, name := range []string{storage.GeneratedMIDI, storage.GeneratedWAV} {
		if err := os.Remove(p.store.Path(name)); err != nil && !os.IsNotExist(err) {
			return Result{}, fmt.Errorf("remove stale %s: %w", name, err)
		}
	}

	r := strings.NewReplacer(
		"{input}", p.store.Path(storage.PromptInput),
		"{recorded}", p.store.Path(recorded),
		"{midi}", p.store.Path(storage.GeneratedMIDI),
		"{audio}", p.store.Path(storage.GeneratedWAV),
	)
	args := make([]string, len(p.command))
	for i, a := range p.command {
		args[i] = r.Replace(a)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = p.store.Dir()
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	p.log.Debug("running generator", zap.Strings("args", args))
	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, ctxErr
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			detail := stderr.String()
			if detail == "" {
				detail = stdout.String()
			}
			p.log.Warn("generator exited", zap.Int("code", exitErr.ExitCode()))
			return Result{}, &FailedError{Detail: detail}
		}
		return Result{}, &FailedError{Detail: err.Error()}
	}

	if !p.store.Exists(storage.GeneratedMIDI) {
		return Result{}, &FailedError{Detail: "generator did not write " + storage.GeneratedMIDI}
	}
	res := Result{MIDI: storage.Ref(storage.GeneratedMIDI)}
	if p.store.Exists(storage.GeneratedWAV) {
		res.Audio = storage.Ref(storage.GeneratedWAV)
	}
	return res, nil
}
