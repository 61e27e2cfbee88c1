// Package generate hands text prompts to an external melody generator and
// normalizes its outcome into a Result or a FailedError.
package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"go-melody/storage"
)

var (
	// ErrEmptyPrompt is returned for blank prompts; the generator is never invoked.
	ErrEmptyPrompt = errors.New("no text provided")
	// ErrBusy is returned when a generation is already in flight.
	ErrBusy = errors.New("generation already in progress")
	// ErrFailed matches every *FailedError.
	ErrFailed = errors.New("melody generation failed")
	// ErrNoContinuation is returned by Continue when no continuation
	// generator is configured.
	ErrNoContinuation = errors.New("continuing a recording is not configured")
)

// FailedError carries the generator's diagnostic output verbatim.
type FailedError struct {
	Detail string
}

func (e *FailedError) Error() string {
	if e.Detail == "" {
		return ErrFailed.Error()
	}
	return fmt.Sprintf("%s: %s", ErrFailed, strings.TrimSpace(e.Detail))
}

func (e *FailedError) Is(target error) bool {
	return target == ErrFailed
}

// Request is one generation job. Prompt drives text generation; Recording
// names the melody a continuation extends.
type Request struct {
	Prompt    string
	Recording storage.Ref
}

// Result locates the generated artifacts. Audio is empty when the
// generator produced none.
type Result struct {
	MIDI  storage.Ref
	Audio storage.Ref
}

// Generator runs a single generation to completion.
type Generator interface {
	Generate(ctx context.Context, req Request) (Result, error)
}

// GeneratorFunc adapts a function to Generator
type GeneratorFunc func(ctx context.Context, req Request) (Result, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// Orchestrator admits at most one generation at a time, whether it comes
// from a prompt or continues a recording.
type Orchestrator struct {
	gen  Generator
	cont Generator // nil: continuations unavailable
	log  *zap.Logger

	mu   sync.Mutex
	busy bool
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// WithContinuation sets the generator that extends recordings.
func WithContinuation(gen Generator) Option {
	return func(o *Orchestrator) {
		o.cont = gen
	}
}

func NewOrchestrator(gen Generator, opts ...Option) *Orchestrator {
	o := &Orchestrator{gen: gen, log: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Busy reports whether a generation is in flight.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.busy
}

// CanContinue reports whether Continue has a generator to run.
func (o *Orchestrator) CanContinue() bool {
	return o.cont != nil
}

// Submit runs one generation and waits for it. Failures are never retried.
func (o *Orchestrator) Submit(ctx context.Context, prompt string) (Result, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Result{}, ErrEmptyPrompt
	}
	o.log.Info("generation started", zap.Int("prompt_len", len(prompt)))
	return o.run(ctx, o.gen, Request{Prompt: prompt})
}

// Continue extends the recording at ref (recorded.mid when empty) into a
// generated melody. It shares Submit's busy guard.
func (o *Orchestrator) Continue(ctx context.Context, ref storage.Ref) (Result, error) {
	if o.cont == nil {
		return Result{}, ErrNoContinuation
	}
	if ref == "" {
		ref = storage.RecordedMIDI
	}
	o.log.Info("continuation started", zap.String("recording", string(ref)))
	return o.run(ctx, o.cont, Request{Recording: ref})
}

func (o *Orchestrator) run(ctx context.Context, gen Generator, req Request) (Result, error) {
	o.mu.Lock()
	if o.busy {
		o.mu.Unlock()
		return Result{}, ErrBusy
	}
	o.busy = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.busy = false
		o.mu.Unlock()
	}()

	res, err := gen.Generate(ctx, req)
	if err == nil && res.MIDI == "" {
		err = &FailedError{Detail: "generator returned no midi"}
	}
	if err != nil {
		if errors.Is(err, ErrBusy) {
			// a remote generator's own guard
			o.log.Warn("generator busy")
			return Result{}, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ErrFailed) {
			o.log.Warn("generation cancelled", zap.Error(ctxErr))
			return Result{}, ctxErr
		}
		var failed *FailedError
		if !errors.As(err, &failed) {
			failed = &FailedError{Detail: err.Error()}
		}
		o.log.Error("generation failed", zap.String("details", failed.Detail))
		return Result{}, failed
	}

	o.log.Info("generation finished",
		zap.String("midi", string(res.MIDI)),
		zap.String("audio", string(res.Audio)))
	return res, nil
}
