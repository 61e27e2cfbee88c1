package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"go-melody/debug"
	"go-melody/generate"
	"go-melody/midi"
	"go-melody/transport"
)

var generatePlay bool

var generateCmd = &cobra.Command{
	Use:   "generate <prompt>",
	Short: "Generate a melody from a text prompt",
	Example: `  go-melody generate "a slow waltz in a minor key"
  go-melody generate --play --synth fluid "happy birthday, but sad"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().BoolVar(&generatePlay, "play", false, "Play the result through the synth")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	if flags.debug {
		if err := debug.Enable(); err != nil {
			return fmt.Errorf("enable debug log: %w", err)
		}
		defer debug.Disable()
	}
	log := debug.Logger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, files, err := openStore(cfg)
	if err != nil {
		return err
	}
	gen, err := newGenerator(cfg, files, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	genCtx, cancel := context.WithTimeout(ctx, cfg.Generator.Timeout())
	defer cancel()

	orch := generate.NewOrchestrator(gen, generate.WithLogger(log.Named("orchestrator")))
	res, err := orch.Submit(genCtx, strings.Join(args, " "))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "midi:  %s\n", res.MIDI)
	if res.Audio != "" {
		fmt.Fprintf(out, "audio: %s\n", res.Audio)
	}
	if !generatePlay {
		return nil
	}

	synth := openSynth(cfg, log)
	if synth == nil {
		return fmt.Errorf("--play needs a synth output port")
	}
	data, err := store.Fetch(ctx, res.MIDI)
	if err != nil {
		return err
	}
	notes, err := midi.Parse(data)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	sched := transport.NewScheduler(synth, transport.WithLogger(log.Named("transport")))
	sched.Schedule(midi.ToTransport(notes), time.Now(), func() { close(done) })
	fmt.Fprintf(out, "playing %d notes\n", len(notes))

	select {
	case <-done:
		// let the last note ring out
		time.Sleep(time.Second)
	case <-ctx.Done():
		sched.Stop()
	}
	synth.Silence()
	return nil
}
