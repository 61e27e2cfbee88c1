package main

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	gomidi "gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // Register MIDI driver
	"go.uber.org/multierr"

	"go-melody/config"
	"go-melody/debug"
	"go-melody/midi"
	"go-melody/sequencer"
	"go-melody/theme"
	"go-melody/transport"
	"go-melody/tui"
)

var flags struct {
	debug     bool
	synthPort string
	inputPort string
	noInput   bool
	palette   string
}

var rootCmd = &cobra.Command{
	Use:   "go-melody",
	Short: "Play, record and generate melodies from the terminal",
	Long: `go-melody is a terminal piano. Play it with the computer keyboard or an
attached MIDI keyboard, record a take, describe a melody in words and let
the configured generator write it, then play either back through a MIDI synth.

Settings live in ~/.config/go-melody/config.json.`,
	SilenceUsage: true,
	RunE:         runTUI,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flags.debug, "debug", false,
		"Write debug logs to ~/.config/go-melody/debug.log")
	rootCmd.PersistentFlags().StringVar(&flags.synthPort, "synth", "",
		"MIDI output port to play through (overrides config)")
	rootCmd.Flags().StringVar(&flags.inputPort, "input", "",
		"MIDI input port to record from (overrides config)")
	rootCmd.Flags().BoolVar(&flags.noInput, "no-input", false,
		"Don't connect hardware keyboards")
	rootCmd.Flags().StringVar(&flags.palette, "palette", "",
		"GIMP .gpl palette for the UI")

	rootCmd.AddCommand(serveCmd, generateCmd, portsCmd)
}

func main() {
	defer gomidi.CloseDriver()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flags.synthPort != "" {
		cfg.Synth.PortName = flags.synthPort
	}
	if flags.inputPort != "" {
		cfg.Input.PortName = flags.inputPort
	}
	if flags.noInput {
		cfg.Input.AutoConnect = false
	}
	return cfg, nil
}

func runTUI(cmd *cobra.Command, args []string) error {
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

	palette, perr := theme.LoadOrDefault(flags.palette)
	if perr != nil {
		log.Warn("palette fallback: " + perr.Error())
	}
	th := theme.New(palette)

	store, files, err := openStore(cfg)
	if err != nil {
		return err
	}
	gen, err := newGenerator(cfg, files, log)
	if err != nil {
		return err
	}

	flasher := tui.NewKeyFlasher()
	sounds := transport.Sounds{flasher}
	if synth := openSynth(cfg, log); synth != nil {
		sounds = append(sounds, synth)
	}

	opts := []sequencer.Option{
		sequencer.WithLogger(log.Named("sequencer")),
		sequencer.WithBuildOptions(buildOptions(cfg)...),
	}
	if cont := newContinuation(cfg, files, log); cont != nil {
		opts = append(opts, sequencer.WithContinuation(cont))
	}
	manager := sequencer.NewManager(sounds, store, gen, opts...)
	defer manager.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create MIDI device manager (handles hot-plug)
	var deviceMgr *midi.DeviceManager
	if cfg.Input.AutoConnect {
		deviceMgr = midi.NewDeviceManager(cfg.Input.PortName, log.Named("devices"))
		go deviceMgr.Run(ctx)
	}

	m := tui.NewModel(manager, deviceMgr, th, flasher, cfg.UI.Octave)
	m.GenerateTimeout = cfg.Generator.Timeout()
	p := tea.NewProgram(m, tea.WithAltScreen())

	final, runErr := p.Run()
	if fm, ok := final.(tui.Model); ok {
		cfg.UI.Octave = fm.Octave()
	}
	return multierr.Combine(runErr, cfg.Save())
}
