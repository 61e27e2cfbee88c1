package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
	"go.uber.org/zap"

	"go-melody/midi"
	"go-melody/note"
	"go-melody/transport"
)

func main() {
	defer gomidi.CloseDriver()

	if len(os.Args) < 2 {
		usage()
		return
	}

	switch os.Args[1] {
	case "list":
		listPorts()
	case "scale":
		playScale(arg(2))
	case "play":
		if len(os.Args) < 3 {
			usage()
			return
		}
		playFile(os.Args[2], arg(3))
	case "poll":
		pollDevices()
	default:
		usage()
	}
}

func arg(i int) string {
	if len(os.Args) > i {
		return os.Args[i]
	}
	return ""
}

func usage() {
	fmt.Println("MIDI Test Scripts")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  list                 - List all MIDI ports")
	fmt.Println("  scale [port]         - Play a C major scale on an output")
	fmt.Println("  play file.mid [port] - Play a MIDI file on an output")
	fmt.Println("  poll                 - Watch keyboards connect and play")
}

func listPorts() {
	fmt.Println("=== MIDI Input Ports ===")
	fmt.Println("(waiting up to 3 seconds...)")

	type result struct {
		ins  []drivers.In
		outs []drivers.Out
	}
	ch := make(chan result, 1)
	go func() {
		ins := gomidi.GetInPorts()
		outs := gomidi.GetOutPorts()
		ch <- result{ins: ins, outs: outs}
	}()

	select {
	case r := <-ch:
		for i, p := range r.ins {
			fmt.Printf("  %d: %s\n", i, p.String())
		}
		fmt.Println("\n=== MIDI Output Ports ===")
		for i, p := range r.outs {
			fmt.Printf("  %d: %s\n", i, p.String())
		}
	case <-time.After(3 * time.Second):
		fmt.Println("\nTIMEOUT! CoreMIDI is hung.")
		fmt.Println("Fix: sudo killall coreaudiod midiserver")
	}
}

// openOut opens the named output, or the first one when port is empty.
func openOut(port string) *midi.Synth {
	if port == "" {
		outs := midi.OutPorts()
		if len(outs) == 0 {
			fmt.Println("No output ports")
			return nil
		}
		port = outs[0]
	}
	fmt.Printf("Using output: %s\n", port)

	log, _ := zap.NewDevelopment()
	synth, err := midi.OpenSynth(port, 0, midi.WithSynthLogger(log))
	if err != nil {
		fmt.Printf("Error opening port: %v\n", err)
		return nil
	}
	return synth
}

func playScale(port string) {
	synth := openOut(port)
	if synth == nil {
		return
	}

	var events []transport.Event
	for i, name := range []string{"C4", "D4", "E4", "F4", "G4", "A4", "B4", "C5"} {
		pitch, err := note.ToMidiPitch(name)
		if err != nil {
			panic(err)
		}
		events = append(events, transport.Event{
			Pitch:    pitch,
			Offset:   time.Duration(i) * 300 * time.Millisecond,
			Duration: note.DefaultDuration,
		})
	}
	play(synth, events)
}

func playFile(path, port string) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	notes, err := midi.Parse(data)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("%d notes\n", len(notes))

	synth := openOut(port)
	if synth == nil {
		return
	}
	play(synth, midi.ToTransport(notes))
}

func play(synth *midi.Synth, events []transport.Event) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	done := make(chan struct{})
	sched := transport.NewScheduler(transport.Sounds{synth, transport.SoundFunc(
		func(pitch uint8, d time.Duration, at time.Time) {
			name, _ := note.FromMidiPitch(pitch)
			fmt.Printf("  %s\n", name)
		})})
	sched.Schedule(events, time.Now(), func() { close(done) })

	select {
	case <-done:
		// let the last note ring out
		time.Sleep(time.Second)
	case <-ctx.Done():
		sched.Stop()
	}
	synth.Silence()
	fmt.Println("Done!")
}

func pollDevices() {
	fmt.Println("Polling for keyboards every second...")
	fmt.Println("Connect/disconnect a keyboard to test. Ctrl+C to exit.")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log, _ := zap.NewDevelopment()
	dm := midi.NewDeviceManager("", log)
	go dm.Run(ctx)

	for ev := range dm.Events() {
		switch ev.Type {
		case midi.DeviceConnected:
			fmt.Printf("\n[%s] Connected: %s\n", time.Now().Format("15:04:05"), ev.ID)
			go printNotes(ev.Controller)
		case midi.DeviceDisconnected:
			fmt.Printf("\n[%s] Disconnected: %s\n", time.Now().Format("15:04:05"), ev.ID)
		}
	}
}

func printNotes(ctrl midi.Controller) {
	for ev := range ctrl.NoteEvents() {
		name, err := note.FromMidiPitch(ev.Note)
		if err != nil {
			continue
		}
		kind := "off"
		if ev.Type == midi.NoteOn && ev.Velocity > 0 {
			kind = "on "
		}
		fmt.Printf("  %s %-3s vel=%d\n", kind, name, ev.Velocity)
	}
}
