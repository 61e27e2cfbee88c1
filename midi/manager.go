package midi

import (
	"context"
	"strings"
	"sync"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"go.uber.org/zap"
)

// DeviceEvent is emitted when controllers connect/disconnect
type DeviceEvent struct {
	Type       DeviceEventType
	Controller Controller
	ID         string
}

type DeviceEventType int

const (
	DeviceConnected DeviceEventType = iota
	DeviceDisconnected
)

// ExcludedPorts are virtual/system ports that are never auto-connected.
var ExcludedPorts = []string{"midi through", "through port", "dummy"}

type inPort struct {
	name string
	port drivers.In
}

// DeviceManager handles hot-plug detection of MIDI keyboards
type DeviceManager struct {
	controllers map[string]Controller
	mu          sync.RWMutex
	events      chan DeviceEvent
	pollRate    time.Duration

	preferred string // port name to connect; empty = any keyboard
	log       *zap.Logger

	ports   func() []inPort
	connect func(id string, in drivers.In) (Controller, error)
}

// NewDeviceManager creates a device manager. preferred restricts
// auto-connect to ports whose name contains it.
func NewDeviceManager(preferred string, log *zap.Logger) *DeviceManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &DeviceManager{
		controllers: make(map[string]Controller),
		events:      make(chan DeviceEvent, 16),
		pollRate:    time.Second,
		preferred:   strings.ToLower(preferred),
		log:         log,
		ports:       systemInPorts,
		connect: func(id string, in drivers.In) (Controller, error) {
			return NewKeyboardController(id, in)
		},
	}
}

// Events returns a channel of device connect/disconnect events
func (dm *DeviceManager) Events() <-chan DeviceEvent {
	return dm.events
}

// Controllers returns a snapshot of connected controllers
func (dm *DeviceManager) Controllers() map[string]Controller {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	copy := make(map[string]Controller, len(dm.controllers))
	for k, v := range dm.controllers {
		copy[k] = v
	}
	return copy
}

// Run starts the polling loop (blocking - run in goroutine)
func (dm *DeviceManager) Run(ctx context.Context) {
	ticker := time.NewTicker(dm.pollRate)
	defer ticker.Stop()

	dm.scan()

	for {
		select {
		case <-ctx.Done():
			dm.closeAll()
			close(dm.events)
			return
		case <-ticker.C:
			dm.scan()
		}
	}
}

func systemInPorts() []inPort {
	var out []inPort
	for _, p := range gomidi.GetInPorts() {
		out = append(out, inPort{name: p.String(), port: p})
	}
	return out
}

func (dm *DeviceManager) scan() {
	// CoreMIDI can hang while enumerating
	ch := make(chan []inPort, 1)
	go func() {
		ch <- dm.ports()
	}()

	var ports []inPort
	select {
	case ports = <-ch:
	case <-time.After(3 * time.Second):
		dm.log.Warn("midi port scan timed out")
		return
	}

	seen := make(map[string]bool)
	for _, p := range ports {
		if !dm.wants(p.name) {
			continue
		}
		seen[p.name] = true

		dm.mu.RLock()
		_, exists := dm.controllers[p.name]
		dm.mu.RUnlock()
		if exists {
			continue
		}

		ctrl, err := dm.connect(p.name, p.port)
		if err != nil {
			dm.log.Warn("open keyboard", zap.String("port", p.name), zap.Error(err))
			continue
		}

		dm.mu.Lock()
		dm.controllers[p.name] = ctrl
		dm.mu.Unlock()

		dm.log.Info("keyboard connected", zap.String("port", p.name))
		dm.events <- DeviceEvent{Type: DeviceConnected, Controller: ctrl, ID: p.name}
	}

	dm.mu.Lock()
	var gone []string
	for id := range dm.controllers {
		if !seen[id] {
			gone = append(gone, id)
		}
	}
	for _, id := range gone {
		dm.controllers[id].Close()
		delete(dm.controllers, id)
		dm.log.Info("keyboard disconnected", zap.String("port", id))
		dm.events <- DeviceEvent{Type: DeviceDisconnected, ID: id}
	}
	dm.mu.Unlock()
}

func (dm *DeviceManager) wants(name string) bool {
	lower := strings.ToLower(name)
	if dm.preferred != "" {
		return strings.Contains(lower, dm.preferred)
	}
	for _, ex := range ExcludedPorts {
		if strings.Contains(lower, ex) {
			return false
		}
	}
	return true
}

func (dm *DeviceManager) closeAll() {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	for _, c := range dm.controllers {
		c.Close()
	}
	dm.controllers = make(map[string]Controller)
}
