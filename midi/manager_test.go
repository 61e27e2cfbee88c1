package midi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2/drivers"
)

func fakeManager(preferred string, names *[]string) *DeviceManager {
	dm := NewDeviceManager(preferred, nil)
	dm.ports = func() []inPort {
		var out []inPort
		for _, n := range *names {
			out = append(out, inPort{name: n})
		}
		return out
	}
	dm.connect = func(id string, in drivers.In) (Controller, error) {
		return NewKeyboardController(id, nil)
	}
	return dm
}

func TestDeviceManagerSkipsThroughPorts(t *testing.T) {
	names := []string{"Midi Through Port-0", "Arturia KeyStep 37"}
	dm := fakeManager("", &names)

	dm.scan()

	ev := <-dm.Events()
	assert.Equal(t, DeviceConnected, ev.Type)
	assert.Equal(t, "Arturia KeyStep 37", ev.ID)
	assert.Len(t, dm.Controllers(), 1)
}

func TestDeviceManagerPreferredPort(t *testing.T) {
	names := []string{"Arturia KeyStep 37", "nanoKEY2"}
	dm := fakeManager("nanokey", &names)

	dm.scan()
	ctrls := dm.Controllers()
	require.Len(t, ctrls, 1)
	assert.Contains(t, ctrls, "nanoKEY2")
}

func TestDeviceManagerDisconnect(t *testing.T) {
	names := []string{"nanoKEY2"}
	dm := fakeManager("", &names)

	dm.scan()
	<-dm.Events()
	ctrl := dm.Controllers()["nanoKEY2"]

	names = nil
	dm.scan()
	ev := <-dm.Events()
	assert.Equal(t, DeviceDisconnected, ev.Type)
	assert.Empty(t, dm.Controllers())

	// closed controllers close their note channel
	_, ok := <-ctrl.NoteEvents()
	assert.False(t, ok)
}
