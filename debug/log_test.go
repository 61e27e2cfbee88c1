package debug

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnableWritesToFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	require.NoError(t, Enable())
	Log("synth", "note %d", 60)
	for i := 0; i < 4; i++ {
		LogEvery(2, "tick", "step")
	}
	Disable()

	path, err := Path()
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	out := string(data)
	assert.Contains(t, out, "Debug logging started")
	assert.Contains(t, out, "synth")
	assert.Contains(t, out, "note 60")
	assert.Contains(t, out, "step (every 2, count=4)")
}

func TestDisabledIsNoop(t *testing.T) {
	Disable()
	assert.NotPanics(t, func() { Log("x", "y") })
	assert.NotNil(t, Logger())
}
