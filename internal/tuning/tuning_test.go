package tuning

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadNamedPresets(t *testing.T) {
	for _, name := range []string{"DEFAULT", "MCF", "LLAMA", "GROMACS", "GRAPH"} {
		p, ok := Load(name)
		require.True(t, ok, name)
		require.Equal(t, name, p.Name)
	}

	_, ok := Load("NOT_A_PROFILE")
	require.False(t, ok)
}

func TestEmptyNameIsDefault(t *testing.T) {
	p, ok := Load("")
	require.True(t, ok)
	require.Equal(t, Default(), p)
}

func TestSetGetRoundTrip(t *testing.T) {
	orig := Get()
	defer Set(orig)

	custom := Profile{Name: "CUSTOM", Align: 128, TransferSize: 8192}
	Set(custom)
	require.Equal(t, custom, Get())
}

func TestGetDefaultTuningIsStable(t *testing.T) {
	orig := Get()
	defer Set(orig)

	Set(Profile{Name: "CUSTOM"})
	require.Equal(t, "DEFAULT", Default().Name)
}
