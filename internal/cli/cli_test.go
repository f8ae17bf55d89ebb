package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionSkipsConfig(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version", "--config", "/nonexistent/velox.yaml"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "velox dev")
}

func TestParseTimeFlag(t *testing.T) {
	ts, err := parseTimeFlag("--from", "")
	require.NoError(t, err)
	assert.Nil(t, ts)

	ts, err = parseTimeFlag("--from", "2024-05-01T00:00:00Z")
	require.NoError(t, err)
	require.NotNil(t, ts)
	assert.Equal(t, 2024, ts.Year())

	_, err = parseTimeFlag("--to", "yesterday")
	assert.ErrorContains(t, err, "--to")
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "check", "show", "export", "simulate-alert", "migrate", "version"} {
		assert.True(t, names[want], want)
	}
}
