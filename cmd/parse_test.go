package cmd

import (
	"testing"
	"time"

	"github.com/encodeous/orpl/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKill(t *testing.T) {
	id, at, err := parseKill("4@3m30s")
	require.NoError(t, err)
	assert.Equal(t, state.NodeId(4), id)
	assert.Equal(t, 3*time.Minute+30*time.Second, at)

	for _, bad := range []string{"4", "x@3m", "4@soon", "70000@1m"} {
		_, _, err := parseKill(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseAnyAddr(t *testing.T) {
	a, err := parseAnyAddr("fd00:1::212:7400:300:3")
	require.NoError(t, err)
	id, ok := a.NodeId()
	assert.True(t, ok)
	assert.Equal(t, state.NodeId(3), id)

	a, err = parseAnyAddr(state.NodeId(7).LinkAddr().String())
	require.NoError(t, err)
	assert.Equal(t, state.NodeId(7).LinkAddr(), a)

	_, err = parseAnyAddr("10.0.0.1")
	assert.Error(t, err)
	_, err = parseAnyAddr("nope")
	assert.Error(t, err)
}
