package main

import (
	"testing"

	"github.com/gomlx/collective/backends"
	"github.com/gomlx/collective/backends/loopback"
	"github.com/gomlx/collective/pkg/core/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDevices(t *testing.T) {
	devices, err := parseDevices("2, 5", 8)
	require.NoError(t, err)
	assert.Equal(t, []backends.DeviceNum{2, 5}, devices)

	for _, spec := range []string{"0", "0,1,2", "0,x", "0,8", "-1,0"} {
		_, err = parseDevices(spec, 8)
		assert.Error(t, err, "devices %q should fail", spec)
	}
}

func TestPairRing(t *testing.T) {
	backend := loopback.NewWithConfig(loopback.Config{NumDevices: 4})
	defer backend.Finalize()

	ring, err := pairRing(backend, []backends.DeviceNum{3, 1})
	require.NoError(t, err)
	assert.Equal(t, []backends.DeviceNum{3, 1}, ring.Devices)
	assert.Equal(t, 0, ring.Rank(3))
	assert.Equal(t, 1, ring.Rank(1))

	_, err = pairRing(backend, []backends.DeviceNum{2, 2})
	assert.Error(t, err, "repeated device")
}

func TestRun(t *testing.T) {
	backend := loopback.NewWithConfig(loopback.Config{NumDevices: 4})
	defer backend.Finalize()
	*flagSteps = 3
	*flagSize = 10

	ring, err := pairRing(backend, []backends.DeviceNum{2, 0})
	require.NoError(t, err)
	workers := newWorkers(backend, ring)
	require.NoError(t, run(workers, ring.Devices, dtypes.Int32))
	for _, rt := range workers {
		require.NoError(t, rt.Finalize())
	}
}
