package device_test

import (
	"testing"

	"github.com/gomlx/collective/backends"
	"github.com/gomlx/collective/backends/notimplemented"
	"github.com/gomlx/collective/pkg/collective/device"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// streamBackend creates notimplemented.Stream streams and counts them.
type streamBackend struct {
	notimplemented.Backend
	numStreams int
	streamErr  error
}

func (b *streamBackend) NumDevices() int { return 2 }

func (b *streamBackend) NewStream(device backends.DeviceNum) (backends.Stream, backends.Status) {
	b.numStreams++
	return &notimplemented.Stream{Name: "compute", DeviceNum: device, Err: b.streamErr}, backends.StatusSuccess
}

func TestPool(t *testing.T) {
	backend := &streamBackend{}
	pool := device.NewPool(backend)

	ctx, err := pool.Get(1)
	require.NoError(t, err)
	assert.Equal(t, backends.DeviceNum(1), ctx.Device())
	assert.Equal(t, backends.DeviceNum(1), ctx.Stream().Device())

	again, err := pool.Get(1)
	require.NoError(t, err)
	assert.Same(t, ctx, again)
	assert.Same(t, ctx.Stream(), again.Stream())
	assert.Equal(t, 1, backend.numStreams)

	_, err = pool.Get(2)
	require.Error(t, err)

	_, err = pool.Get(0)
	require.NoError(t, err)
	assert.Equal(t, []backends.DeviceNum{0, 1}, pool.Devices())
	require.NoError(t, pool.Synchronize())
}

func TestPoolErrors(t *testing.T) {
	_, err := device.NewPool(nil).Get(0)
	require.Error(t, err)

	// The notimplemented backend can't create streams.
	_, err = device.NewPool(&notimplemented.Backend{}).Get(0)
	require.Error(t, err)
	assert.Equal(t, backends.StatusNotSupported, backends.StatusOf(err))

	backend := &streamBackend{streamErr: errors.New("kernel failed")}
	pool := device.NewPool(backend)
	_, err = pool.Get(0)
	require.NoError(t, err)
	_, err = pool.Get(1)
	require.NoError(t, err)
	err = pool.Synchronize()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device 0")
	assert.Contains(t, err.Error(), "device 1")
}
