package comm_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gomlx/collective/backends"
	"github.com/gomlx/collective/backends/loopback"
	"github.com/gomlx/collective/backends/notimplemented"
	"github.com/gomlx/collective/pkg/collective/comm"
	"github.com/gomlx/collective/pkg/core/distributed"
	"github.com/gomlx/collective/pkg/support/xsync"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newLoopback(t *testing.T, numDevices int) *loopback.Backend {
	b := loopback.NewWithConfig(loopback.Config{NumDevices: numDevices})
	t.Cleanup(b.Finalize)
	return b
}

func fakeCommunicator(ringID int, device backends.DeviceNum) *comm.Communicator {
	return &comm.Communicator{
		RingID: ringID,
		Device: device,
		Rank:   int(device),
		NRanks: 2,
		Comm:   &notimplemented.Comm{ClientRank: int(device), WorldSize: 2, DeviceNum: device},
		Stream: &notimplemented.Stream{Name: "comm", DeviceNum: device},
	}
}

func TestRegistryGet(t *testing.T) {
	var calls atomic.Int32
	registry := comm.NewRegistry(nil, func(ringID int, device backends.DeviceNum) (*comm.Communicator, error) {
		calls.Add(1)
		return fakeCommunicator(ringID, device), nil
	})
	assert.False(t, registry.Has(7, 1))

	const numGoroutines = 16
	results := make([]*comm.Communicator, numGoroutines)
	var wg sync.WaitGroup
	for i := range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := registry.Get(7, 1)
			assert.NoError(t, err)
			results[i] = c
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
	for _, c := range results {
		assert.Same(t, results[0], c)
	}
	assert.True(t, registry.Has(7, 1))
	assert.Equal(t, 7, results[0].RingID)

	// Different key, different communicator.
	other, err := registry.Get(7, 0)
	require.NoError(t, err)
	assert.NotSame(t, results[0], other)
	assert.Equal(t, 2, registry.Len())
}

func TestRegistryFactoryErrors(t *testing.T) {
	fail := true
	registry := comm.NewRegistry(nil, func(ringID int, device backends.DeviceNum) (*comm.Communicator, error) {
		if fail {
			return nil, errors.New("ring not ready")
		}
		return fakeCommunicator(ringID, device), nil
	})
	_, err := registry.Get(0, 0)
	require.Error(t, err)
	assert.False(t, registry.Has(0, 0))

	fail = false
	c, err := registry.Get(0, 0)
	require.NoError(t, err)
	assert.NotNil(t, c)

	// Factory returning a communicator for another key.
	registry = comm.NewRegistry(nil, func(ringID int, device backends.DeviceNum) (*comm.Communicator, error) {
		return fakeCommunicator(ringID+1, device), nil
	})
	_, err = registry.Get(0, 0)
	require.Error(t, err)

	// No factory.
	registry = comm.NewRegistry(nil, nil)
	_, err = registry.Get(0, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not initialized")
}

func TestRegistryInit(t *testing.T) {
	backend := newLoopback(t, 2)
	registry := comm.NewRegistry(backend, nil)
	id, status := backend.NewUniqueID()
	require.True(t, status.Ok())

	c0, err := registry.Init(3, 0, id, 2, 0)
	require.NoError(t, err)
	c1, err := registry.Init(3, 1, id, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, c1.Rank)
	assert.Equal(t, 2, c1.NRanks)
	assert.Equal(t, backends.DeviceNum(1), c1.Stream.Device())

	_, err = registry.Init(3, 0, id, 2, 0)
	require.Error(t, err)

	got, err := registry.Get(3, 0)
	require.NoError(t, err)
	assert.Same(t, c0, got)

	require.NoError(t, registry.Finalize())
	assert.Equal(t, 0, registry.Len())
	assert.Equal(t, backends.StatusNotFound, backend.CommDestroy(c0.Comm))
}

func TestRegistryInitWhileCreating(t *testing.T) {
	backend := newLoopback(t, 2)
	id, status := backend.NewUniqueID()
	require.True(t, status.Ok())
	started, release := xsync.NewLatch(), xsync.NewLatch()
	registry := comm.NewRegistry(backend, func(ringID int, device backends.DeviceNum) (*comm.Communicator, error) {
		started.Trigger()
		release.Wait()
		return fakeCommunicator(ringID, device), nil
	})

	var g errgroup.Group
	var created *comm.Communicator
	g.Go(func() (err error) {
		created, err = registry.Get(5, 0)
		return err
	})
	started.Wait()
	assert.False(t, registry.Has(5, 0), "creation still in progress")

	initDone := xsync.NewLatchWithValue[error]()
	go func() {
		_, err := registry.Init(5, 0, id, 2, 0)
		initDone.Trigger(err)
	}()
	release.Trigger()
	require.NoError(t, g.Wait())
	err := initDone.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already initialized")

	got, err := registry.Get(5, 0)
	require.NoError(t, err)
	assert.Same(t, created, got)
	assert.Equal(t, 1, registry.Len())
}

func TestRingFactory(t *testing.T) {
	backend := newLoopback(t, 4)
	ring, err := comm.NewRing(backend, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, ring.Rank(3))
	assert.Equal(t, -1, ring.Rank(0))

	registry := comm.NewRegistry(backend, comm.RingFactory(backend, map[int]comm.Ring{5: ring}))
	c, err := registry.Get(5, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Rank)
	assert.Equal(t, 2, c.NRanks)
	assert.Equal(t, ring.UniqueID, c.Comm.ID())

	_, err = registry.Get(5, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not part of ring 5")
	_, err = registry.Get(6, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not defined")
	require.NoError(t, registry.Finalize())

	_, err = comm.NewRing(backend, 1, 1)
	require.Error(t, err)
	_, err = comm.NewRing(backend)
	require.Error(t, err)
}

func TestRingsFromMesh(t *testing.T) {
	backend := newLoopback(t, 4)
	mesh, err := distributed.NewDeviceMesh(backend, []int{2, 2}, []string{"data", "model"})
	require.NoError(t, err)

	rings, err := comm.RingsFromMesh(backend, mesh, []string{"model"}, 10)
	require.NoError(t, err)
	require.Len(t, rings, 2)
	assert.Equal(t, []backends.DeviceNum{0, 1}, rings[10].Devices)
	assert.Equal(t, []backends.DeviceNum{2, 3}, rings[11].Devices)
	assert.NotEqual(t, rings[10].UniqueID, rings[11].UniqueID)

	_, err = comm.RingsFromMesh(backend, mesh, []string{"nope"}, 0)
	require.Error(t, err)
}
