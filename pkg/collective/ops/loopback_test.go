package ops_test

import (
	"fmt"
	"testing"

	"github.com/gomlx/collective/backends"
	"github.com/gomlx/collective/backends/loopback"
	"github.com/gomlx/collective/pkg/collective/comm"
	"github.com/gomlx/collective/pkg/collective/group"
	"github.com/gomlx/collective/pkg/collective/ops"
	"github.com/gomlx/collective/pkg/core/dtypes"
	"github.com/gomlx/collective/pkg/core/shapes"
	"github.com/gomlx/collective/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// newPairOfWorkers creates one Runtime per worker, worker i running on device i, with ring 0 over both devices.
func newPairOfWorkers(t *testing.T) (backends.Backend, []*ops.Runtime) {
	backend := loopback.NewWithConfig(loopback.Config{NumDevices: 2})
	t.Cleanup(backend.Finalize)
	ring, err := comm.NewRing(backend, 0, 1)
	require.NoError(t, err)
	rings := map[int]comm.Ring{0: ring}
	workers := make([]*ops.Runtime, 2)
	for i := range workers {
		workers[i] = ops.NewRuntime(backend, comm.RingFactory(backend, rings))
	}
	t.Cleanup(func() {
		for _, rt := range workers {
			assert.NoError(t, rt.Finalize())
		}
	})
	return backend, workers
}

// patternTensor returns a tensor whose raw bytes follow a fixed pattern.
func patternTensor(dtype dtypes.DType, dims ...int) *tensors.Tensor {
	x := tensors.FromShape(shapes.Make(dtype, dims...))
	_ = x.MutableBytes(func(data []byte) {
		for i := range data {
			data[i] = byte(i*31 + 7)
		}
	})
	return x
}

func rawBytes(t *testing.T, x *tensors.Tensor) []byte {
	var data []byte
	require.NoError(t, x.ConstBytes(func(b []byte) { data = append([]byte(nil), b...) }))
	return data
}

// syncWorker waits for the stream where the transfers of ring 0 were enqueued.
func syncWorker(rt *ops.Runtime, dev backends.DeviceNum, useCalcStream bool) error {
	if useCalcStream {
		return rt.Devices.Synchronize()
	}
	c, err := rt.Comms.Get(0, dev)
	if err != nil {
		return err
	}
	return c.Stream.Synchronize()
}

func TestSendRecvAllDTypes(t *testing.T) {
	_, workers := newPairOfWorkers(t)
	for _, dtype := range backends.MappedDTypes() {
		for _, useCalcStream := range []bool{true, false} {
			t.Run(fmt.Sprintf("%s/use_calc_stream=%v", dtype, useCalcStream), func(t *testing.T) {
				x := patternTensor(dtype, 3, 4)
				recvCtx := ops.NewExecutionContext(1, workers[1].Devices).
					WithAttr("ring_id", 0).
					WithAttr("peer", 0).
					WithAttr("use_calc_stream", useCalcStream).
					WithAttr("dtype", dtype).
					WithAttr("out_shape", []int{3, 4})

				var g errgroup.Group
				g.Go(func() error {
					if err := workers[0].Send().Compute(sendContext(workers[0], 0, x, 0, useCalcStream)); err != nil {
						return err
					}
					return syncWorker(workers[0], 0, useCalcStream)
				})
				g.Go(func() error {
					if err := workers[1].Recv().Compute(recvCtx); err != nil {
						return err
					}
					return syncWorker(workers[1], 1, useCalcStream)
				})
				require.NoError(t, g.Wait())

				out := recvCtx.Outputs["Out"]
				require.NotNil(t, out)
				assert.True(t, x.Shape().Equal(out.Shape()))
				assert.Equal(t, rawBytes(t, x), rawBytes(t, out))
			})
		}
	}
}

func TestSendRecvValues(t *testing.T) {
	_, workers := newPairOfWorkers(t)
	x := tensors.FromFlatDataAndDimensions([]float32{1.5, -2, 3.25}, 3)
	recvCtx := ops.NewExecutionContext(1, workers[1].Devices).
		WithAttr("ring_id", 0).
		WithAttr("peer", 0).
		WithAttr("use_calc_stream", true).
		WithAttr("dtype", dtypes.Float32).
		WithAttr("out_shape", []int{3})

	// Enqueue from a single goroutine: the operators don't wait for the transfer.
	require.NoError(t, ops.RunStep(func() {
		ops.MustCompute(workers[0].Send(), sendContext(workers[0], 0, x, 0, true))
		ops.MustCompute(workers[1].Recv(), recvCtx)
	}))
	require.NoError(t, workers[0].Devices.Synchronize())
	require.NoError(t, workers[1].Devices.Synchronize())

	got, err := tensors.CopyFlatData[float32](recvCtx.Outputs["Out"])
	require.NoError(t, err)
	assert.Equal(t, []float32{1.5, -2, 3.25}, got)
}

func TestSendRecvThroughGroup(t *testing.T) {
	backend, workers := newPairOfWorkers(t)
	uniqueID, status := backend.NewUniqueID()
	require.True(t, status.Ok())
	const groupID = 0 // Same id as the ring: groups take precedence.
	members := make([]*group.BackendGroup, 2)
	for rank, rt := range workers {
		var err error
		members[rank], err = group.New(backend, groupID, uniqueID, []backends.DeviceNum{0, 1}, rank)
		require.NoError(t, err)
		require.NoError(t, rt.Groups.Insert(members[rank]))
	}

	x := tensors.FromFlatDataAndDimensions([]int32{4, 5, 6, 7}, 2, 2)
	recvCtx := ops.NewExecutionContext(1, workers[1].Devices).
		WithAttr("ring_id", groupID).
		WithAttr("peer", 0).
		WithAttr("use_calc_stream", false).
		WithAttr("dtype", dtypes.Int32).
		WithAttr("out_shape", []int{2, 2})
	require.NoError(t, workers[0].Send().Compute(sendContext(workers[0], 0, x, groupID, false)))
	require.NoError(t, workers[1].Recv().Compute(recvCtx))
	require.NoError(t, members[0].Synchronize())
	require.NoError(t, members[1].Synchronize())

	got, err := tensors.CopyFlatData[int32](recvCtx.Outputs["Out"])
	require.NoError(t, err)
	assert.Equal(t, []int32{4, 5, 6, 7}, got)
	assert.False(t, workers[0].Comms.Has(0, 0), "legacy communicators are not created")

	// The group path always sends to rank 1: rank 1 can't send.
	err = workers[1].Send().Compute(sendContext(workers[1], 1, x, groupID, false))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ops.ErrTransport))
}
