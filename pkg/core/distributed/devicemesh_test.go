package distributed_test

import (
	"testing"

	"github.com/gomlx/collective/backends"
	"github.com/gomlx/collective/backends/notimplemented"
	"github.com/gomlx/collective/pkg/core/distributed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockBackend only reports a number of devices.
type mockBackend struct {
	notimplemented.Backend
	numDevices int
}

func (m *mockBackend) NumDevices() int {
	return m.numDevices
}

func newMockBackend(numDevices int) backends.Backend {
	return &mockBackend{numDevices: numDevices}
}

func TestNewDeviceMesh(t *testing.T) {
	backend := newMockBackend(8)
	t.Run("Valid", func(t *testing.T) {
		tests := []struct {
			name      string
			shape     []int
			axisNames []string
			wantRank  int
			wantNum   int
		}{
			{"1D mesh", []int{8}, []string{"replica"}, 1, 8},
			{"2D mesh", []int{2, 4}, []string{"x", "y"}, 2, 8},
			{"3D mesh", []int{2, 2, 2}, []string{"x", "y", "z"}, 3, 8},
			{"pair", []int{2}, []string{"p2p"}, 1, 2},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				mesh, err := distributed.NewDeviceMesh(backend, tt.shape, tt.axisNames)
				require.NoError(t, err)
				assert.Equal(t, tt.wantRank, mesh.Rank())
				assert.Equal(t, tt.wantNum, mesh.NumDevices())
				assert.Equal(t, tt.axisNames, mesh.AxesNames())
				assert.Equal(t, tt.shape, mesh.AxesSizes())
			})
		}
	})

	t.Run("Errors", func(t *testing.T) {
		tests := []struct {
			name      string
			shape     []int
			axisNames []string
			wantErr   string
		}{
			{"mismatched lengths", []int{2, 4}, []string{"x"}, "same length"},
			{"empty", []int{}, []string{}, "cannot be empty"},
			{"invalid name", []int{2}, []string{"1x"}, "not a valid identifier"},
			{"duplicate", []int{2, 2}, []string{"x", "x"}, "duplicated"},
			{"zero size", []int{0}, []string{"x"}, "invalid size"},
			{"too many devices", []int{4, 4}, []string{"x", "y"}, "only has 8"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := distributed.NewDeviceMesh(backend, tt.shape, tt.axisNames)
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			})
		}
	})
}

func TestDeviceMeshAxisSize(t *testing.T) {
	mesh, err := distributed.NewDeviceMesh(newMockBackend(8), []int{2, 4}, []string{"data", "model"})
	require.NoError(t, err)
	size, err := mesh.AxisSize("model")
	require.NoError(t, err)
	assert.Equal(t, 4, size)
	_, err = mesh.AxisSize("nope")
	require.Error(t, err)
	assert.Equal(t, "DeviceMesh(axesSizes={data: 2, model: 4})", mesh.String())
}

func TestDeviceMeshAssignment(t *testing.T) {
	mesh, err := distributed.NewDeviceMesh(newMockBackend(8), []int{2, 2}, []string{"x", "y"})
	require.NoError(t, err)
	assert.Equal(t, []backends.DeviceNum{0, 1, 2, 3}, mesh.DeviceAssignment())

	t.Run("DefaultDeviceToMesh", func(t *testing.T) {
		flatIdx, axisIndices, err := mesh.DeviceToMesh(3)
		require.NoError(t, err)
		assert.Equal(t, 3, flatIdx)
		assert.Equal(t, []int{1, 1}, axisIndices)
		_, _, err = mesh.DeviceToMesh(5)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "physical device 5 is not part of the mesh")
	})

	t.Run("CustomAssignment", func(t *testing.T) {
		require.NoError(t, mesh.SetDeviceAssignment(7, 6, 5, 4))
		flatIdx, axisIndices, err := mesh.DeviceToMesh(5)
		require.NoError(t, err)
		assert.Equal(t, 2, flatIdx)
		assert.Equal(t, []int{1, 0}, axisIndices)
		_, _, err = mesh.DeviceToMesh(0)
		require.Error(t, err)

		groups, err := mesh.ReplicaGroupDevices([]string{"x"})
		require.NoError(t, err)
		assert.Equal(t, [][]backends.DeviceNum{{7, 5}, {6, 4}}, groups)

		// Reset to default.
		require.NoError(t, mesh.SetDeviceAssignment())
		assert.Equal(t, []backends.DeviceNum{0, 1, 2, 3}, mesh.DeviceAssignment())
	})

	t.Run("InvalidAssignment", func(t *testing.T) {
		err := mesh.SetDeviceAssignment(0, 1, 2)
		require.Error(t, err)
		err = mesh.SetDeviceAssignment(0, 1, 1, 2)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicated")
		err = mesh.SetDeviceAssignment(0, 1, 2, -1)
		require.Error(t, err)
	})
}

func TestComputeReplicaGroups(t *testing.T) {
	backend := newMockBackend(8)
	t.Run("2D", func(t *testing.T) {
		mesh, err := distributed.NewDeviceMesh(backend, []int{2, 2}, []string{"batch", "data"})
		require.NoError(t, err)

		groups, err := mesh.ComputeReplicaGroups([]string{"batch"})
		require.NoError(t, err)
		assert.Equal(t, [][]int{{0, 2}, {1, 3}}, groups)

		groups, err = mesh.ComputeReplicaGroups([]string{"data"})
		require.NoError(t, err)
		assert.Equal(t, [][]int{{0, 1}, {2, 3}}, groups)

		groups, err = mesh.ComputeReplicaGroups([]string{"batch", "data"})
		require.NoError(t, err)
		assert.Equal(t, [][]int{{0, 1, 2, 3}}, groups)

		groups, err = mesh.ComputeReplicaGroups([]string{})
		require.NoError(t, err)
		assert.Equal(t, [][]int{{0}, {1}, {2}, {3}}, groups)
	})

	t.Run("3D", func(t *testing.T) {
		mesh, err := distributed.NewDeviceMesh(backend, []int{2, 2, 2}, []string{"x", "y", "z"})
		require.NoError(t, err)
		groups, err := mesh.ComputeReplicaGroups([]string{"x"})
		require.NoError(t, err)
		assert.Equal(t, [][]int{{0, 4}, {1, 5}, {2, 6}, {3, 7}}, groups)
	})

	t.Run("Errors", func(t *testing.T) {
		mesh, err := distributed.NewDeviceMesh(backend, []int{2, 2}, []string{"x", "y"})
		require.NoError(t, err)
		_, err = mesh.ComputeReplicaGroups([]string{"nonexistent"})
		require.Error(t, err)
		_, err = mesh.ComputeReplicaGroups([]string{"x", "x"})
		require.Error(t, err)
	})
}
