// Package distributed defines the topology of the devices taking part in a distributed execution.
//
// A DeviceMesh organizes devices along named axes (e.g. "data" and "model"), and computes the replica
// groups, the sets of devices that communicate with each other in collective operations along some axes.
// Those groups are used to define rings (communicators) and communication groups.
package distributed

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/collective/backends"
	"github.com/gomlx/collective/pkg/support/sets"
	"github.com/pkg/errors"
)

// DeviceMesh defines the logical topology of a set of devices on a backend.
type DeviceMesh struct {
	name string

	// axesNames are the names of the mesh axes.
	axesNames []string

	// axesSizes defines the number of devices along each mesh axis.
	axesSizes []int

	// nameToAxis maps axis names to their index.
	nameToAxis map[string]int

	// numDevices is the total number of devices in the mesh.
	numDevices int

	// deviceAssignment is the list of physical devices in the mesh, in the order they appear in the mesh.
	// If nil, it defaults to the sequential devices 0 to numDevices-1.
	deviceAssignment []backends.DeviceNum

	// physicalToFlat maps a physical device to its flat index in the mesh.
	physicalToFlat map[backends.DeviceNum]int
}

const DefaultMeshName = "mesh"

// IsNameValid checks whether a name is a valid identifier for a mesh name or axis name.
func IsNameValid(name string) bool {
	if name == "" {
		return false
	}
	if name[0] >= '0' && name[0] <= '9' {
		return false
	}
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			continue
		}
		return false
	}
	return true
}

// NewDeviceMesh creates a new logical topology of a set of devices of the backend.
//
//   - axesSizes: defines the number of devices along each mesh axis, one value per axis.
//   - axesNames: the names of the mesh axes. One value per axis.
//
// The mesh cannot have more devices than the backend provides.
func NewDeviceMesh(backend backends.Backend, axesSizes []int, axesNames []string) (*DeviceMesh, error) {
	if len(axesSizes) != len(axesNames) {
		return nil, errors.Errorf("axesSizes and axesNames must have the same length, got %d and %d",
			len(axesSizes), len(axesNames))
	}
	if len(axesSizes) == 0 {
		return nil, errors.New("DeviceMesh axesSizes cannot be empty")
	}

	axesNames = slices.Clone(axesNames)
	numDevices := 1
	nameToAxis := make(map[string]int, len(axesSizes))
	for i, name := range axesNames {
		if !IsNameValid(name) {
			return nil, errors.Errorf(
				"DeviceMesh axis name %q at index %d is not a valid identifier, it must start with a ASCII letter "+
					"and be followed only by letters, numbers or underscore", name, i)
		}
		if _, found := nameToAxis[name]; found {
			return nil, errors.Errorf("DeviceMesh axis name %q is duplicated", name)
		}
		if axesSizes[i] <= 0 {
			return nil, errors.Errorf("DeviceMesh axis %q has invalid size %d, it must be > 0", name, axesSizes[i])
		}
		nameToAxis[name] = i
		numDevices *= axesSizes[i]
	}
	if numDevices > backend.NumDevices() {
		return nil, errors.Errorf("DeviceMesh requires %d devices, but backend %q only has %d",
			numDevices, backend.Name(), backend.NumDevices())
	}

	m := &DeviceMesh{
		name:       DefaultMeshName,
		axesNames:  axesNames,
		axesSizes:  slices.Clone(axesSizes),
		nameToAxis: nameToAxis,
		numDevices: numDevices,
	}
	return m, nil
}

// SetName of the mesh.
func (m *DeviceMesh) SetName(name string) {
	m.name = name
}

// Name returns the mesh name.
func (m *DeviceMesh) Name() string {
	return m.name
}

// NumDevices returns the total number of devices in the mesh.
func (m *DeviceMesh) NumDevices() int {
	return m.numDevices
}

// Rank returns the number of axes in the mesh.
func (m *DeviceMesh) Rank() int {
	return len(m.axesSizes)
}

// AxesNames returns a copy of the mesh's axis names.
func (m *DeviceMesh) AxesNames() []string {
	return slices.Clone(m.axesNames)
}

// AxesSizes returns a copy of the mesh's axesSizes.
func (m *DeviceMesh) AxesSizes() []int {
	return slices.Clone(m.axesSizes)
}

// AxisSize returns the number of devices along the given mesh axis.
func (m *DeviceMesh) AxisSize(axisName string) (int, error) {
	idx, found := m.nameToAxis[axisName]
	if !found {
		return 0, errors.Errorf("mesh axis %q not found", axisName)
	}
	return m.axesSizes[idx], nil
}

// String implements the fmt.Stringer interface.
func (m *DeviceMesh) String() string {
	var sb strings.Builder
	sb.WriteString("DeviceMesh(axesSizes={")
	for i, name := range m.axesNames {
		if i > 0 {
			sb.WriteString(", ")
		}
		_, _ = fmt.Fprintf(&sb, "%s: %d", name, m.axesSizes[i])
	}
	sb.WriteString("})")
	return sb.String()
}

// SetDeviceAssignment sets the physical devices of the mesh, in mesh order (row-major over the axes).
//
// The length of devices must be equal to NumDevices(), and devices cannot be repeated.
// Calling it with no devices resets to the default sequential assignment.
func (m *DeviceMesh) SetDeviceAssignment(devices ...backends.DeviceNum) error {
	if len(devices) == 0 {
		m.deviceAssignment = nil
		m.physicalToFlat = nil
		return nil
	}
	if len(devices) != m.numDevices {
		return errors.Errorf("devices must have %d elements, got %d", m.numDevices, len(devices))
	}
	seen := sets.Make[backends.DeviceNum](m.numDevices)
	physicalToFlat := make(map[backends.DeviceNum]int, m.numDevices)
	for flatIdx, device := range devices {
		if device < 0 {
			return errors.Errorf("device %d is out of range", device)
		}
		if !seen.Insert(device) {
			return errors.Errorf("physical device #%d is duplicated in mapping", device)
		}
		physicalToFlat[device] = flatIdx
	}
	m.deviceAssignment = slices.Clone(devices)
	m.physicalToFlat = physicalToFlat
	return nil
}

// DeviceAssignment returns the physical devices of the mesh, in mesh order.
func (m *DeviceMesh) DeviceAssignment() []backends.DeviceNum {
	if m.deviceAssignment != nil {
		return slices.Clone(m.deviceAssignment)
	}
	devices := make([]backends.DeviceNum, m.numDevices)
	for i := range devices {
		devices[i] = backends.DeviceNum(i)
	}
	return devices
}

// DeviceToMesh returns the flat index and the per-axis indices of the given physical device in the mesh.
func (m *DeviceMesh) DeviceToMesh(device backends.DeviceNum) (flatIdx int, axisIndices []int, err error) {
	if m.physicalToFlat != nil {
		var found bool
		flatIdx, found = m.physicalToFlat[device]
		if !found {
			return 0, nil, errors.Errorf("physical device %d is not part of the mesh", device)
		}
	} else {
		if device < 0 || int(device) >= m.numDevices {
			return 0, nil, errors.Errorf("physical device %d is not part of the mesh", device)
		}
		flatIdx = int(device)
	}
	axisIndices = make([]int, len(m.axesSizes))
	remaining := flatIdx
	for i := len(m.axesSizes) - 1; i >= 0; i-- {
		axisIndices[i] = remaining % m.axesSizes[i]
		remaining /= m.axesSizes[i]
	}
	return flatIdx, axisIndices, nil
}

// ComputeReplicaGroups returns the replica groups participating in some collective operation given the
// axes along which the operation is performed.
//
// Each replica group (a []int) includes the flat mesh indices for the axes specified.
// The other axes will be split into different replica groups.
//
// Example:
//
//	m := NewDeviceMesh(backend, []int{2, 2}, []string{"batch", "data"})
//	batchGroups, _ := m.ComputeReplicaGroups([]string{"batch"})  // -> [][]int{{0, 2}, {1, 3}}
//	dataGroups, _ := m.ComputeReplicaGroups([]string{"data"})    // -> [][]int{{0, 1}, {2, 3}}
//	globalGroups, _ := m.ComputeReplicaGroups([]string{"batch", "data"})  // -> [][]int{{0, 1, 2, 3}}
func (m *DeviceMesh) ComputeReplicaGroups(axes []string) ([][]int, error) {
	axisIndices := make([]int, 0, len(axes))
	axisSet := sets.Make[int](len(axes))
	for _, axis := range axes {
		idx, found := m.nameToAxis[axis]
		if !found {
			return nil, errors.Errorf("axis %q not found in mesh", axis)
		}
		if !axisSet.Insert(idx) {
			return nil, errors.Errorf("axis %q is duplicated: each axis can only appear once", axis)
		}
		axisIndices = append(axisIndices, idx)
	}

	nonAxisIndices := make([]int, 0, len(m.axesSizes)-len(axisIndices))
	for i := range m.axesSizes {
		if !axisSet.Has(i) {
			nonAxisIndices = append(nonAxisIndices, i)
		}
	}

	groupSize := 1
	for _, idx := range axisIndices {
		groupSize *= m.axesSizes[idx]
	}
	numGroups := m.numDevices / groupSize
	groups := make([][]int, numGroups)
	for i := range groups {
		groups[i] = make([]int, groupSize)
	}

	indices := make([]int, len(m.axesSizes))
	for flatIdx := 0; flatIdx < m.numDevices; flatIdx++ {
		remaining := flatIdx
		for i := len(m.axesSizes) - 1; i >= 0; i-- {
			indices[i] = remaining % m.axesSizes[i]
			remaining /= m.axesSizes[i]
		}

		// Group index from the non-axis indices, position within the group from the axis indices.
		groupIdx, multiplier := 0, 1
		for i := len(nonAxisIndices) - 1; i >= 0; i-- {
			axisIdx := nonAxisIndices[i]
			groupIdx += indices[axisIdx] * multiplier
			multiplier *= m.axesSizes[axisIdx]
		}
		posInGroup := 0
		multiplier = 1
		for i := len(axisIndices) - 1; i >= 0; i-- {
			axisIdx := axisIndices[i]
			posInGroup += indices[axisIdx] * multiplier
			multiplier *= m.axesSizes[axisIdx]
		}
		groups[groupIdx][posInGroup] = flatIdx
	}
	return groups, nil
}

// ReplicaGroupDevices is like ComputeReplicaGroups, but returns the physical devices of each group, using the
// mesh device assignment. The position of a device within its group is its rank in collectives over those axes.
func (m *DeviceMesh) ReplicaGroupDevices(axes []string) ([][]backends.DeviceNum, error) {
	groups, err := m.ComputeReplicaGroups(axes)
	if err != nil {
		return nil, err
	}
	assignment := m.DeviceAssignment()
	deviceGroups := make([][]backends.DeviceNum, len(groups))
	for i, group := range groups {
		deviceGroups[i] = make([]backends.DeviceNum, len(group))
		for j, flatIdx := range group {
			deviceGroups[i][j] = assignment[flatIdx]
		}
	}
	return deviceGroups, nil
}
