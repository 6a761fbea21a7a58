package comm

import (
	"slices"

	"github.com/gomlx/collective/backends"
	"github.com/gomlx/collective/pkg/core/distributed"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// Ring is the membership of a ring: the clique id shared by its ranks, and the device of each rank.
type Ring struct {
	UniqueID backends.UniqueID
	Devices  []backends.DeviceNum
}

// Rank returns the rank of the device in the ring, or -1 if it is not a member.
func (r Ring) Rank(device backends.DeviceNum) int {
	return lo.IndexOf(r.Devices, device)
}

// NewRing creates a ring over the given devices, with a new clique id from the backend.
func NewRing(backend backends.Backend, devices ...backends.DeviceNum) (Ring, error) {
	if len(devices) == 0 {
		return Ring{}, errors.New("a ring needs at least one device")
	}
	if len(lo.Uniq(devices)) != len(devices) {
		return Ring{}, errors.Errorf("ring devices %v have duplicates", devices)
	}
	id, status := backend.NewUniqueID()
	if !status.Ok() {
		return Ring{}, errors.WithMessage(status.Err(), "failed to create ring unique id")
	}
	return Ring{UniqueID: id, Devices: slices.Clone(devices)}, nil
}

// RingFactory returns a Factory that creates the communicators of the given rings, indexed by ring id.
func RingFactory(backend backends.Backend, rings map[int]Ring) Factory {
	return func(ringID int, device backends.DeviceNum) (*Communicator, error) {
		ring, found := rings[ringID]
		if !found {
			return nil, errors.Errorf("ring %d is not defined", ringID)
		}
		rank := ring.Rank(device)
		if rank < 0 {
			return nil, errors.Errorf("device %d is not part of ring %d (devices %v)", device, ringID, ring.Devices)
		}
		return NewCommunicator(backend, ringID, device, ring.UniqueID, len(ring.Devices), rank)
	}
}

// RingsFromMesh creates one ring per replica group of the mesh along the given axes, numbered from
// firstRingID. The rank of each device is its position in the replica group.
//
// E.g.: for a mesh {"data": 2, "model": 2} and axes {"model"}, it creates 2 rings of 2 devices each.
func RingsFromMesh(backend backends.Backend, mesh *distributed.DeviceMesh, axes []string, firstRingID int) (map[int]Ring, error) {
	groups, err := mesh.ReplicaGroupDevices(axes)
	if err != nil {
		return nil, err
	}
	rings := make(map[int]Ring, len(groups))
	for i, devices := range groups {
		ring, err := NewRing(backend, devices...)
		if err != nil {
			return nil, errors.WithMessagef(err, "ring %d of mesh %s", firstRingID+i, mesh)
		}
		rings[firstRingID+i] = ring
	}
	return rings, nil
}
