package backends

import "github.com/google/uuid"

// UniqueID identifies a communicator clique. It is created once by one of the participants
// (Backend.NewUniqueID) and shared with all the others, which then call Backend.CommInitRank with it.
type UniqueID = uuid.UUID

// Comm is a communicator: the binding of one rank of a clique to one device.
type Comm interface {
	// Rank of this communicator within its clique, from 0 to NRanks()-1.
	Rank() int

	// NRanks is the number of ranks (the world size) of the clique.
	NRanks() int

	// Device the communicator is bound to.
	Device() DeviceNum

	// ID of the clique the communicator belongs to.
	ID() UniqueID
}

// Stream is an ordered command queue on a device: operations enqueued on the same stream execute in
// enqueue order; there is no ordering across streams unless explicitly synchronized.
type Stream interface {
	// Device the stream executes on.
	Device() DeviceNum

	// Synchronize blocks until every operation enqueued so far has executed.
	// It returns the first execution error of the stream, if any: stream errors are sticky.
	Synchronize() error

	// LaunchHostFunc enqueues fn to be called once every operation enqueued before it has executed.
	// fn is called with the stream's (sticky) execution error, or nil.
	LaunchHostFunc(fn func(err error)) Status
}
