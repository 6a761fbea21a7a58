// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package notimplemented implements a backends.Backend that answers every call with
// backends.StatusNotSupported.
//
// It is meant to be embedded by mock backends in tests, which then override only the methods they need.
package notimplemented

import (
	"fmt"

	"github.com/gomlx/collective/backends"
	"github.com/google/uuid"
)

// Backend is a dummy backend that can be imported to create mock backends.
type Backend struct{}

var _ backends.Backend = &Backend{}

// Name returns the short name of the backend.
func (b *Backend) Name() string {
	return "notimplemented"
}

// String returns the same as Name.
func (b *Backend) String() string {
	return b.Name()
}

// Description is a longer description of the Backend.
func (b *Backend) Description() string {
	return "Not Implemented Backend (mock backend for testing)"
}

// NumDevices returns 1 as the number of devices available.
func (b *Backend) NumDevices() int {
	return 1
}

// NewUniqueID returns backends.StatusNotSupported.
func (b *Backend) NewUniqueID() (backends.UniqueID, backends.Status) {
	return uuid.Nil, backends.StatusNotSupported
}

// CommInitRank returns backends.StatusNotSupported.
func (b *Backend) CommInitRank(backends.UniqueID, int, int, backends.DeviceNum) (backends.Comm, backends.Status) {
	return nil, backends.StatusNotSupported
}

// CommDestroy returns backends.StatusNotSupported.
func (b *Backend) CommDestroy(backends.Comm) backends.Status {
	return backends.StatusNotSupported
}

// NewStream returns backends.StatusNotSupported.
func (b *Backend) NewStream(backends.DeviceNum) (backends.Stream, backends.Status) {
	return nil, backends.StatusNotSupported
}

// Broadcast returns backends.StatusNotSupported.
func (b *Backend) Broadcast([]byte, int, backends.DataType, int, backends.Comm, backends.Stream) backends.Status {
	return backends.StatusNotSupported
}

// AllReduce returns backends.StatusNotSupported.
func (b *Backend) AllReduce([]byte, []byte, int, backends.DataType, backends.ReduceOpType, backends.Comm, backends.Stream) backends.Status {
	return backends.StatusNotSupported
}

// Finalize is a no-op.
func (b *Backend) Finalize() {}

// Comm is a fixed communicator that doesn't belong to any backend: it only reports the values it was created with.
// Useful for tests of code that only inspects communicators.
type Comm struct {
	ClientRank, WorldSize int
	DeviceNum             backends.DeviceNum
	CliqueID              backends.UniqueID
}

var _ backends.Comm = &Comm{}

// Rank implements backends.Comm.
func (c *Comm) Rank() int { return c.ClientRank }

// NRanks implements backends.Comm.
func (c *Comm) NRanks() int { return c.WorldSize }

// Device implements backends.Comm.
func (c *Comm) Device() backends.DeviceNum { return c.DeviceNum }

// ID implements backends.Comm.
func (c *Comm) ID() backends.UniqueID { return c.CliqueID }

// String implements fmt.Stringer.
func (c *Comm) String() string {
	return fmt.Sprintf("Comm(rank=%d/%d, device=%d)", c.ClientRank, c.WorldSize, c.DeviceNum)
}

// Stream is a stream that executes nothing: host functions are called immediately, and Synchronize
// returns Err.
type Stream struct {
	Name      string
	DeviceNum backends.DeviceNum
	Err       error
}

var _ backends.Stream = &Stream{}

// Device implements backends.Stream.
func (s *Stream) Device() backends.DeviceNum { return s.DeviceNum }

// Synchronize implements backends.Stream.
func (s *Stream) Synchronize() error { return s.Err }

// LaunchHostFunc implements backends.Stream, by calling fn immediately.
func (s *Stream) LaunchHostFunc(fn func(err error)) backends.Status {
	fn(s.Err)
	return backends.StatusSuccess
}

// String implements fmt.Stringer.
func (s *Stream) String() string {
	return fmt.Sprintf("Stream(%q, device=%d)", s.Name, s.DeviceNum)
}
