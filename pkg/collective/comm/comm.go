// Package comm implements the communicator registry: the legacy way of finding the communicator of a
// "ring" (a numbered set of devices that communicate together) for a given device.
//
// Communicators are created lazily on first use, by a Factory, and are stable thereafter.
package comm

import (
	"fmt"
	"sync"

	"github.com/gomlx/collective/backends"
	"github.com/gomlx/collective/pkg/support/xsync"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"k8s.io/klog/v2"
)

// Communicator is the handle of one device's membership in a ring.
//
// It is shared read-only after creation.
type Communicator struct {
	RingID int
	Device backends.DeviceNum

	// Rank of the device in the ring, and NRanks is the ring's world size.
	Rank, NRanks int

	// Comm is the backend communicator.
	Comm backends.Comm

	// Stream is the communicator's own stream, used when collectives should not be ordered with the
	// device's compute kernels.
	Stream backends.Stream
}

// String implements fmt.Stringer.
func (c *Communicator) String() string {
	return fmt.Sprintf("Communicator(ring=%d, device=%d, rank=%d/%d)", c.RingID, c.Device, c.Rank, c.NRanks)
}

// NewCommunicator creates the backend communicator for the rank of the clique id, plus its own stream.
func NewCommunicator(backend backends.Backend, ringID int, device backends.DeviceNum,
	id backends.UniqueID, nranks, rank int) (*Communicator, error) {
	if backend == nil {
		return nil, errors.New("no collective backend available")
	}
	comm, status := backend.CommInitRank(id, nranks, rank, device)
	if !status.Ok() {
		return nil, errors.WithMessagef(status.Err(), "failed to create communicator for ring %d, rank %d/%d, device %d",
			ringID, rank, nranks, device)
	}
	stream, status := backend.NewStream(device)
	if !status.Ok() {
		backend.CommDestroy(comm)
		return nil, errors.WithMessagef(status.Err(), "failed to create stream for ring %d on device %d", ringID, device)
	}
	return &Communicator{
		RingID: ringID,
		Device: device,
		Rank:   rank,
		NRanks: nranks,
		Comm:   comm,
		Stream: stream,
	}, nil
}

// Factory creates the communicator of a device in a ring. It is called at most once per (ring, device)
// by the Registry, unless it fails.
type Factory func(ringID int, device backends.DeviceNum) (*Communicator, error)

type key struct {
	ringID int
	device backends.DeviceNum
}

// entry is a registry slot: ready is triggered once comm or err is set.
type entry struct {
	ready *xsync.Latch
	comm  *Communicator
	err   error
}

// Registry maps (ring id, device) to its Communicator.
//
// It is safe for concurrent use: lookups of existing communicators only take a read lock, and the creation
// of a communicator doesn't block the creation of others, since backends may block creating a communicator
// until all of its ranks join.
type Registry struct {
	backend backends.Backend
	factory Factory

	mu      sync.RWMutex
	entries map[key]*entry
}

// NewRegistry creates a registry that uses factory to create missing communicators. The backend is used
// to destroy them on Finalize.
//
// factory can be nil, in which case only communicators created with Init are available.
func NewRegistry(backend backends.Backend, factory Factory) *Registry {
	return &Registry{
		backend: backend,
		factory: factory,
		entries: make(map[key]*entry),
	}
}

// Has returns whether the communicator for the ring and device is already created.
func (r *Registry) Has(ringID int, device backends.DeviceNum) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, found := r.entries[key{ringID, device}]
	return found && e.ready.Test() && e.err == nil
}

// Get returns the communicator for the ring and device, creating it if needed.
func (r *Registry) Get(ringID int, device backends.DeviceNum) (*Communicator, error) {
	k := key{ringID, device}
	r.mu.RLock()
	e, found := r.entries[k]
	r.mu.RUnlock()
	if found {
		e.ready.Wait()
		if e.err == nil {
			return e.comm, nil
		}
	}
	if r.factory == nil {
		return nil, errors.Errorf("communicator for ring %d on device %d not initialized", ringID, device)
	}
	return r.create(k, false, func() (*Communicator, error) { return r.factory(ringID, device) })
}

// Init creates the communicator for the ring and device explicitly, from a clique id shared by all
// ranks of the ring. It fails if the communicator already exists or is being created.
func (r *Registry) Init(ringID int, device backends.DeviceNum, id backends.UniqueID, nranks, rank int) (*Communicator, error) {
	return r.create(key{ringID, device}, true, func() (*Communicator, error) {
		return NewCommunicator(r.backend, ringID, device, id, nranks, rank)
	})
}

// create runs createFn once for the key; concurrent callers wait for the result. Failed creations are
// removed, so they can be retried.
//
// If exclusive, an existing communicator for the key is an error. A concurrent creation that fails
// doesn't count: createFn is then tried again.
func (r *Registry) create(k key, exclusive bool, createFn func() (*Communicator, error)) (*Communicator, error) {
	r.mu.Lock()
	for {
		e, found := r.entries[k]
		if !found {
			break
		}
		r.mu.Unlock()
		e.ready.Wait()
		switch {
		case !exclusive:
			return e.comm, e.err
		case e.err == nil:
			return nil, errors.Errorf("communicator for ring %d on device %d already initialized", k.ringID, k.device)
		}
		r.mu.Lock()
	}
	e := &entry{ready: xsync.NewLatch()}
	r.entries[k] = e
	r.mu.Unlock()

	comm, err := createFn()
	if err == nil && (comm == nil || comm.RingID != k.ringID || comm.Device != k.device) {
		err = errors.Errorf("invalid communicator %v created for ring %d on device %d", comm, k.ringID, k.device)
	}
	e.comm, e.err = comm, err
	if err != nil {
		e.comm = nil
		r.mu.Lock()
		delete(r.entries, k)
		r.mu.Unlock()
	} else {
		klog.V(1).Infof("created %s", comm)
	}
	e.ready.Trigger()
	return e.comm, e.err
}

// Len returns the number of communicators created.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Finalize synchronizes the streams of all communicators and destroys them. The registry is empty afterward.
// Errors are combined and returned, but every communicator is destroyed regardless.
func (r *Registry) Finalize() error {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[key]*entry)
	r.mu.Unlock()

	var err error
	for k, e := range entries {
		e.ready.Wait()
		if e.err != nil {
			continue
		}
		c := e.comm
		if syncErr := c.Stream.Synchronize(); syncErr != nil {
			err = multierr.Append(err, errors.WithMessagef(syncErr, "ring %d, device %d", k.ringID, k.device))
		}
		if r.backend != nil {
			if status := r.backend.CommDestroy(c.Comm); !status.Ok() {
				klog.Warningf("failed to destroy %s: %s", c, status)
				err = multierr.Append(err, errors.WithMessagef(status.Err(), "destroying %s", c))
			}
		}
	}
	klog.V(1).Infof("communicator registry finalized (%d communicators)", len(entries))
	return err
}
