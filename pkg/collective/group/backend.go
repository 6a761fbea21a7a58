package group

import (
	"fmt"
	"slices"
	"sync"

	"github.com/gomlx/collective/backends"
	"github.com/gomlx/collective/pkg/core/tensors"
	"github.com/gomlx/collective/pkg/support/xsync"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"k8s.io/klog/v2"
)

// BackendGroup implements Group on a collective backend.
//
// Collectives run on a communicator over all the members. Since backends don't have point-to-point
// operations, Send and Recv run a broadcast on a two-ranks communicator for the pair of members, created
// on first use: the pair's clique id is derived from the group's unique id, so both members derive the
// same one without further coordination.
//
// All operations of a member are executed in order on the member's stream. Members must issue matching
// operations in the same order.
type BackendGroup struct {
	backend  backends.Backend
	id       int
	uniqueID backends.UniqueID
	devices  []backends.DeviceNum
	rank     int
	stream   backends.Stream

	mu        sync.Mutex
	comm      backends.Comm
	pairComms map[int]backends.Comm
	closed    bool

	pending *xsync.DynamicWaitGroup
}

var _ Group = &BackendGroup{}

// New creates the member rank of the group id, whose members are the given devices (rank i runs on
// devices[i]). uniqueID must be the same for all members, e.g. created by one of them with
// backend.NewUniqueID.
func New(backend backends.Backend, id int, uniqueID backends.UniqueID, devices []backends.DeviceNum, rank int) (*BackendGroup, error) {
	if backend == nil {
		return nil, errors.New("no collective backend available")
	}
	if len(devices) == 0 {
		return nil, errors.Errorf("communication group %d has no members", id)
	}
	if len(lo.Uniq(devices)) != len(devices) {
		return nil, errors.Errorf("communication group %d has repeated devices %v", id, devices)
	}
	if rank < 0 || rank >= len(devices) {
		return nil, errors.Errorf("invalid rank %d for communication group %d of size %d", rank, id, len(devices))
	}
	stream, status := backend.NewStream(devices[rank])
	if !status.Ok() {
		return nil, errors.WithMessagef(status.Err(), "communication group %d: failed to create stream", id)
	}
	return &BackendGroup{
		backend:   backend,
		id:        id,
		uniqueID:  uniqueID,
		devices:   slices.Clone(devices),
		rank:      rank,
		stream:    stream,
		pairComms: make(map[int]backends.Comm),
		pending:   xsync.NewDynamicWaitGroup(),
	}, nil
}

// ID implements Group.
func (g *BackendGroup) ID() int { return g.id }

// Rank implements Group.
func (g *BackendGroup) Rank() int { return g.rank }

// Size implements Group.
func (g *BackendGroup) Size() int { return len(g.devices) }

// Ranks implements Group.
func (g *BackendGroup) Ranks() []int {
	return lo.Range(len(g.devices))
}

// Device of this member.
func (g *BackendGroup) Device() backends.DeviceNum { return g.devices[g.rank] }

// Stream where the operations of this member are executed.
func (g *BackendGroup) Stream() backends.Stream { return g.stream }

// String implements fmt.Stringer.
func (g *BackendGroup) String() string {
	return fmt.Sprintf("Group(id=%d, rank=%d/%d, device=%d)", g.id, g.rank, len(g.devices), g.Device())
}

// groupComm returns the communicator over all members, creating it on first use.
func (g *BackendGroup) groupComm() (backends.Comm, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, errors.Errorf("%s is closed", g)
	}
	if g.comm == nil {
		comm, status := g.backend.CommInitRank(g.uniqueID, len(g.devices), g.rank, g.Device())
		if !status.Ok() {
			return nil, errors.WithMessagef(status.Err(), "%s: failed to create communicator", g)
		}
		g.comm = comm
	}
	return g.comm, nil
}

// pairID is the clique id of the pair of members: the same for both of them.
func (g *BackendGroup) pairID(low, high int) backends.UniqueID {
	return uuid.NewSHA1(g.uniqueID, []byte(fmt.Sprintf("p2p/%d/%d", low, high)))
}

// pairComm returns the two-ranks communicator with peer, creating it on first use. The lower group rank
// of the pair is rank 0 of the pair communicator.
func (g *BackendGroup) pairComm(peer int) (backends.Comm, error) {
	if peer < 0 || peer >= len(g.devices) {
		return nil, errors.Errorf("%s: invalid peer rank %d", g, peer)
	}
	if peer == g.rank {
		return nil, errors.Errorf("%s: peer rank %d is the member itself", g, peer)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, errors.Errorf("%s is closed", g)
	}
	if comm, found := g.pairComms[peer]; found {
		return comm, nil
	}
	low, high := min(g.rank, peer), max(g.rank, peer)
	pairRank := 0
	if g.rank == high {
		pairRank = 1
	}
	comm, status := g.backend.CommInitRank(g.pairID(low, high), 2, pairRank, g.Device())
	if !status.Ok() {
		return nil, errors.WithMessagef(status.Err(), "%s: failed to create communicator with peer %d", g, peer)
	}
	g.pairComms[peer] = comm
	klog.V(2).Infof("%s: created pair communicator with peer %d", g, peer)
	return comm, nil
}

// transferBuffer returns the raw buffer, element count and backend data type of a tensor.
func transferBuffer(t *tensors.Tensor) (buffer []byte, count int, dtype backends.DataType, err error) {
	if t == nil {
		err = errors.New("nil tensor")
		return
	}
	dtype, err = backends.ToDataType(t.DType())
	if err != nil {
		return
	}
	buffer, err = t.RawBytes()
	count = t.Size()
	return
}

// enqueue runs op for each tensor, and then adds a host function to the stream completing the returned task.
//
// If op fails for tensor #i > 0, the operations of tensors #0 to #i-1 are already on the stream and can't be
// withdrawn: they are still tracked by Synchronize, and the peers see them without the ones that follow.
func (g *BackendGroup) enqueue(name string, ts []*tensors.Tensor,
	op func(buffer []byte, count int, dtype backends.DataType) backends.Status) (Task, error) {
	type transfer struct {
		buffer []byte
		count  int
		dtype  backends.DataType
	}
	// All tensors are checked before anything is enqueued.
	transfers := make([]transfer, len(ts))
	for i, t := range ts {
		buffer, count, dtype, err := transferBuffer(t)
		if err != nil {
			return nil, errors.WithMessagef(err, "%s: %s of tensor #%d", g, name, i)
		}
		transfers[i] = transfer{buffer, count, dtype}
	}
	for i, tr := range transfers {
		if status := op(tr.buffer, tr.count, tr.dtype); !status.Ok() {
			err := errors.WithMessagef(status.Err(), "%s: %s of tensor #%d", g, name, i)
			if i > 0 {
				err = errors.WithMessagef(err, "%d previous tensor(s) already enqueued", i)
				if _, trackErr := g.track(name); trackErr != nil {
					err = multierr.Append(err, trackErr)
				}
			}
			return nil, err
		}
	}
	return g.track(name)
}

// track adds a host function to the stream, completing the returned task once everything enqueued
// so far has run.
func (g *BackendGroup) track(name string) (Task, error) {
	task := NewTask()
	g.pending.Add(1)
	status := g.stream.LaunchHostFunc(func(err error) {
		task.Complete(err)
		g.pending.Done()
	})
	if !status.Ok() {
		g.pending.Done()
		return nil, errors.WithMessagef(status.Err(), "%s: %s", g, name)
	}
	return task, nil
}

// Send implements Group.
func (g *BackendGroup) Send(ts []*tensors.Tensor, peer int) (Task, error) {
	comm, err := g.pairComm(peer)
	if err != nil {
		return nil, err
	}
	root := comm.Rank()
	return g.enqueue("send", ts, func(buffer []byte, count int, dtype backends.DataType) backends.Status {
		return g.backend.Broadcast(buffer, count, dtype, root, comm, g.stream)
	})
}

// Recv implements Group.
func (g *BackendGroup) Recv(ts []*tensors.Tensor, peer int) (Task, error) {
	comm, err := g.pairComm(peer)
	if err != nil {
		return nil, err
	}
	root := 1 - comm.Rank()
	return g.enqueue("recv", ts, func(buffer []byte, count int, dtype backends.DataType) backends.Status {
		return g.backend.Broadcast(buffer, count, dtype, root, comm, g.stream)
	})
}

// Broadcast implements Group.
func (g *BackendGroup) Broadcast(ts []*tensors.Tensor, root int) (Task, error) {
	if root < 0 || root >= len(g.devices) {
		return nil, errors.Errorf("%s: invalid broadcast root %d", g, root)
	}
	comm, err := g.groupComm()
	if err != nil {
		return nil, err
	}
	return g.enqueue("broadcast", ts, func(buffer []byte, count int, dtype backends.DataType) backends.Status {
		return g.backend.Broadcast(buffer, count, dtype, root, comm, g.stream)
	})
}

// AllReduce implements Group.
func (g *BackendGroup) AllReduce(ts []*tensors.Tensor, op backends.ReduceOpType) (Task, error) {
	comm, err := g.groupComm()
	if err != nil {
		return nil, err
	}
	return g.enqueue("all-reduce", ts, func(buffer []byte, count int, dtype backends.DataType) backends.Status {
		return g.backend.AllReduce(buffer, buffer, count, dtype, op, comm, g.stream)
	})
}

// Synchronize waits for all the tasks issued so far, and returns the stream error, if any.
func (g *BackendGroup) Synchronize() error {
	g.pending.Wait()
	return g.stream.Synchronize()
}

// Close synchronizes and destroys the communicators of the member. The group can't be used afterward.
func (g *BackendGroup) Close() error {
	err := g.Synchronize()
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return err
	}
	g.closed = true
	comms := lo.Values(g.pairComms)
	if g.comm != nil {
		comms = append(comms, g.comm)
	}
	for _, comm := range comms {
		if status := g.backend.CommDestroy(comm); !status.Ok() {
			err = multierr.Append(err, errors.WithMessagef(status.Err(), "%s: destroying communicator", g))
		}
	}
	g.comm = nil
	g.pairComms = nil
	return err
}
