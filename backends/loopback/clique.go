package loopback

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gomlx/collective/backends"
	"github.com/gomlx/collective/internal/workerspool"
	"github.com/gomlx/collective/pkg/support/sets"
	"github.com/gomlx/collective/pkg/support/xsync"
)

// Comm implements backends.Comm: one rank of a clique, bound to a device.
type Comm struct {
	backend *Backend
	clique  *clique
	rank    int
	device  backends.DeviceNum

	// seq is the sequence number of the next collective enqueued by this rank, protected by enqueueMu.
	enqueueMu sync.Mutex
	seq       int64
	destroyed atomic.Bool
}

var _ backends.Comm = &Comm{}

// Rank implements backends.Comm.
func (c *Comm) Rank() int { return c.rank }

// NRanks implements backends.Comm.
func (c *Comm) NRanks() int { return c.clique.nranks }

// Device implements backends.Comm.
func (c *Comm) Device() backends.DeviceNum { return c.device }

// ID implements backends.Comm.
func (c *Comm) ID() backends.UniqueID { return c.clique.id }

// String implements fmt.Stringer.
func (c *Comm) String() string {
	return fmt.Sprintf("comm(clique=%s, rank=%d/%d, device=%d)",
		c.clique.id.String()[:8], c.rank, c.clique.nranks, c.device)
}

// checkComm converts a backends.Comm to a live *Comm owned by b.
func (b *Backend) checkComm(comm backends.Comm) (*Comm, error) {
	c, ok := comm.(*Comm)
	if !ok || c == nil {
		return nil, backends.Errorf(backends.StatusInvalidArgument, "communicator %v is not a %q communicator", comm, BackendName)
	}
	if c.backend != b {
		return nil, backends.Errorf(backends.StatusInvalidArgument, "communicator %s belongs to another backend", c)
	}
	if c.destroyed.Load() {
		return nil, backends.Errorf(backends.StatusInvalidArgument, "communicator %s was destroyed", c)
	}
	return c, nil
}

// clique is the shared state of all ranks of a communicator.
type clique struct {
	id      backends.UniqueID
	nranks  int
	workers *workerspool.Pool

	mu     sync.Mutex
	joined sets.Set[int]
	rounds map[int64]*round
}

func newClique(id backends.UniqueID, nranks int, workers *workerspool.Pool) *clique {
	return &clique{
		id:      id,
		nranks:  nranks,
		workers: workers,
		joined:  sets.Make[int](nranks),
		rounds:  make(map[int64]*round),
	}
}

// join registers a rank.
func (c *clique) join(rank, nranks int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if nranks != c.nranks {
		return backends.Errorf(backends.StatusInvalidArgument,
			"clique %s was created with %d ranks, rank %d asked for %d", c.id, c.nranks, rank, nranks)
	}
	if !c.joined.Insert(rank) {
		return backends.Errorf(backends.StatusInvalidArgument, "rank %d already joined clique %s", rank, c.id)
	}
	return nil
}

// leave unregisters a rank, and returns whether the clique is now empty.
func (c *clique) leave(rank int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joined.Remove(rank)
	return c.joined.Len() == 0
}

type opKind int

const (
	opBroadcast opKind = iota + 1
	opAllReduce
)

// collective describes an operation: all ranks must issue the same one for the same sequence number.
type collective struct {
	kind     opKind
	count    int
	dtype    backends.DataType
	root     int
	reduceOp backends.ReduceOpType
}

func (op collective) String() string {
	switch op.kind {
	case opBroadcast:
		return fmt.Sprintf("Broadcast(count=%d, dtype=%s, root=%d)", op.count, op.dtype, op.root)
	case opAllReduce:
		return fmt.Sprintf("AllReduce(count=%d, dtype=%s, op=%s)", op.count, op.dtype, op.reduceOp)
	default:
		return "<aborted>"
	}
}

// arrival is the contribution of one rank to a round.
type arrival struct {
	rank       int
	op         collective
	send, recv []byte

	// abortErr is set if the rank's stream had already failed: the round fails for every rank.
	abortErr error
}

// round is one collective operation of the clique, identified by its sequence number.
type round struct {
	op       collective
	arrivals []*arrival
	arrived  int
	done     *xsync.LatchWithValue[error]
}

// rendezvous blocks until every rank arrived for the collective seq, and the data was moved, or until
// timeout. The last rank to arrive executes the data movement for all of them.
func (c *clique) rendezvous(seq int64, a *arrival, timeout time.Duration) error {
	c.mu.Lock()
	r, found := c.rounds[seq]
	if !found {
		r = &round{
			op:       a.op,
			arrivals: make([]*arrival, c.nranks),
			done:     xsync.NewLatchWithValue[error](),
		}
		c.rounds[seq] = r
	}
	r.arrivals[a.rank] = a
	r.arrived++
	if r.arrived == c.nranks {
		delete(c.rounds, seq)
	}
	if !r.done.Test() {
		switch {
		case a.abortErr != nil:
			r.done.Trigger(backends.Errorf(backends.StatusTransfer,
				"rank %d aborted collective #%d of clique %s: %v", a.rank, seq, c.id, a.abortErr))
		case a.op != r.op:
			r.done.Trigger(backends.Errorf(backends.StatusInvalidArgument,
				"collective #%d of clique %s mismatch: rank %d issued %s, expected %s", seq, c.id, a.rank, a.op, r.op))
		case r.arrived == c.nranks:
			r.done.Trigger(r.execute(c.workers))
		}
	}
	c.mu.Unlock()

	if err, ok := r.done.WaitTimeout(timeout); ok {
		return err
	}
	c.mu.Lock()
	if !r.done.Test() {
		r.done.Trigger(backends.Errorf(backends.StatusTimeout,
			"collective #%d %s of clique %s timed out after %s with %d of %d ranks",
			seq, r.op, c.id, timeout, r.arrived, c.nranks))
	}
	c.mu.Unlock()
	return r.done.Wait()
}

// minReduceChunk is the minimum number of elements reduced by one worker.
const minReduceChunk = 64 * 1024

// execute moves the data once all ranks arrived.
func (r *round) execute(workers *workerspool.Pool) error {
	numBytes := r.op.count * r.op.dtype.Size()
	switch r.op.kind {
	case opBroadcast:
		src := r.arrivals[r.op.root].send[:numBytes]
		for rank, a := range r.arrivals {
			if rank != r.op.root {
				copy(a.recv[:numBytes], src)
			}
		}
		return nil
	case opAllReduce:
		reduce, err := reducerFor(r.op.dtype, r.op.reduceOp)
		if err != nil {
			return err
		}
		// Reduce into a temporary buffer first: send and recv buffers may be the same.
		result := make([]byte, numBytes)
		elementSize := r.op.dtype.Size()
		workers.ForChunks(r.op.count, minReduceChunk, func(start, end int) {
			from, to := start*elementSize, end*elementSize
			sends := make([][]byte, len(r.arrivals))
			for rank, a := range r.arrivals {
				sends[rank] = a.send[from:to]
			}
			reduce(result[from:to], sends, end-start)
		})
		for _, a := range r.arrivals {
			copy(a.recv[:numBytes], result)
		}
		return nil
	default:
		return backends.Errorf(backends.StatusInternal, "unknown collective %s", r.op)
	}
}
