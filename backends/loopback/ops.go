package loopback

import (
	"github.com/dustin/go-humanize"
	"github.com/gomlx/collective/backends"
	"k8s.io/klog/v2"
)

// Broadcast implements backends.CollectiveOps.
func (b *Backend) Broadcast(buffer []byte, count int, dtype backends.DataType, root int, comm backends.Comm, stream backends.Stream) backends.Status {
	op := collective{kind: opBroadcast, count: count, dtype: dtype, root: root}
	return b.enqueueCollective(op, buffer, buffer, comm, stream)
}

// AllReduce implements backends.CollectiveOps.
func (b *Backend) AllReduce(sendBuffer, recvBuffer []byte, count int, dtype backends.DataType, reduceOp backends.ReduceOpType,
	comm backends.Comm, stream backends.Stream) backends.Status {
	op := collective{kind: opAllReduce, count: count, dtype: dtype, reduceOp: reduceOp}
	return b.enqueueCollective(op, sendBuffer, recvBuffer, comm, stream)
}

// enqueueCollective validates the call synchronously and enqueues the rendezvous on the stream.
func (b *Backend) enqueueCollective(op collective, send, recv []byte, comm backends.Comm, stream backends.Stream) backends.Status {
	c, s, err := b.validateCollective(op, send, recv, comm, stream)
	if err != nil {
		klog.V(2).Infof("%s: %s rejected: %v", BackendName, op, err)
		return backends.StatusOf(err)
	}
	timeout := b.cfg.Timeout

	// Sequence numbers must follow the stream order.
	c.enqueueMu.Lock()
	defer c.enqueueMu.Unlock()
	seq := c.seq
	status := s.enqueue(func(stickyErr error) error {
		a := &arrival{rank: c.rank, op: op, send: send, recv: recv, abortErr: stickyErr}
		return c.clique.rendezvous(seq, a, timeout)
	})
	if status.Ok() {
		c.seq++
		if klog.V(3).Enabled() {
			klog.Infof("%s: enqueued #%d %s (%s) on %s, %s", BackendName, seq, op,
				humanize.Bytes(uint64(op.count*op.dtype.Size())), s, c)
		}
	}
	return status
}

func (b *Backend) validateCollective(op collective, send, recv []byte, comm backends.Comm, stream backends.Stream) (*Comm, *Stream, error) {
	if b.isFinalized() {
		return nil, nil, backends.Errorf(backends.StatusUnavailable, "backend finalized")
	}
	c, err := b.checkComm(comm)
	if err != nil {
		return nil, nil, err
	}
	s, err := b.checkStream(stream)
	if err != nil {
		return nil, nil, err
	}
	if s.device != c.device {
		return nil, nil, backends.Errorf(backends.StatusInvalidArgument,
			"stream %s and communicator %s are on different devices", s, c)
	}
	if !op.dtype.IsValid() {
		return nil, nil, backends.Errorf(backends.StatusInvalidArgument, "invalid data type %s", op.dtype)
	}
	if op.count < 0 {
		return nil, nil, backends.Errorf(backends.StatusInvalidArgument, "invalid count %d", op.count)
	}
	numBytes := op.count * op.dtype.Size()
	if len(send) < numBytes || len(recv) < numBytes {
		return nil, nil, backends.Errorf(backends.StatusInvalidBuffer,
			"buffers of %d and %d bytes too small for %d elements of %s", len(send), len(recv), op.count, op.dtype)
	}
	switch op.kind {
	case opBroadcast:
		if op.root < 0 || op.root >= c.NRanks() {
			return nil, nil, backends.Errorf(backends.StatusInvalidArgument,
				"root %d out of range for communicator of %d ranks", op.root, c.NRanks())
		}
	case opAllReduce:
		if op.reduceOp < backends.ReduceOpSum || op.reduceOp > backends.ReduceOpMin {
			return nil, nil, backends.Errorf(backends.StatusInvalidArgument, "invalid reduce operation %s", op.reduceOp)
		}
	}
	return c, s, nil
}
