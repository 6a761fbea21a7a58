package ops

import (
	"github.com/gomlx/collective/backends"
	"github.com/gomlx/collective/pkg/collective/comm"
	"github.com/gomlx/collective/pkg/collective/group"
	"github.com/gomlx/collective/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Request is a point-to-point transfer to be resolved.
type Request struct {
	Ctx *ExecutionContext

	// RingID identifies either a communication group or a ring of the communicator registry.
	RingID int

	// Tensor to send, or to receive into.
	Tensor   *tensors.Tensor
	DataType backends.DataType

	// Peer is the rank of the other party in the ring, and GroupPeer its rank when delegating to
	// a communication group.
	Peer, GroupPeer int

	// UseComputeStream selects the device's compute stream instead of the communicator's own stream.
	UseComputeStream bool
}

// Resolver is one way of resolving a ring id to something that can do the transfer.
//
// TrySend and TryRecv return handled=false if the resolver doesn't know the ring id, in which case
// the next resolver is tried.
type Resolver interface {
	Name() string
	TrySend(req *Request) (handled bool, err error)
	TryRecv(req *Request) (handled bool, err error)
}

// GroupResolver resolves ring ids registered as communication groups, and delegates the transfers to them.
//
// Tasks returned by the groups are not waited for: their completion is ordered by the group.
type GroupResolver struct {
	Groups *group.Registry
}

var _ Resolver = &GroupResolver{}

// Name implements Resolver.
func (r *GroupResolver) Name() string { return "group" }

// TrySend implements Resolver.
func (r *GroupResolver) TrySend(req *Request) (bool, error) {
	return r.try(req, "send", group.Group.Send)
}

// TryRecv implements Resolver.
func (r *GroupResolver) TryRecv(req *Request) (bool, error) {
	return r.try(req, "recv", group.Group.Recv)
}

func (r *GroupResolver) try(req *Request, name string,
	opFn func(g group.Group, ts []*tensors.Tensor, peer int) (group.Task, error)) (bool, error) {
	if r.Groups == nil || !r.Groups.Has(req.RingID) {
		return false, nil
	}
	g, err := r.Groups.Get(req.RingID)
	if err != nil {
		return true, categorize(ErrPreconditionNotMet, err)
	}
	klog.V(3).Infof("%s delegated to communication group %d, peer %d", name, req.RingID, req.GroupPeer)
	if _, err := opFn(g, []*tensors.Tensor{req.Tensor}, req.GroupPeer); err != nil {
		return true, categorize(ErrTransport, errors.WithMessagef(err, "%s on communication group %d", name, req.RingID))
	}
	return true, nil
}

// LegacyResolver resolves ring ids with the communicator registry, and implements the transfers as a
// broadcast on the ring's communicator, which must have exactly 2 ranks.
//
// It handles every ring id, so it should be the last resolver.
type LegacyResolver struct {
	Backend backends.Backend
	Comms   *comm.Registry
}

var _ Resolver = &LegacyResolver{}

// Name implements Resolver.
func (r *LegacyResolver) Name() string { return "legacy" }

// TrySend implements Resolver: the sender is the root of the broadcast.
func (r *LegacyResolver) TrySend(req *Request) (bool, error) {
	return true, r.broadcast(req, "send", func(c *comm.Communicator) int { return c.Rank })
}

// TryRecv implements Resolver: the peer is the root of the broadcast.
func (r *LegacyResolver) TryRecv(req *Request) (bool, error) {
	return true, r.broadcast(req, "recv", func(*comm.Communicator) int { return req.Peer })
}

func (r *LegacyResolver) broadcast(req *Request, name string, rootFn func(c *comm.Communicator) int) error {
	if r.Comms == nil {
		return categoryf(ErrPreconditionNotMet, "no communicator registry")
	}
	c, err := r.Comms.Get(req.RingID, req.Ctx.Device)
	if err != nil {
		return categorize(ErrPreconditionNotMet, err)
	}
	if c.NRanks != 2 {
		return categoryf(ErrInvalidArgument, "The nranks must be 2, but (%d)", c.NRanks)
	}
	root := rootFn(c)
	if root < 0 || root >= c.NRanks {
		return categoryf(ErrInvalidArgument, "%s peer %d out of range for %s", name, root, c)
	}
	stream, err := SelectStream(req.Ctx, req.UseComputeStream, c)
	if err != nil {
		return err
	}
	tr, err := newTransfer(req.Tensor, req.DataType, stream, root)
	if err != nil {
		return err
	}
	klog.V(3).Infof("begin %s, parameter is: root %d, comm: %s, stream: %v, %s", name, root, c, stream, tr)
	return tr.Broadcast(r.Backend, c.Comm)
}
