// Package group implements communication groups: a fixed set of ranks that can exchange tensors with
// point-to-point (Send/Recv) and collective (Broadcast/AllReduce) operations, addressed by rank.
//
// Groups are registered by id in a Registry, which is how operators find them.
package group

import (
	"github.com/gomlx/collective/backends"
	"github.com/gomlx/collective/pkg/core/tensors"
	"github.com/gomlx/collective/pkg/support/xsync"
)

// Task is the handle of an asynchronous group operation.
type Task interface {
	// Wait blocks until the operation completes, and returns its error.
	Wait() error

	// IsCompleted returns whether the operation completed, without blocking.
	IsCompleted() bool
}

// Group is a communication group, seen from one of its members.
//
// Membership is immutable after creation.
type Group interface {
	// ID of the group in the Registry.
	ID() int

	// Rank of this member in the group.
	Rank() int

	// Size is the number of members.
	Size() int

	// Ranks returns the ranks of all members.
	Ranks() []int

	// Send the tensors to the peer rank, which must issue a matching Recv.
	Send(tensors []*tensors.Tensor, peer int) (Task, error)

	// Recv receives into the tensors the contents sent by the peer rank.
	Recv(tensors []*tensors.Tensor, peer int) (Task, error)

	// Broadcast the tensors from the root rank to every other member, in-place.
	Broadcast(tensors []*tensors.Tensor, root int) (Task, error)

	// AllReduce reduces the tensors of every member, in-place.
	AllReduce(tensors []*tensors.Tensor, op backends.ReduceOpType) (Task, error)
}

// PendingTask is a Task completed explicitly with Complete.
type PendingTask struct {
	done *xsync.LatchWithValue[error]
}

var _ Task = &PendingTask{}

// NewTask returns a new PendingTask, not yet completed.
func NewTask() *PendingTask {
	return &PendingTask{done: xsync.NewLatchWithValue[error]()}
}

// CompletedTask returns a task already completed with err.
func CompletedTask(err error) *PendingTask {
	t := NewTask()
	t.Complete(err)
	return t
}

// Complete the task with the given error (nil for success). Only the first call has an effect.
func (t *PendingTask) Complete(err error) {
	t.done.Trigger(err)
}

// Wait implements Task.
func (t *PendingTask) Wait() error {
	return t.done.Wait()
}

// IsCompleted implements Task.
func (t *PendingTask) IsCompleted() bool {
	return t.done.Test()
}
