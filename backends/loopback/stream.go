package loopback

import (
	"fmt"
	"sync"

	"github.com/gomlx/collective/backends"
	"github.com/gomlx/collective/pkg/support/xsync"
)

// streamTask is executed by the stream goroutine. It receives the sticky error of the stream (nil if none)
// and returns the error of its own execution.
type streamTask func(stickyErr error) error

// Stream implements backends.Stream with a goroutine draining a FIFO queue of tasks.
//
// Tasks execute in enqueue order. After the first task error, the error becomes sticky: later collectives
// are aborted (the other ranks are told so), and host functions receive the sticky error.
type Stream struct {
	backend *Backend
	device  backends.DeviceNum
	id      int

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []streamTask
	closed  bool
	err     error
	pending *xsync.DynamicWaitGroup
	stopped *xsync.Latch
}

var _ backends.Stream = &Stream{}

func newStream(b *Backend, device backends.DeviceNum, id int) *Stream {
	s := &Stream{
		backend: b,
		device:  device,
		id:      id,
		pending: xsync.NewDynamicWaitGroup(),
		stopped: xsync.NewLatch(),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.run()
	return s
}

// String implements fmt.Stringer.
func (s *Stream) String() string {
	return fmt.Sprintf("stream#%d(device=%d)", s.id, s.device)
}

// Device implements backends.Stream.
func (s *Stream) Device() backends.DeviceNum { return s.device }

// enqueue adds the task to the end of the queue.
func (s *Stream) enqueue(task streamTask) backends.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return backends.StatusUnavailable
	}
	s.pending.Add(1)
	s.queue = append(s.queue, task)
	s.cond.Signal()
	return backends.StatusSuccess
}

// run is the stream executor loop. It exits once the stream is closed and the queue is drained.
func (s *Stream) run() {
	defer s.stopped.Trigger()
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		task := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		stickyErr := s.err
		s.mu.Unlock()

		if err := task(stickyErr); err != nil {
			s.mu.Lock()
			if s.err == nil {
				s.err = err
			}
			s.mu.Unlock()
		}
		s.pending.Done()
	}
}

// Err returns the sticky error of the stream, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Synchronize implements backends.Stream.
func (s *Stream) Synchronize() error {
	s.pending.Wait()
	return s.Err()
}

// LaunchHostFunc implements backends.Stream.
func (s *Stream) LaunchHostFunc(fn func(err error)) backends.Status {
	if fn == nil {
		return backends.StatusInvalidArgument
	}
	return s.enqueue(func(stickyErr error) error {
		fn(stickyErr)
		return nil
	})
}

// close stops accepting new tasks, waits for the queued ones and returns the sticky error.
func (s *Stream) close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.stopped.Wait()
		return s.Err()
	}
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	s.stopped.Wait()
	return s.Err()
}

// checkStream converts a backends.Stream to a *Stream owned by b.
func (b *Backend) checkStream(stream backends.Stream) (*Stream, error) {
	s, ok := stream.(*Stream)
	if !ok || s == nil {
		return nil, backends.Errorf(backends.StatusInvalidArgument, "stream %v is not a %q stream", stream, BackendName)
	}
	if s.backend != b {
		return nil, backends.Errorf(backends.StatusInvalidArgument, "stream %s belongs to another backend", s)
	}
	return s, nil
}
