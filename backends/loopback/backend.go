// Package loopback implements an in-process collective backend: every "device" is simulated inside the
// current process, streams are goroutines draining a FIFO queue, and collectives are rendezvous between the
// streams of the ranks of a communicator.
//
// It is meant for testing and for running multi-device programs on a single host.
//
// Simply import it with import _ "github.com/gomlx/collective/backends/loopback" to make it available in
// your program. It will register itself as an available backend during initialization.
//
// Configuration options, comma separated, given after the backend name (e.g. "loopback:devices=2,timeout=5s"):
//
//   - devices=N: number of simulated devices. Default is DefaultNumDevices.
//   - timeout=<duration>: how long a rank waits for the other ranks of a collective before failing the
//     stream with backends.StatusTimeout. Default is DefaultTimeout.
//   - parallelism=N: maximum number of goroutines used to reduce large buffers in an all-reduce.
//     0 disables it, -1 means unlimited. Default is DefaultParallelism.
package loopback

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gomlx/collective/backends"
	"github.com/gomlx/collective/internal/workerspool"
	"github.com/gomlx/collective/pkg/support/sets"
	"github.com/gomlx/exceptions"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"k8s.io/klog/v2"
)

// BackendName to be used in GOMLX_COLLECTIVE to specify this backend.
const BackendName = "loopback"

// DefaultNumDevices is the number of simulated devices if not configured otherwise.
const DefaultNumDevices = 8

// DefaultTimeout for a collective rendezvous, if not configured otherwise.
var DefaultTimeout = 30 * time.Second

// DefaultParallelism used for reductions, if not configured otherwise.
var DefaultParallelism = runtime.NumCPU()

// Registers New() as the default constructor for the "loopback" backend.
func init() {
	backends.Register(BackendName, New)
}

// Config of a loopback Backend.
type Config struct {
	NumDevices  int
	Timeout     time.Duration
	Parallelism int
}

// ParseConfig parses the backend configuration string. An empty string yields the defaults.
func ParseConfig(config string) (Config, error) {
	cfg := Config{NumDevices: DefaultNumDevices, Timeout: DefaultTimeout, Parallelism: DefaultParallelism}
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, "=")
		if !found {
			return cfg, errors.Errorf("invalid %q backend option %q, expected \"key=value\"", BackendName, part)
		}
		switch key {
		case "devices":
			n, err := strconv.Atoi(value)
			if err != nil {
				return cfg, errors.Wrapf(err, "invalid %q backend option %q", BackendName, part)
			}
			if n <= 0 {
				return cfg, errors.Errorf("invalid %q backend option %q: number of devices must be > 0", BackendName, part)
			}
			cfg.NumDevices = n
		case "timeout":
			d, err := time.ParseDuration(value)
			if err != nil {
				return cfg, errors.Wrapf(err, "invalid %q backend option %q", BackendName, part)
			}
			if d <= 0 {
				return cfg, errors.Errorf("invalid %q backend option %q: timeout must be > 0", BackendName, part)
			}
			cfg.Timeout = d
		case "parallelism":
			n, err := strconv.Atoi(value)
			if err != nil {
				return cfg, errors.Wrapf(err, "invalid %q backend option %q", BackendName, part)
			}
			if n < -1 {
				return cfg, errors.Errorf("invalid %q backend option %q: parallelism must be >= -1", BackendName, part)
			}
			cfg.Parallelism = n
		default:
			return cfg, errors.Errorf("unknown %q backend option %q", BackendName, key)
		}
	}
	return cfg, nil
}

// New constructs a new loopback Backend from a configuration string. See package documentation for the options.
//
// It panics if the configuration is invalid.
func New(config string) backends.Backend {
	cfg, err := ParseConfig(config)
	if err != nil {
		panic(errors.WithMessagef(err, "backend %q:", BackendName))
	}
	return NewWithConfig(cfg)
}

// NewWithConfig creates a new loopback Backend with the given configuration.
func NewWithConfig(cfg Config) *Backend {
	if cfg.NumDevices <= 0 {
		exceptions.Panicf("backend %q: invalid number of devices %d", BackendName, cfg.NumDevices)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	klog.V(1).Infof("%s backend created with %d devices, timeout %s", BackendName, cfg.NumDevices, cfg.Timeout)
	return &Backend{
		cfg:     cfg,
		workers: workerspool.NewWithParallelism(cfg.Parallelism),
		cliques: make(map[backends.UniqueID]*clique),
		comms:   sets.Make[*Comm](),
	}
}

// Backend implements the backends.Backend interface.
type Backend struct {
	cfg     Config
	workers *workerspool.Pool

	mu        sync.Mutex
	finalized bool
	cliques   map[backends.UniqueID]*clique
	comms     sets.Set[*Comm]
	streams   []*Stream
}

// Compile-time check that loopback.Backend implements backends.Backend.
var _ backends.Backend = &Backend{}

// Name returns the short name of the backend.
func (b *Backend) Name() string {
	return BackendName
}

// String implements fmt.Stringer.
func (b *Backend) String() string { return BackendName }

// Description is a longer description of the Backend that can be used to pretty-print.
func (b *Backend) Description() string {
	return fmt.Sprintf("In-process loopback collective backend (%d devices)", b.cfg.NumDevices)
}

// NumDevices return the number of simulated devices.
func (b *Backend) NumDevices() int {
	return b.cfg.NumDevices
}

// Timeout returns the configured rendezvous timeout.
func (b *Backend) Timeout() time.Duration {
	return b.cfg.Timeout
}

func (b *Backend) checkDevice(device backends.DeviceNum) error {
	if device < 0 || int(device) >= b.cfg.NumDevices {
		return backends.Errorf(backends.StatusInvalidArgument, "device %d out of range, backend %q has %d devices",
			device, BackendName, b.cfg.NumDevices)
	}
	return nil
}

// NewUniqueID implements backends.Backend.
func (b *Backend) NewUniqueID() (backends.UniqueID, backends.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finalized {
		return uuid.Nil, backends.StatusUnavailable
	}
	return uuid.New(), backends.StatusSuccess
}

// CommInitRank implements backends.Backend.
//
// The first rank to join a clique id defines its number of ranks; the other ranks must agree on it, and each
// rank can only join once.
func (b *Backend) CommInitRank(id backends.UniqueID, nranks, rank int, device backends.DeviceNum) (backends.Comm, backends.Status) {
	comm, err := b.commInitRank(id, nranks, rank, device)
	if err != nil {
		klog.Warningf("%s: CommInitRank(rank=%d/%d, device=%d) failed: %+v", BackendName, rank, nranks, device, err)
		return nil, backends.StatusOf(err)
	}
	klog.V(1).Infof("%s: created communicator %s", BackendName, comm)
	return comm, backends.StatusSuccess
}

func (b *Backend) commInitRank(id backends.UniqueID, nranks, rank int, device backends.DeviceNum) (*Comm, error) {
	if err := b.checkDevice(device); err != nil {
		return nil, err
	}
	if nranks <= 0 || rank < 0 || rank >= nranks {
		return nil, backends.Errorf(backends.StatusInvalidArgument, "invalid rank %d for a communicator of %d ranks", rank, nranks)
	}
	if id == uuid.Nil {
		return nil, backends.Errorf(backends.StatusInvalidArgument, "nil communicator unique id")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finalized {
		return nil, backends.Errorf(backends.StatusUnavailable, "backend finalized")
	}
	c, found := b.cliques[id]
	if !found {
		c = newClique(id, nranks, b.workers)
		b.cliques[id] = c
	}
	if err := c.join(rank, nranks); err != nil {
		return nil, err
	}
	comm := &Comm{backend: b, clique: c, rank: rank, device: device}
	b.comms.Insert(comm)
	return comm, nil
}

// CommDestroy implements backends.Backend.
func (b *Backend) CommDestroy(comm backends.Comm) backends.Status {
	c, ok := comm.(*Comm)
	if !ok || c.backend != b {
		return backends.StatusInvalidArgument
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.comms.Remove(c) {
		return backends.StatusNotFound
	}
	c.destroyed.Store(true)
	if c.clique.leave(c.rank) {
		delete(b.cliques, c.clique.id)
	}
	klog.V(1).Infof("%s: destroyed communicator %s", BackendName, c)
	return backends.StatusSuccess
}

// NewStream implements backends.Backend.
func (b *Backend) NewStream(device backends.DeviceNum) (backends.Stream, backends.Status) {
	if err := b.checkDevice(device); err != nil {
		return nil, backends.StatusOf(err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finalized {
		return nil, backends.StatusUnavailable
	}
	s := newStream(b, device, len(b.streams))
	b.streams = append(b.streams, s)
	return s, backends.StatusSuccess
}

// Shutdown drains and stops every stream, releases every communicator and makes the backend invalid.
// It returns the combined sticky errors of the streams.
func (b *Backend) Shutdown() error {
	b.mu.Lock()
	if b.finalized {
		b.mu.Unlock()
		return nil
	}
	b.finalized = true
	streams := b.streams
	b.streams = nil
	for c := range b.comms {
		c.destroyed.Store(true)
	}
	b.comms = sets.Make[*Comm]()
	b.cliques = make(map[backends.UniqueID]*clique)
	b.mu.Unlock()

	var err error
	for _, s := range streams {
		err = multierr.Append(err, errors.WithMessagef(s.close(), "stream %s", s))
	}
	klog.V(1).Infof("%s backend finalized (%d streams)", BackendName, len(streams))
	return err
}

// Finalize releases all the associated resources immediately, and makes the backend invalid.
// Stream errors found during the shutdown are logged.
func (b *Backend) Finalize() {
	if err := b.Shutdown(); err != nil {
		for _, e := range multierr.Errors(err) {
			klog.Warningf("%s backend finalize: %v", BackendName, e)
		}
	}
}

func (b *Backend) isFinalized() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.finalized
}
