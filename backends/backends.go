// Package backends defines the interface a collective communication library needs to implement to be used by
// the collective operators: communicators over a set of devices, ordered streams, and the collective primitives
// (broadcast, all-reduce) enqueued on those streams.
//
// It follows the model of accelerator collective libraries (NCCL/HCCL like): calls are "blocking-enqueue",
// meaning they validate the arguments and enqueue the operation on a stream synchronously, returning a Status,
// while the actual data movement happens asynchronously in stream order.
//
// There is no native point-to-point send/receive: see package ops for how those are built on top of Broadcast.
package backends

import (
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// DeviceNum represents which device holds a buffer, or should execute a computation.
// It's up to the backend to interpret it, but it should be between 0 and Backend.NumDevices.
type DeviceNum int

// Backend is the API that needs to be implemented by a collective communication backend.
type Backend interface {
	// Name returns the short name of the backend. E.g.: "loopback" for the in-process backend.
	Name() string

	// Description is a longer description of the Backend that can be used to pretty-print.
	Description() string

	// NumDevices return the number of devices available for this Backend.
	NumDevices() int

	// NewUniqueID creates a new unique identifier to be shared (out-of-band) by all ranks
	// of a communicator, before calling CommInitRank.
	NewUniqueID() (UniqueID, Status)

	// CommInitRank creates the communicator for rank (0 <= rank < nranks) of the clique identified by id,
	// bound to the given device.
	CommInitRank(id UniqueID, nranks, rank int, device DeviceNum) (Comm, Status)

	// CommDestroy releases the communicator. It should not be used afterward.
	CommDestroy(comm Comm) Status

	// NewStream creates a new ordered stream (command queue) on the given device.
	NewStream(device DeviceNum) (Stream, Status)

	// CollectiveOps is the sub-interface with the collective primitives.
	CollectiveOps

	// Finalize releases all the associated resources immediately, and makes the backend invalid.
	Finalize()
}

// Constructor takes a config string (optionally empty) and returns a Backend.
type Constructor func(config string) Backend

var (
	muRegistry             sync.Mutex
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register backend with the given name, and a default constructor that takes as input a configuration string that is
// passed along to the backend constructor.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// List returns the sorted names of the registered backends.
//
// It is empty if the binary was built without any backend, e.g. with the "nocollective" build tag.
func List() []string {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	names := make([]string, 0, len(registeredConstructors))
	for name := range registeredConstructors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DefaultConfig is the name of the default backend configuration to use if specified.
//
// See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// GOMLX_COLLECTIVE is the environment variable with the default backend configuration to use.
//
// The format of config is "<backend_name>:<backend_configuration>".
// The "<backend_name>" is the name of a registered backend (e.g.: "loopback") and
// "<backend_configuration>" is backend specific (e.g.: for loopback, "devices=4,timeout=10s").
const GOMLX_COLLECTIVE = "GOMLX_COLLECTIVE"

// New returns a new default Backend.
//
// The default is:
//
// 1. The environment GOMLX_COLLECTIVE is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered backend is used with an empty configuration.
//
// It panics if no backend was registered.
func New() Backend {
	config, found := os.LookupEnv(GOMLX_COLLECTIVE)
	if found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// NewWithConfig takes a configurations string formated as
//
// The format of config is "<backend_name>:<backend_configuration>".
// The "<backend_name>" is the name of a registered backend (e.g.: "loopback") and
// "<backend_configuration>" is backend specific.
//
// It panics if the backend is not registered.
func NewWithConfig(config string) Backend {
	muRegistry.Lock()
	if len(registeredConstructors) == 0 {
		muRegistry.Unlock()
		exceptions.Panicf(`no registered collective backends -- maybe import the default one with import _ "github.com/gomlx/collective/backends/default"?`)
	}
	backendName := firstRegistered
	backendConfig := config
	if idx := strings.Index(config, ":"); idx != -1 {
		backendName = config[:idx]
		backendConfig = config[idx+1:]
	} else if _, isName := registeredConstructors[config]; isName {
		backendName = config
		backendConfig = ""
	}
	constructor, found := registeredConstructors[backendName]
	muRegistry.Unlock()
	if !found {
		exceptions.Panicf("can't find collective backend %q for configuration %q given", backendName, config)
	}
	return constructor(backendConfig)
}

// TryNew is like New, but returns an error instead of panicking.
func TryNew() (backend Backend, err error) {
	err = exceptions.TryCatch[error](func() { backend = New() })
	if err != nil {
		return nil, errors.WithMessage(err, "backends.New() failed")
	}
	return backend, nil
}
