package group

import (
	"slices"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"k8s.io/klog/v2"
)

// Registry maps group ids to groups. Groups are inserted once, and then only looked up: it is safe
// for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	groups map[int]Group
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{groups: make(map[int]Group)}
}

// Has returns whether a group with the id is registered.
func (r *Registry) Has(id int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, found := r.groups[id]
	return found
}

// Get returns the group with the id.
func (r *Registry) Get(id int) (Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, found := r.groups[id]
	if !found {
		return nil, errors.Errorf("communication group %d not found", id)
	}
	return g, nil
}

// Insert registers the group under its ID. A group id can only be registered once.
func (r *Registry) Insert(g Group) error {
	if g == nil {
		return errors.New("cannot register a nil communication group")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, found := r.groups[g.ID()]; found {
		return errors.Errorf("communication group %d already registered", g.ID())
	}
	r.groups[g.ID()] = g
	klog.V(1).Infof("registered communication group %d (rank %d of %d)", g.ID(), g.Rank(), g.Size())
	return nil
}

// Ids returns the sorted ids of the registered groups.
func (r *Registry) Ids() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := lo.Keys(r.groups)
	slices.Sort(ids)
	return ids
}

// Finalize closes every registered group that implements Close() error, and empties the registry.
func (r *Registry) Finalize() error {
	r.mu.Lock()
	groups := r.groups
	r.groups = make(map[int]Group)
	r.mu.Unlock()

	var err error
	for id, g := range groups {
		if closer, ok := g.(interface{ Close() error }); ok {
			err = multierr.Append(err, errors.WithMessagef(closer.Close(), "communication group %d", id))
		}
	}
	return err
}
