package upstream

import (
	"fmt"
	"sync"

	"github.com/tbury/scatter/internal/search"
)

// GroupInfo pairs a group name with its replica count for API responses.
type GroupInfo struct {
	Name     string `json:"name"`
	Replicas int    `json:"replicas"`
}

// Registry holds registered replica groups and resolves them into the
// branches of a query. Groups keep their registration order so that queries
// fan out to branches deterministically.
type Registry struct {
	mu     sync.RWMutex
	groups map[string][]search.ReplicaFunc
	order  []string
}

// NewRegistry creates an empty replica group registry.
func NewRegistry() *Registry {
	return &Registry{
		groups: make(map[string][]search.ReplicaFunc),
	}
}

// Register adds a replica group under the given name. Registering the same
// name again replaces the group's replicas but keeps its original position.
func (r *Registry) Register(name string, replicas ...search.ReplicaFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.groups[name]; !ok {
		r.order = append(r.order, name)
	}
	r.groups[name] = replicas
}

// Resolve returns the named group as a search branch.
func (r *Registry) Resolve(name string) (search.Branch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	replicas, ok := r.groups[name]
	if !ok {
		return search.Branch{}, fmt.Errorf("upstream group %q is not registered", name)
	}
	return search.Branch{Name: name, Replicas: replicas}, nil
}

// Branches resolves the named groups into query branches, in the order
// given. With no names, every registered group is returned in registration
// order.
func (r *Registry) Branches(names ...string) ([]search.Branch, error) {
	if len(names) == 0 {
		r.mu.RLock()
		names = append([]string(nil), r.order...)
		r.mu.RUnlock()
	}

	branches := make([]search.Branch, 0, len(names))
	for _, name := range names {
		b, err := r.Resolve(name)
		if err != nil {
			return nil, err
		}
		branches = append(branches, b)
	}
	return branches, nil
}

// List returns information about all registered groups in registration
// order, for a stable API response.
func (r *Registry) List() []GroupInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]GroupInfo, 0, len(r.order))
	for _, name := range r.order {
		infos = append(infos, GroupInfo{
			Name:     name,
			Replicas: len(r.groups[name]),
		})
	}
	return infos
}
