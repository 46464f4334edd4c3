package engine

import (
	"sync"

	"github.com/google/uuid"
)

// Resource is anything the resource cache can hold: loaded models,
// textures, shader bundles. IDs are stable across renames; names are a
// human-facing secondary index.
type Resource interface {
	ID() uuid.UUID
	Name() string
}

// Resources caches resources by id with a name lookup. Safe for
// concurrent use. It implements Module so it can register under
// StageNever and release everything on engine shutdown.
type Resources struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]Resource
	byName map[string]uuid.UUID
}

func NewResources() *Resources {
	return &Resources{
		byID:   make(map[uuid.UUID]Resource),
		byName: make(map[string]uuid.UUID),
	}
}

func (r *Resources) Initialize() error { return nil }
func (r *Resources) Update() error     { return nil }

func (r *Resources) Shutdown() {
	r.Clear()
}

// Add stores a resource, replacing any previous entry under the same id
// or name.
func (r *Resources) Add(res Resource) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byID[res.ID()]; ok && old.Name() != res.Name() {
		delete(r.byName, old.Name())
	}
	r.byID[res.ID()] = res
	if res.Name() != "" {
		r.byName[res.Name()] = res.ID()
	}
}

// ByID returns the resource stored under id.
func (r *Resources) ByID(id uuid.UUID) (Resource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.byID[id]
	return res, ok
}

// ByName returns the resource stored under name.
func (r *Resources) ByName(name string) (Resource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	res, ok := r.byID[id]
	return res, ok
}

// Remove drops a resource by id.
func (r *Resources) Remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res, ok := r.byID[id]; ok {
		delete(r.byName, res.Name())
		delete(r.byID, id)
	}
}

func (r *Resources) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Clear drops every resource.
func (r *Resources) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID = make(map[uuid.UUID]Resource)
	r.byName = make(map[string]uuid.UUID)
}
