package engine

import (
	"sync"
	"testing"

	"github.com/google/uuid"
)

type testResource struct {
	id   uuid.UUID
	name string
}

func (r *testResource) ID() uuid.UUID { return r.id }
func (r *testResource) Name() string  { return r.name }

func newTestResource(name string) *testResource {
	return &testResource{id: uuid.New(), name: name}
}

func TestResourcesLookup(t *testing.T) {
	res := NewResources()
	mesh := newTestResource("cube.mesh")
	res.Add(mesh)

	got, ok := res.ByID(mesh.id)
	if !ok || got != Resource(mesh) {
		t.Fatal("lookup by id failed")
	}
	got, ok = res.ByName("cube.mesh")
	if !ok || got != Resource(mesh) {
		t.Fatal("lookup by name failed")
	}
	if _, ok := res.ByName("missing"); ok {
		t.Fatal("missing name reported present")
	}
	if res.Len() != 1 {
		t.Fatalf("Len = %d, want 1", res.Len())
	}
}

func TestResourcesRename(t *testing.T) {
	res := NewResources()
	r := newTestResource("old")
	res.Add(r)

	renamed := &testResource{id: r.id, name: "new"}
	res.Add(renamed)

	if _, ok := res.ByName("old"); ok {
		t.Fatal("stale name index entry after rename")
	}
	got, ok := res.ByName("new")
	if !ok || got.ID() != r.id {
		t.Fatal("renamed resource not reachable")
	}
	if res.Len() != 1 {
		t.Fatalf("Len = %d after rename, want 1", res.Len())
	}
}

func TestResourcesRemoveAndClear(t *testing.T) {
	res := NewResources()
	a := newTestResource("a")
	b := newTestResource("b")
	res.Add(a)
	res.Add(b)

	res.Remove(a.id)
	if _, ok := res.ByID(a.id); ok {
		t.Fatal("removed resource still present")
	}
	if _, ok := res.ByName("a"); ok {
		t.Fatal("removed resource still named")
	}

	res.Shutdown()
	if res.Len() != 0 {
		t.Fatalf("Len = %d after shutdown, want 0", res.Len())
	}
}

func TestResourcesConcurrent(t *testing.T) {
	res := NewResources()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r := newTestResource("shared")
				res.Add(r)
				res.ByName("shared")
				res.Remove(r.id)
			}
		}()
	}
	wg.Wait()
}
