package router

import (
	"math/rand"
	"reflect"
	"testing"

	"locatord/internal/catalog"
)

func newTestRouter() *Router {
	return New(rand.New(rand.NewSource(1)))
}

func info(addr string) catalog.ServiceInfo {
	return catalog.ServiceInfo{Endpoints: []catalog.Endpoint{{Address: addr, Port: 1}}, Version: 1}
}

func TestAddLocalRemoveLocal(t *testing.T) {
	r := newTestRouter()
	if r.Has("echo") {
		t.Fatal("expected echo to be unknown before AddLocal")
	}
	r.AddLocal("echo")
	if !r.Has("echo") {
		t.Fatal("expected echo to be known after AddLocal")
	}
	r.RemoveLocal("echo")
	if r.Has("echo") {
		t.Fatal("expected echo to be gone after RemoveLocal")
	}
}

func TestUpdateRemoteNoopOnIdenticalCatalog(t *testing.T) {
	r := newTestRouter()
	c := map[string]catalog.ServiceInfo{"storage": info("10.0.0.1")}

	added, removed := r.UpdateRemote("peer-1", c)
	if len(added) != 1 || len(removed) != 0 {
		t.Fatalf("expected one added entry on first update, got added=%v removed=%v", added, removed)
	}

	added, removed = r.UpdateRemote("peer-1", c)
	if len(added) != 0 || len(removed) != 0 {
		t.Fatalf("expected no diff re-applying the same catalog, got added=%v removed=%v", added, removed)
	}
}

// TestChunkDiff is scenario 5: {x,y} -> {y,z} yields cleanup(x), consume(z),
// and no event for y.
func TestChunkDiff(t *testing.T) {
	r := newTestRouter()
	r.UpdateRemote("peer-1", map[string]catalog.ServiceInfo{
		"x": info("a"),
		"y": info("b"),
	})

	added, removed := r.UpdateRemote("peer-1", map[string]catalog.ServiceInfo{
		"y": info("b"),
		"z": info("c"),
	})

	if len(removed) != 1 || removed[0].Name != "x" {
		t.Fatalf("expected removed=[x], got %v", removed)
	}
	if len(added) != 1 || added[0].Name != "z" {
		t.Fatalf("expected added=[z], got %v", added)
	}
}

func TestChangedInfoProducesBothRemovedAndAdded(t *testing.T) {
	r := newTestRouter()
	r.UpdateRemote("peer-1", map[string]catalog.ServiceInfo{"svc": info("a")})

	added, removed := r.UpdateRemote("peer-1", map[string]catalog.ServiceInfo{"svc": info("b")})
	if len(removed) != 1 || removed[0].Info.Endpoints[0].Address != "a" {
		t.Fatalf("expected removed to carry the old info, got %v", removed)
	}
	if len(added) != 1 || added[0].Info.Endpoints[0].Address != "b" {
		t.Fatalf("expected added to carry the new info, got %v", added)
	}
}

// TestUpdateThenRemoveEquivalence is P3: update(u,C1) then update(u,C2)
// yields the same router state as remove(u) then update(u,C2).
func TestUpdateThenRemoveEquivalence(t *testing.T) {
	c1 := map[string]catalog.ServiceInfo{"a": info("1"), "b": info("2")}
	c2 := map[string]catalog.ServiceInfo{"b": info("2"), "c": info("3")}

	r1 := newTestRouter()
	r1.UpdateRemote("peer-1", c1)
	r1.UpdateRemote("peer-1", c2)

	r2 := newTestRouter()
	r2.RemoveRemote("peer-1")
	r2.UpdateRemote("peer-1", c2)

	if !reflect.DeepEqual(r1.byPeer, r2.byPeer) {
		t.Fatalf("expected equivalent by_peer state, got %v vs %v", r1.byPeer, r2.byPeer)
	}
	if !reflect.DeepEqual(r1.byService, r2.byService) {
		t.Fatalf("expected equivalent by_service state, got %v vs %v", r1.byService, r2.byService)
	}
}

func TestRemoveRemoteReturnsLastCatalog(t *testing.T) {
	r := newTestRouter()
	c := map[string]catalog.ServiceInfo{"storage": info("1")}
	r.UpdateRemote("peer-1", c)

	removed := r.RemoveRemote("peer-1")
	if len(removed) != 1 {
		t.Fatalf("expected one entry in the removed catalog, got %v", removed)
	}
	if r.Has("storage") {
		t.Fatal("expected storage to be gone once its only peer is removed")
	}
}

// TestWeightedGroupSelection is scenario 3.
func TestWeightedGroupSelection(t *testing.T) {
	r := newTestRouter()
	r.AddGroup("db", map[string]uint32{"db_a": 1, "db_b": 3})

	if _, err := r.SelectService("db"); err != ErrNoGroupCandidate {
		t.Fatalf("expected ErrNoGroupCandidate with no providers, got %v", err)
	}

	r.AddLocal("db_a")
	r.UpdateRemote("peer-1", map[string]catalog.ServiceInfo{"db_b": info("1")})

	counts := map[string]int{}
	for i := 0; i < 2000; i++ {
		name, err := r.SelectService("db")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		counts[name]++
	}
	if counts["db_a"] == 0 || counts["db_b"] == 0 {
		t.Fatalf("expected both services to be selected at least once, got %v", counts)
	}
	if counts["db_b"] < counts["db_a"] {
		t.Fatalf("expected db_b (weight 3) to be selected more often than db_a (weight 1), got %v", counts)
	}

	r.RemoveLocal("db_a")
	for i := 0; i < 100; i++ {
		name, err := r.SelectService("db")
		if err != nil || name != "db_b" {
			t.Fatalf("expected only db_b once db_a is removed, got %s, %v", name, err)
		}
	}

	r.RemoveRemote("peer-1")
	if _, err := r.SelectService("db"); err != ErrNoGroupCandidate {
		t.Fatalf("expected ErrNoGroupCandidate once both providers are gone, got %v", err)
	}
}

func TestSelectServicePassThrough(t *testing.T) {
	r := newTestRouter()
	name, err := r.SelectService("not-a-group")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "not-a-group" {
		t.Fatalf("expected pass-through, got %s", name)
	}
}
