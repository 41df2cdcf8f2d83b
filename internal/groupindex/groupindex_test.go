package groupindex

import (
	"math/rand"
	"testing"
)

func TestSelectEmptySum(t *testing.T) {
	g := New(map[string]uint32{"db_a": 1, "db_b": 3})
	rng := rand.New(rand.NewSource(1))

	if _, err := g.Select(rng); err != ErrNoCandidate {
		t.Fatalf("expected ErrNoCandidate before any Add, got %v", err)
	}
}

func TestAddRemoveSum(t *testing.T) {
	g := New(map[string]uint32{"db_a": 1, "db_b": 3})
	ia, _ := g.IndexOf("db_a")
	ib, _ := g.IndexOf("db_b")

	g.Add(ia)
	g.Add(ib)
	if g.Sum() != 4 {
		t.Fatalf("expected sum 4, got %d", g.Sum())
	}

	g.Remove(ia)
	if g.Sum() != 3 {
		t.Fatalf("expected sum 3 after removing db_a, got %d", g.Sum())
	}

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		name, err := g.Select(rng)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if name != "db_b" {
			t.Fatalf("expected only db_b to be selectable, got %s", name)
		}
	}

	g.Remove(ib)
	if _, err := g.Select(rng); err != ErrNoCandidate {
		t.Fatalf("expected ErrNoCandidate once both services are removed, got %v", err)
	}
}

func TestAddPreconditionPanics(t *testing.T) {
	g := New(map[string]uint32{"a": 1})
	i, _ := g.IndexOf("a")
	g.Add(i)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic calling Add twice on the same index")
		}
	}()
	g.Add(i)
}

// TestWeightedFrequency is property P4: over many draws, each service is
// returned with relative frequency proportional to its used weight.
func TestWeightedFrequency(t *testing.T) {
	g := New(map[string]uint32{"db_a": 1, "db_b": 3})
	ia, _ := g.IndexOf("db_a")
	ib, _ := g.IndexOf("db_b")
	g.Add(ia)
	g.Add(ib)

	rng := rand.New(rand.NewSource(42))
	const n = 20000
	counts := map[string]int{}
	for i := 0; i < n; i++ {
		name, err := g.Select(rng)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		counts[name]++
	}

	wantB := float64(n) * 0.75
	gotB := float64(counts["db_b"])
	tolerance := float64(n) * 0.03
	if gotB < wantB-tolerance || gotB > wantB+tolerance {
		t.Fatalf("expected db_b frequency near %.0f (±%.0f), got %.0f", wantB, tolerance, gotB)
	}
}
