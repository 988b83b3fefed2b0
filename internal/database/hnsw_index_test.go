package database

import (
	"fmt"
	"math"
	"slices"
	"testing"
)

func unit(dim, hot int) []float32 {
	v := make([]float32, dim)
	v[hot] = 1
	return v
}

func TestSessionIndex_Search(t *testing.T) {
	idx := NewSessionIndex()

	if _, _, err := idx.Search(unit(4, 0), 1); err == nil {
		t.Error("expected error searching an empty index")
	}

	idx.Build([]StoredEmbedding{
		{SessionID: "a", Embedding: []float32{1, 0, 0, 0}},
		{SessionID: "b", Embedding: []float32{0.9, 0.1, 0, 0}},
		{SessionID: "c", Embedding: []float32{0, 0, 1, 0}},
		{SessionID: "zero", Embedding: []float32{0, 0, 0, 0}},
		{SessionID: "short", Embedding: []float32{1, 0}},
	})
	if got := idx.Count(); got != 3 {
		t.Errorf("Count() = %d, want 3", got)
	}
	if idx.Get("zero") != nil {
		t.Error("zero vector must not be indexed")
	}
	if idx.Get("short") != nil {
		t.Error("vector of another dimension must not be indexed")
	}

	ids, distances, err := idx.Search([]float32{1, 0, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if !slices.Equal(ids, []string{"a", "b"}) {
		t.Fatalf("Search() ids = %v, want [a b]", ids)
	}
	if math.Abs(distances[0]) > 1e-6 {
		t.Errorf("distance to itself = %v, want 0", distances[0])
	}
	if distances[0] >= distances[1] {
		t.Errorf("distances not ascending: %v", distances)
	}

	if _, _, err := idx.Search([]float32{1, 0}, 1); err == nil {
		t.Error("expected error for query of another dimension")
	}
}

func TestSessionIndex_Add(t *testing.T) {
	idx := NewSessionIndex()
	for i := range 20 {
		idx.Add(StoredEmbedding{SessionID: fmt.Sprintf("s%02d", i), Embedding: unit(32, i)})
	}
	// Duplicate ids are ignored.
	idx.Add(StoredEmbedding{SessionID: "s00", Embedding: unit(32, 5)})
	if got := idx.Count(); got != 20 {
		t.Errorf("Count() = %d, want 20", got)
	}

	ids, _, err := idx.Search(unit(32, 7), 1)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if !slices.Equal(ids, []string{"s07"}) {
		t.Errorf("Search() ids = %v, want [s07]", ids)
	}
}
