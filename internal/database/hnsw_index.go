package database

import (
	"errors"
	"sort"
	"sync"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/variance-tracker/internal/embedding"
)

// SessionIndex wraps an HNSW graph over session embeddings for
// nearest-session search. Keys are session ids.
type SessionIndex struct {
	graph     *hnsw.Graph[string]
	idToEmb   map[string]*StoredEmbedding
	dimension int
	mu        sync.RWMutex
}

// NewSessionIndex creates a new empty index.
func NewSessionIndex() *SessionIndex {
	return &SessionIndex{
		idToEmb: make(map[string]*StoredEmbedding),
	}
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.CosineDistance
	return g
}

// Build replaces the index contents with the given embeddings. Zero vectors
// and vectors whose length differs from the first one are skipped, since
// they have no cosine neighbourhood.
func (h *SessionIndex) Build(embeddings []StoredEmbedding) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.graph = nil
	h.dimension = 0
	h.idToEmb = make(map[string]*StoredEmbedding, len(embeddings))

	for i := range embeddings {
		h.addLocked(&embeddings[i])
	}
}

// Add inserts a single session embedding.
func (h *SessionIndex) Add(emb StoredEmbedding) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.addLocked(&emb)
}

func (h *SessionIndex) addLocked(emb *StoredEmbedding) {
	if len(emb.Embedding) == 0 || isZero(emb.Embedding) {
		return
	}
	if _, exists := h.idToEmb[emb.SessionID]; exists {
		return
	}
	if h.dimension == 0 {
		h.dimension = len(emb.Embedding)
	}
	if len(emb.Embedding) != h.dimension {
		return
	}
	if h.graph == nil {
		h.graph = newGraph()
	}
	h.graph.Add(hnsw.MakeNode(emb.SessionID, emb.Embedding))
	h.idToEmb[emb.SessionID] = emb
}

// Search finds the k nearest sessions to the query embedding.
// Returns session ids and their cosine distances, nearest first.
func (h *SessionIndex) Search(query []float32, k int) ([]string, []float64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil {
		return nil, nil, errors.New("index not initialized")
	}
	if len(query) != h.dimension {
		return nil, nil, errors.New("query dimension does not match index")
	}

	type hit struct {
		id       string
		distance float64
	}
	neighbors := h.graph.Search(query, k)
	hits := make([]hit, len(neighbors))
	for i, n := range neighbors {
		// Recompute in float64 from the stored vector.
		hits[i] = hit{id: n.Key, distance: embedding.CosineDistance(query, n.Value)}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].distance < hits[j].distance })

	ids := make([]string, len(hits))
	distances := make([]float64, len(hits))
	for i, hh := range hits {
		ids[i] = hh.id
		distances[i] = hh.distance
	}
	return ids, distances, nil
}

// Get returns the indexed embedding of a session.
func (h *SessionIndex) Get(sessionID string) *StoredEmbedding {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.idToEmb[sessionID]
}

// Count returns the number of indexed sessions.
func (h *SessionIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.idToEmb)
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
