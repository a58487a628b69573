// Package semantic provides nearest-neighbour retrieval over policy document
// embeddings. FlatIndex is the reference implementation: exact brute-force
// search by squared Euclidean distance, built once at setup time and
// read-only afterwards, so concurrent searches need no locking. A remote
// Qdrant-backed store (qdrant.go) sits behind the same retrieval contract
// for corpora that outgrow a single process.
package semantic

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

var (
	// ErrNotReady is returned by Search before Build has populated the index.
	ErrNotReady = errors.New("semantic: index not ready")
	// ErrDimensionMismatch indicates a vector of the wrong dimensionality.
	// This is a configuration error, never retryable.
	ErrDimensionMismatch = errors.New("semantic: dimension mismatch")
	// ErrCountMismatch indicates vectors and document ids diverge in count.
	ErrCountMismatch = errors.New("semantic: vector/id count mismatch")
	// ErrCorruptSnapshot indicates a persisted index whose vectors and id
	// map disagree. Never auto-corrected.
	ErrCorruptSnapshot = errors.New("semantic: corrupt index snapshot")
)

// FlatIndex is an exact k-NN index over squared Euclidean distance. The
// corpus here is tens to low-hundreds of policy documents, so an O(N) scan
// per query is both simpler to reason about and fast enough; decisions are
// high-stakes, so exactness wins over recall/speed trade-offs.
type FlatIndex struct {
	dims    int
	vectors [][]float32
	ids     []string
	built   bool
}

// NewFlat creates an empty index of the given dimensionality.
func NewFlat(dims int) *FlatIndex {
	return &FlatIndex{dims: dims}
}

// Dims returns the declared dimensionality.
func (x *FlatIndex) Dims() int { return x.dims }

// Len returns the number of indexed documents.
func (x *FlatIndex) Len() int { return len(x.ids) }

// Build populates the index from parallel slices of vectors and document
// ids. Count or dimension mismatches are fatal configuration errors; the
// index is never silently truncated or padded. Build must not run
// concurrently with Search.
func (x *FlatIndex) Build(vectors [][]float32, ids []string) error {
	if len(vectors) != len(ids) {
		return fmt.Errorf("%w: %d vectors, %d ids", ErrCountMismatch, len(vectors), len(ids))
	}
	for i, v := range vectors {
		if len(v) != x.dims {
			return fmt.Errorf("%w: vector %d has %d dims, index declared %d", ErrDimensionMismatch, i, len(v), x.dims)
		}
	}

	x.vectors = make([][]float32, len(vectors))
	x.ids = make([]string, len(ids))
	for i := range vectors {
		v := make([]float32, x.dims)
		copy(v, vectors[i])
		x.vectors[i] = v
		x.ids[i] = ids[i]
	}
	x.built = true
	return nil
}

// Search returns the k nearest documents sorted ascending by distance,
// truncated to min(k, N). Searching an empty or unbuilt index fails with
// ErrNotReady so callers cannot silently proceed on an uninitialised index.
func (x *FlatIndex) Search(query []float32, k int) ([]Hit, error) {
	if !x.built || len(x.ids) == 0 {
		return nil, ErrNotReady
	}
	if k < 1 {
		return nil, fmt.Errorf("semantic: k must be >= 1, got %d", k)
	}
	if len(query) != x.dims {
		return nil, fmt.Errorf("%w: query has %d dims, index declared %d", ErrDimensionMismatch, len(query), x.dims)
	}

	hits := make([]Hit, len(x.ids))
	for i, v := range x.vectors {
		var d float32
		for j := range v {
			diff := v[j] - query[j]
			d += diff * diff
		}
		hits[i] = Hit{DocID: x.ids[i], Distance: d}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })

	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

// snapshot is the on-disk form of a FlatIndex. Vectors and ids are one
// atomic unit: persisted together, validated together on restore.
type snapshot struct {
	Dims    int         `json:"dims"`
	IDs     []string    `json:"ids"`
	Vectors [][]float32 `json:"vectors"`
}

// Persist writes the index to path. The snapshot is written to a temp file
// and renamed so a crash never leaves a half-written index behind.
func (x *FlatIndex) Persist(path string) error {
	if !x.built {
		return ErrNotReady
	}
	data, err := json.Marshal(snapshot{Dims: x.dims, IDs: x.ids, Vectors: x.vectors})
	if err != nil {
		return fmt.Errorf("semantic: marshal snapshot: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("semantic: persist %s: %w", path, err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("semantic: persist %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("semantic: persist %s: %w", path, err)
	}
	return nil
}

// RestoreFlat loads a persisted index. A snapshot whose vectors and id map
// disagree in count, or whose vectors disagree with the declared
// dimensionality, is a fatal integrity error at load time.
func RestoreFlat(path string) (*FlatIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("semantic: restore %s: %w", path, err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("semantic: restore %s: %w", path, err)
	}
	if snap.Dims <= 0 {
		return nil, fmt.Errorf("%w: non-positive dims %d", ErrCorruptSnapshot, snap.Dims)
	}
	if len(snap.Vectors) != len(snap.IDs) {
		return nil, fmt.Errorf("%w: %d vectors, %d ids", ErrCorruptSnapshot, len(snap.Vectors), len(snap.IDs))
	}
	for i, v := range snap.Vectors {
		if len(v) != snap.Dims {
			return nil, fmt.Errorf("%w: vector %d has %d dims, snapshot declared %d", ErrCorruptSnapshot, i, len(v), snap.Dims)
		}
	}

	x := NewFlat(snap.Dims)
	if err := x.Build(snap.Vectors, snap.IDs); err != nil {
		return nil, fmt.Errorf("semantic: restore %s: %w", path, err)
	}
	return x, nil
}
