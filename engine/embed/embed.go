// Package embed provides text embedding for policy retrieval. The default
// implementation is an in-process feature-hashing model: deterministic,
// CPU-bound, and loaded once at construction. Remote embedders (pkg/ollama)
// satisfy the same Embedder interface.
package embed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// Embedder maps free text to a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dims() int
}

var (
	ErrInvalidSpec = errors.New("invalid model spec")
)

// Spec describes a hashing model. Persisted as JSON so the index builder and
// the server are guaranteed to load the identical model.
type Spec struct {
	Name string `json:"name"`
	Dims int    `json:"dims"`
	Seed uint64 `json:"seed"`
}

// Model is a deterministic feature-hashing text embedder. Read-only after
// construction; safe for concurrent use.
type Model struct {
	spec Spec
}

// New creates a Model from a Spec. Dims must be positive.
func New(spec Spec) (*Model, error) {
	if spec.Dims <= 0 {
		return nil, fmt.Errorf("embed: dims %d: %w", spec.Dims, ErrInvalidSpec)
	}
	if spec.Name == "" {
		spec.Name = "feature-hash"
	}
	return &Model{spec: spec}, nil
}

// Load reads a model spec file and constructs the Model. A missing or
// malformed file is a fatal configuration error, not retried.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("embed: load model %s: %w", path, err)
	}
	var spec Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("embed: parse model %s: %w", path, err)
	}
	m, err := New(spec)
	if err != nil {
		return nil, fmt.Errorf("embed: model %s: %w", path, err)
	}
	return m, nil
}

// Save writes the model spec as JSON.
func (m *Model) Save(path string) error {
	data, err := json.MarshalIndent(m.spec, "", "  ")
	if err != nil {
		return fmt.Errorf("embed: marshal spec: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("embed: save model %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("embed: save model %s: %w", path, err)
	}
	return nil
}

// Dims returns the model dimensionality.
func (m *Model) Dims() int { return m.spec.Dims }

// Name returns the model name.
func (m *Model) Name() string { return m.spec.Name }

// Embed maps text to a unit-length vector of the model dimensionality.
// Empty or whitespace-only input returns the zero vector without touching
// the model, so degenerate queries retrieve deterministically.
func (m *Model) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, m.spec.Dims)
	if strings.TrimSpace(text) == "" {
		return vec, nil
	}

	tokens := tokenize(text)
	for i, tok := range tokens {
		m.accumulate(vec, tok)
		if i+1 < len(tokens) {
			m.accumulate(vec, tok+" "+tokens[i+1])
		}
	}

	// L2 normalise so squared Euclidean distance orders like cosine.
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum > 0 {
		inv := float32(1 / math.Sqrt(sum))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

// accumulate hashes a token into a bucket with a sign bit, the usual
// feature-hashing trick to keep collisions unbiased.
func (m *Model) accumulate(vec []float32, token string) {
	h := fnv.New64a()
	var seed [8]byte
	for i := 0; i < 8; i++ {
		seed[i] = byte(m.spec.Seed >> (8 * i))
	}
	h.Write(seed[:])
	h.Write([]byte(token))
	sum := h.Sum64()

	bucket := int(sum % uint64(m.spec.Dims))
	if sum&(1<<63) != 0 {
		vec[bucket]--
	} else {
		vec[bucket]++
	}
}

func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?()[]{}\"'")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
