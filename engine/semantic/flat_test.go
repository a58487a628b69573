package semantic

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

func builtIndex(t *testing.T) *FlatIndex {
	t.Helper()
	x := NewFlat(3)
	err := x.Build(
		[][]float32{
			{1, 0, 0},
			{0, 1, 0},
			{0, 0, 1},
			{1, 1, 0},
		},
		[]string{"cardiology", "diabetes", "general", "oncology"},
	)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return x
}

func TestBuild_CountMismatch(t *testing.T) {
	x := NewFlat(3)
	err := x.Build([][]float32{{1, 0, 0}}, []string{"a", "b"})
	if !errors.Is(err, ErrCountMismatch) {
		t.Fatalf("got %v, want ErrCountMismatch", err)
	}
}

func TestBuild_DimensionMismatch(t *testing.T) {
	x := NewFlat(3)
	err := x.Build([][]float32{{1, 0}}, []string{"a"})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("got %v, want ErrDimensionMismatch", err)
	}
}

func TestSearch_NotReady(t *testing.T) {
	x := NewFlat(3)
	if _, err := x.Search([]float32{1, 0, 0}, 1); !errors.Is(err, ErrNotReady) {
		t.Fatalf("got %v, want ErrNotReady", err)
	}

	// An index built from zero documents is still not ready.
	if err := x.Build(nil, nil); err != nil {
		t.Fatalf("Build(empty): %v", err)
	}
	if _, err := x.Search([]float32{1, 0, 0}, 1); !errors.Is(err, ErrNotReady) {
		t.Fatalf("got %v, want ErrNotReady", err)
	}
}

func TestSearch_SelfQueryIsTopAtZero(t *testing.T) {
	x := builtIndex(t)
	hits, err := x.Search([]float32{0, 1, 0}, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(hits))
	}
	if hits[0].DocID != "diabetes" || hits[0].Distance != 0 {
		t.Fatalf("got %+v, want diabetes at distance 0", hits[0])
	}
}

func TestSearch_SortedAndTruncated(t *testing.T) {
	x := builtIndex(t)

	hits, err := x.Search([]float32{1, 0.1, 0}, 10) // k > N truncates, never errors
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 4 {
		t.Fatalf("got %d hits, want 4", len(hits))
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Distance < hits[i-1].Distance {
			t.Fatalf("hits not sorted ascending: %+v", hits)
		}
	}
	if hits[0].DocID != "cardiology" {
		t.Fatalf("top hit = %s, want cardiology", hits[0].DocID)
	}

	hits, err = x.Search([]float32{1, 0.1, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
}

func TestSearch_BadInputs(t *testing.T) {
	x := builtIndex(t)
	if _, err := x.Search([]float32{1, 0, 0}, 0); err == nil {
		t.Fatal("expected error for k=0")
	}
	if _, err := x.Search([]float32{1, 0}, 1); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("got %v, want ErrDimensionMismatch", err)
	}
}

func TestPersistRestore_RoundTrip(t *testing.T) {
	x := builtIndex(t)
	path := filepath.Join(t.TempDir(), "index", "policies.json")

	if err := x.Persist(path); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	restored, err := RestoreFlat(path)
	if err != nil {
		t.Fatalf("RestoreFlat: %v", err)
	}
	if restored.Len() != x.Len() || restored.Dims() != x.Dims() {
		t.Fatalf("restored index differs: len=%d dims=%d", restored.Len(), restored.Dims())
	}

	query := []float32{1, 1, 0.1}
	want, err := x.Search(query, 3)
	if err != nil {
		t.Fatalf("Search pre-persist: %v", err)
	}
	got, err := restored.Search(query, 3)
	if err != nil {
		t.Fatalf("Search post-restore: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d hits, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("hit %d differs: %+v vs %+v", i, got[i], want[i])
		}
	}
}

func TestPersist_NotBuilt(t *testing.T) {
	x := NewFlat(3)
	if err := x.Persist(filepath.Join(t.TempDir(), "x.json")); !errors.Is(err, ErrNotReady) {
		t.Fatalf("got %v, want ErrNotReady", err)
	}
}

func TestRestore_CorruptSnapshot(t *testing.T) {
	dir := t.TempDir()

	write := func(name, content string) string {
		t.Helper()
		p := filepath.Join(dir, name)
		if err := writeFile(p, content); err != nil {
			t.Fatal(err)
		}
		return p
	}

	// ids and vectors disagree in count
	p := write("mismatch.json", `{"dims":2,"ids":["a","b"],"vectors":[[1,0]]}`)
	if _, err := RestoreFlat(p); !errors.Is(err, ErrCorruptSnapshot) {
		t.Fatalf("got %v, want ErrCorruptSnapshot", err)
	}

	// vector dims disagree with declared dims
	p = write("baddims.json", `{"dims":2,"ids":["a"],"vectors":[[1,0,0]]}`)
	if _, err := RestoreFlat(p); !errors.Is(err, ErrCorruptSnapshot) {
		t.Fatalf("got %v, want ErrCorruptSnapshot", err)
	}

	// not JSON at all
	p = write("garbage.json", "not a snapshot")
	if _, err := RestoreFlat(p); err == nil {
		t.Fatal("expected error for garbage snapshot")
	}

	if _, err := RestoreFlat(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatal("expected error for missing snapshot")
	}
}

// TestBuild_CopiesInput guards the read-only-after-build contract: mutating
// the caller's slices must not change search results.
func TestBuild_CopiesInput(t *testing.T) {
	vecs := [][]float32{{1, 0, 0}, {0, 1, 0}}
	x := NewFlat(3)
	if err := x.Build(vecs, []string{"a", "b"}); err != nil {
		t.Fatalf("Build: %v", err)
	}
	vecs[0][0] = 99

	hits, err := x.Search([]float32{1, 0, 0}, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if hits[0].DocID != "a" || hits[0].Distance != 0 {
		t.Fatalf("index aliased caller memory: %+v", hits[0])
	}
}
