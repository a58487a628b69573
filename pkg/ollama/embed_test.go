package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func embedServer(t *testing.T, dims int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			http.NotFound(w, r)
			return
		}
		var req ollamaEmbedReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		vals := make([]float64, dims)
		for i := range vals {
			vals[i] = float64(len(req.Prompt))
		}
		json.NewEncoder(w).Encode(ollamaEmbedResp{Embedding: vals})
	}))
}

func TestEmbed(t *testing.T) {
	srv := embedServer(t, 4)
	defer srv.Close()

	c := NewEmbedClient(srv.URL, "nomic-embed-text", 4, 0)
	if c.Dims() != 4 {
		t.Fatalf("Dims = %d, want 4", c.Dims())
	}

	vec, err := c.Embed(context.Background(), "diagnosis E11.9")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 4 {
		t.Fatalf("got %d dims, want 4", len(vec))
	}
}

func TestEmbed_DimensionMismatchRejected(t *testing.T) {
	srv := embedServer(t, 4)
	defer srv.Close()

	c := NewEmbedClient(srv.URL, "nomic-embed-text", 8, 0)
	if _, err := c.Embed(context.Background(), "text"); err == nil {
		t.Fatal("expected error for wrong dimensionality")
	}
}

func TestEmbed_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", 500)
	}))
	defer srv.Close()

	c := NewEmbedClient(srv.URL, "nomic-embed-text", 4, 0)
	if _, err := c.Embed(context.Background(), "text"); err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestEmbed_CanceledContext(t *testing.T) {
	srv := embedServer(t, 4)
	defer srv.Close()

	// A tight limiter makes the second call wait, so cancellation surfaces
	// through the limiter rather than the transport.
	c := NewEmbedClient(srv.URL, "nomic-embed-text", 4, 0.001)
	if _, err := c.Embed(context.Background(), "first"); err != nil {
		t.Fatalf("Embed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Embed(ctx, "second"); err == nil {
		t.Fatal("expected error for canceled context")
	}
}
