package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, srv *httptest.Server) Client {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("OPENAI_BASE_URL", srv.URL)
	t.Setenv("OPENAI_MAX_RETRIES", "2")
	c, err := NewClient(testLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func embeddingsHandler(dim int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req embeddingsRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		type datum struct {
			Embedding []float64 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]datum, len(req.Input))
		for i := range req.Input {
			data[i] = datum{Embedding: make([]float64, dim), Index: i}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}
}

func TestEmbedRetriesOnRateLimit(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"message":"rate limit"}}`)
			return
		}
		embeddingsHandler(8)(w, r)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	vecs, err := c.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("got %d attempts, want 2", attempts)
	}
	if len(vecs) != 2 || len(vecs[0]) != 8 {
		t.Fatalf("unexpected vectors: %d x %d", len(vecs), len(vecs[0]))
	}
}

func TestEmbedDoesNotRetryClientError(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"bad input"}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	if _, err := c.Embed(context.Background(), []string{"a"}); err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("got %d attempts, want 1 (400 is permanent)", attempts)
	}
}

func TestEmbedRejectsEmptyInput(t *testing.T) {
	srv := httptest.NewServer(embeddingsHandler(8))
	defer srv.Close()

	c := newTestClient(t, srv)
	if _, err := c.Embed(context.Background(), []string{"ok", ""}); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestEmbedOrderFromIndexField(t *testing.T) {
	// Provider may return data out of order; the index field wins.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"embedding":[2],"index":1},{"embedding":[1],"index":0}]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	vecs, err := c.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if vecs[0][0] != 1 || vecs[1][0] != 2 {
		t.Fatalf("order not restored from index: %v", vecs)
	}
}
