package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestOllamaEmbedder(t *testing.T) {
	var got embeddingRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		w.Write([]byte(`{"embedding":[0.1,0.2,0.3]}`))
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL+"/", time.Second)
	vec, err := e.Embed(context.Background(), "Growing of cereals", "mxbai-embed-large")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 3 || vec[2] != 0.3 {
		t.Errorf("unexpected vector %v", vec)
	}
	if got.Model != "mxbai-embed-large" || got.Prompt != "Growing of cereals" {
		t.Errorf("unexpected request %+v", got)
	}
}

func TestOllamaEmbedderErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"http status", http.StatusInternalServerError, "boom", "status 500"},
		{"api error", http.StatusOK, `{"error":"model not found"}`, "model not found"},
		{"bad json", http.StatusOK, `{`, "failed to parse"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewOllamaEmbedder(srv.URL, time.Second).Embed(context.Background(), "x", "m")
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestOllamaEmbedderEmptyEmbedding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"embedding":[]}`))
	}))
	defer srv.Close()

	vec, err := NewOllamaEmbedder(srv.URL, time.Second).Embed(context.Background(), "x", "m")
	if err != nil || len(vec) != 0 {
		t.Errorf("expected empty vector without error, got %v %v", vec, err)
	}
}

func TestOllamaEmbedderHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewOllamaEmbedder(srv.URL, time.Second).Embed(ctx, "x", "m"); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestMockEmbedderDeterministic(t *testing.T) {
	e := NewMockEmbedder(8)
	a, _ := e.Embed(context.Background(), "teff", "m")
	b, _ := e.Embed(context.Background(), "teff", "m")
	if len(a) != 8 {
		t.Fatalf("expected dimension 8, got %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("mock embeddings should be deterministic")
		}
	}
}
