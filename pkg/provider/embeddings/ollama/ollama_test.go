package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/voxmem/pkg/provider/embeddings/ollama"
)

type capturedRequest struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	KeepAlive string   `json:"keep_alive"`
}

// embedServer answers /api/embed with one vector per input, each filled with
// the input's index.
func embedServer(t *testing.T, dims int, got *capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" || r.Method != http.MethodPost {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		var req capturedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if got != nil {
			*got = req
		}
		vecs := make([][]float32, len(req.Input))
		for i := range vecs {
			vecs[i] = make([]float32, dims)
			for j := range vecs[i] {
				vecs[i][j] = float32(i)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": vecs})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEmbed(t *testing.T) {
	t.Parallel()

	var req capturedRequest
	srv := embedServer(t, 4, &req)

	p, err := ollama.New(srv.URL+"/", "nomic-embed-text", ollama.WithKeepAlive("5m"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	vec, err := p.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 4 {
		t.Errorf("len(vec) = %d, want 4", len(vec))
	}
	if req.Model != "nomic-embed-text" || len(req.Input) != 1 || req.Input[0] != "hello" {
		t.Errorf("unexpected request %+v", req)
	}
	if req.KeepAlive != "5m" {
		t.Errorf("keep_alive = %q, want 5m", req.KeepAlive)
	}
	if p.Dimensions() != 768 {
		t.Errorf("Dimensions() = %d, want 768", p.Dimensions())
	}
}

func TestEmbedBatch_Order(t *testing.T) {
	t.Parallel()

	srv := embedServer(t, 2, nil)
	p, err := ollama.New(srv.URL, "custom-model", ollama.WithDimensions(2))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	vecs, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	for i, v := range vecs {
		if v[0] != float32(i) {
			t.Errorf("vecs[%d][0] = %v, want %d", i, v[0], i)
		}
	}
	if p.Dimensions() != 2 {
		t.Errorf("Dimensions() = %d, want 2", p.Dimensions())
	}

	empty, err := p.EmbedBatch(context.Background(), nil)
	if err != nil || empty != nil {
		t.Errorf("EmbedBatch(nil) = %v, %v; want nil, nil", empty, err)
	}
}

func TestEmbed_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	p, err := ollama.New(srv.URL, "missing")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error on 404")
	}
}

func TestEmbed_Cancelled(t *testing.T) {
	t.Parallel()

	srv := embedServer(t, 2, nil)
	p, err := ollama.New(srv.URL, "all-minilm")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Embed(ctx, "x"); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestNew_EmptyModel(t *testing.T) {
	t.Parallel()
	if _, err := ollama.New("", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}
