package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingData struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

// NewEmbeddingServer serves the OpenAI embeddings endpoint, answering with
// fake's vectors. Point a "local" provider at its URL.
func NewEmbeddingServer(t *testing.T, fake *FakeEmbedder) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/embeddings" {
			http.NotFound(w, r)
			return
		}

		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":{"message":"bad request"}}`, http.StatusBadRequest)
			return
		}

		vectors, err := fake.Embed(r.Context(), req.Input)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"message":"` + err.Error() + `","type":"server_error"}}`))
			return
		}

		data := make([]embeddingData, len(vectors))
		for i, v := range vectors {
			data[i] = embeddingData{Object: "embedding", Index: i, Embedding: v}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  req.Model,
			"data":   data,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}
