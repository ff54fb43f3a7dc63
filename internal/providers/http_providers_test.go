package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"shelfindex/internal/util"
)

func TestResolveOllamaEmbedModel(t *testing.T) {
	t.Setenv("SHELFINDEX_OLLAMA_EMBED_MODEL", "")
	require.Equal(t, "all-minilm", resolveOllamaEmbedModel(""))
	require.Equal(t, "nomic-embed-text", resolveOllamaEmbedModel("nomic"))
	require.Equal(t, "mxbai-embed-large", resolveOllamaEmbedModel("mxbai-embed-large"))
	t.Setenv("SHELFINDEX_OLLAMA_EMBED_MODEL_LOCAL", "all-minilm:l6-v2")
	require.Equal(t, "all-minilm:l6-v2", resolveOllamaEmbedModel("local"))
}

func TestOllamaEmbedAndPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			_, _ = w.Write([]byte(`{"models":[]}`))
		case "/api/embed":
			var req struct {
				Model string   `json:"model"`
				Input []string `json:"input"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			out := make([][]float32, len(req.Input))
			for i := range req.Input {
				out[i] = []float32{float32(i), 1, 2}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"model": req.Model, "embeddings": out})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	t.Setenv("SHELFINDEX_OLLAMA_BASE_URL", srv.URL)

	p := NewOllamaEmbeddingProvider("")
	require.NoError(t, p.Ping(context.Background()))
	vecs, info, err := p.Embed(context.Background(), EmbedRequest{Inputs: []string{"a", "b"}})
	require.NoError(t, err)
	require.Equal(t, "ollama", info.Name)
	require.Equal(t, [][]float32{{0, 1, 2}, {1, 1, 2}}, vecs)
}

func TestOllamaPingUnreachableIsConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	t.Setenv("SHELFINDEX_OLLAMA_BASE_URL", url)

	err := NewOllamaEmbeddingProvider("").Ping(context.Background())
	require.True(t, errors.Is(err, util.ErrConnection), err)
}

func TestOpenAIEmbedReordersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		require.EqualValues(t, 3, req["dimensions"])
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[4,5,6]},{"index":0,"embedding":[1,2,3]}]}`))
	}))
	defer srv.Close()
	t.Setenv("SHELFINDEX_OPENAI_BASE_URL", srv.URL)
	t.Setenv("SHELFINDEX_OPENAI_KEY_KEY1", "sk-test")

	vecs, _, err := NewOpenAIProvider("key1").Embed(context.Background(), EmbedRequest{Inputs: []string{"a", "b"}, Dimension: 3})
	require.NoError(t, err)
	require.Equal(t, [][]float32{{1, 2, 3}, {4, 5, 6}}, vecs)
}

func TestOpenAIMissingKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	p := NewOpenAIProvider("nokey")
	_, _, err := p.Embed(context.Background(), EmbedRequest{Inputs: []string{"a"}})
	require.Error(t, err)
	require.ErrorIs(t, p.Ping(context.Background()), util.ErrConnection)
}

func TestOpenAIEmbedsEmptyDescription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		for _, in := range req.Input {
			if in == "" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":{"message":"'$.input' is invalid"}}`))
				return
			}
		}
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1,0]},{"index":1,"embedding":[0,1]}]}`))
	}))
	defer srv.Close()
	t.Setenv("SHELFINDEX_OPENAI_BASE_URL", srv.URL)
	t.Setenv("SHELFINDEX_OPENAI_KEY_KEY1", "sk-test")

	in := []string{"A quiet novel.", ""}
	vecs, _, err := NewOpenAIProvider("key1").Embed(context.Background(), EmbedRequest{Inputs: in, Dimension: 2})
	require.NoError(t, err)
	require.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
	require.Equal(t, "", in[1], "caller inputs must not be modified")
}

func TestOpenAITruncatedResponseIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "200")
		_, _ = w.Write([]byte(`{"data":[`))
	}))
	defer srv.Close()
	t.Setenv("SHELFINDEX_OPENAI_BASE_URL", srv.URL)
	t.Setenv("SHELFINDEX_OPENAI_KEY_KEY1", "sk-test")

	_, _, err := NewOpenAIProvider("key1").Embed(context.Background(), EmbedRequest{Inputs: []string{"a"}})
	require.ErrorIs(t, err, util.ErrConnection)
	require.Equal(t, ErrorTransient, ClassifyError(err))
}
