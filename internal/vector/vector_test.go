package vector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestUpsertBatches(t *testing.T) {
	var batches []int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/vectors/upsert", r.URL.Path)
		require.Equal(t, "test-key", r.Header.Get("Api-Key"))
		var req upsertRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		batches = append(batches, len(req.Vectors))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, APIKey: "test-key", BatchSize: 2}, zerolog.Nop())

	vectors := make([]Vector, 5)
	for i := range vectors {
		vectors[i] = Vector{ID: ChunkID(uuid.New(), i), Values: []float32{1, 2}}
	}
	require.NoError(t, client.Upsert(context.Background(), "org_x", vectors))
	require.Equal(t, []int{2, 2, 1}, batches)
}

func TestUpsertAbortsOnFailure(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 2 {
			http.Error(w, "index unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, BatchSize: 1}, zerolog.Nop())
	vectors := []Vector{
		{ID: "a_0", Values: []float32{1}},
		{ID: "a_1", Values: []float32{2}},
		{ID: "a_2", Values: []float32{3}},
	}
	err := client.Upsert(context.Background(), "org_x", vectors)
	require.Error(t, err)
	require.Equal(t, 2, calls)
}

func TestQueryReturnsMatches(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/query", r.URL.Path)
		var req queryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, 5, req.TopK)
		require.True(t, req.IncludeMetadata)
		json.NewEncoder(w).Encode(queryResponse{Matches: []Match{
			{ID: "doc_0", Score: 0.91, Metadata: map[string]any{MetaText: "hello"}},
			{ID: "doc_1", Score: 0.42},
		}})
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL}, zerolog.Nop())
	matches, err := client.Query(context.Background(), "org_x", []float32{0.1, 0.2}, 5)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	require.Equal(t, 0.91, matches[0].Score)
}

func TestNamespaceAndChunkID(t *testing.T) {
	orgID := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	docID := uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee")
	require.Equal(t, "org_11111111-2222-3333-4444-555555555555", Namespace(orgID))
	require.Equal(t, "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee_3", ChunkID(docID, 3))
}
