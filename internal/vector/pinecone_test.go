package vector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"researchmcp/internal/util"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPineconeStoreCreatesMissingIndexOnce(t *testing.T) {
	var (
		created   atomic.Bool
		describes atomic.Int64
		creates   atomic.Int64
		data      *httptest.Server
	)
	data = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/vectors/upsert":
			_, _ = w.Write([]byte(`{"upsertedCount":1}`))
		case "/describe_index_stats":
			_, _ = w.Write([]byte(`{"dimension":3,"totalVectorCount":1,"namespaces":{"user_a":{"vectorCount":1}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(data.Close)

	control := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Api-Key"); got != "test-key" {
			t.Errorf("expected Api-Key=test-key, got %q", got)
		}
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/indexes/papers":
			describes.Add(1)
			if !created.Load() {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"name": "papers", "dimension": 3, "metric": "dotproduct", "host": data.URL,
				"status": map[string]any{"ready": true, "state": "Ready"},
			})
		case r.Method == http.MethodPost && r.URL.Path == "/indexes":
			creates.Add(1)
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["metric"] != "dotproduct" || body["dimension"].(float64) != 3 {
				t.Errorf("unexpected create body: %v", body)
			}
			created.Store(true)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{}`))
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(control.Close)

	store := NewPineconeStore(PineconeConfig{
		APIKey: "test-key", Index: "papers", ControlURL: control.URL, Dimension: 3, ReadyPoll: time.Millisecond,
	}, zap.NewNop())

	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, "user_a", []Record{{ID: "1-x", Dense: []float32{1, 2, 3}, Metadata: ChunkMetadata{PaperID: 1}}}))
	stats, err := store.DescribeStats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Namespaces["user_a"])
	require.NoError(t, store.Ready(ctx))

	require.Equal(t, int64(1), creates.Load())
	require.Equal(t, int64(2), describes.Load())
}

func TestPineconeStoreQueryFiltersAndConverts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/query" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		filter := req["filter"].(map[string]any)["paper_id"].(map[string]any)
		if filter["$eq"].(float64) != 42 {
			t.Errorf("unexpected filter: %v", filter)
		}
		if req["namespace"] != "user_a" || req["topK"].(float64) != 2 {
			t.Errorf("unexpected request: %v", req)
		}
		if _, ok := req["sparseVector"]; ok {
			t.Errorf("empty sparse vector should be omitted")
		}
		_, _ = w.Write([]byte(`{"matches":[
			{"id":"42-a","score":0.91,"metadata":{"paper_id":42.0,"page":2,"type":"text","text":"hello","user_id":7}}
		]}`))
	}))
	t.Cleanup(srv.Close)

	store := NewPineconeStore(PineconeConfig{APIKey: "k", Host: srv.URL, Dimension: 2}, nil)
	got, err := store.Query(context.Background(), Query{Namespace: "user_a", PaperID: 42, Dense: []float32{1, 0}, TopK: 2})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, PaperID(42), got[0].Metadata.PaperID)
	require.Equal(t, 2, got[0].Metadata.Page)
	require.Equal(t, int64(7), got[0].Metadata.UserID)
	require.InDelta(t, 0.91, got[0].Score, 1e-9)
}

func TestPineconeStoreMissingKey(t *testing.T) {
	store := NewPineconeStore(PineconeConfig{Index: "papers", Dimension: 2}, nil)
	_, err := store.Query(context.Background(), Query{Dense: []float32{1, 0}, TopK: 1})
	require.True(t, errors.Is(err, util.ErrMissingCredential))
}
