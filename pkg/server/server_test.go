package server

import (
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/wikigraph/pkg/storage"
	"github.com/orneryd/wikigraph/pkg/wikigraph"
)

// =============================================================================
// Test Helpers
// =============================================================================

func setupTestServer(t *testing.T) (*Server, *wikigraph.DB) {
	t.Helper()

	reg := prometheus.NewRegistry()
	db, err := wikigraph.Open(wikigraph.Options{
		Clock:      clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
		Registerer: reg,
		NewRand:    func() *rand.Rand { return rand.New(rand.NewSource(1)) },
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := New(db, reg, nil, zerolog.Nop())
	require.NoError(t, err)
	return s, db
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

const feed = `{"wiki":"en","user":"Alice","title":"A"}
{"wiki":"en","user":"Alice","title":"B"}
{"wiki":"en","user":"Bob","title":"A"}
`

// =============================================================================
// Tests
// =============================================================================

func TestNewRequiresDB(t *testing.T) {
	_, err := New(nil, nil, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	s, db := setupTestServer(t)
	_, err := db.ProcessEvent(storage.Event{Wiki: "en", User: "Alice", Title: "A"})
	require.NoError(t, err)

	rec := do(t, s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	decode(t, rec, &body)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(3), body["nodes"])
	assert.Equal(t, float64(1), body["edges"])
}

func TestPostEvents(t *testing.T) {
	s, db := setupTestServer(t)

	input := feed + `{"wiki":"en","user":"Carol"}` + "\n" + `not json` + "\n"
	rec := do(t, s, http.MethodPost, "/events", input)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp EventsResponse
	decode(t, rec, &resp)
	assert.Equal(t, 3, resp.Processed)
	assert.Equal(t, 2, resp.Rejected)
	require.Len(t, resp.Errors, 2)
	assert.Contains(t, resp.Errors[0], "line 4")

	assert.Equal(t, 5, db.Store().NodeCount())
}

func TestPostEventsMethodNotAllowed(t *testing.T) {
	s, _ := setupTestServer(t)
	rec := do(t, s, http.MethodGet, "/events", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSnapshot(t *testing.T) {
	s, _ := setupTestServer(t)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/events", feed).Code)

	tests := []struct {
		name  string
		query string
		code  int
		edges int
	}{
		{"default is bipartite", "/snapshot", http.StatusOK, 3},
		{"coedit", "/snapshot?view=coedit", http.StatusOK, 1},
		{"wiki-domain", "/snapshot?view=wiki-domain", http.StatusOK, 0},
		{"unknown view", "/snapshot?view=social", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodGet, tt.query, "")
			require.Equal(t, tt.code, rec.Code)
			if tt.code != http.StatusOK {
				return
			}
			var snap struct {
				Edges []map[string]interface{} `json:"edges"`
			}
			decode(t, rec, &snap)
			assert.Len(t, snap.Edges, tt.edges)
		})
	}
}

func TestMLData(t *testing.T) {
	s, db := setupTestServer(t)

	rec := do(t, s, http.MethodGet, "/mldata", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/events", feed).Code)
	ok, err := db.Analyze(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	rec = do(t, s, http.MethodGet, "/mldata", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	decode(t, rec, &body)
	assert.Contains(t, body, "communities")
	assert.Contains(t, body, "pagerank")
	assert.Contains(t, body, "hubs")
	assert.Contains(t, body, "anomalies")
	assert.Contains(t, body, "evaluation")
}

func TestSummary(t *testing.T) {
	s, _ := setupTestServer(t)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/events", feed).Code)

	rec := do(t, s, http.MethodGet, "/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Nodes          int `json:"nodes"`
		EditsPerMinute int `json:"editsPerMinute"`
		TopArticles    []struct {
			Label string `json:"label"`
			Count int    `json:"count"`
		} `json:"topArticles"`
	}
	decode(t, rec, &body)
	assert.Equal(t, 5, body.Nodes)
	assert.Equal(t, 3, body.EditsPerMinute)
	require.NotEmpty(t, body.TopArticles)
	assert.Equal(t, "A", body.TopArticles[0].Label)
	assert.Equal(t, 2, body.TopArticles[0].Count)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := setupTestServer(t)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/events", feed).Code)

	rec := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "wikigraph_events_processed_total 3")
	assert.Contains(t, body, `wikigraph_graph_nodes{kind="article"} 2`)
}

func TestRecoveryMiddleware(t *testing.T) {
	s, _ := setupTestServer(t)
	h := s.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, int64(1), s.errorCount.Load())
}

func TestStartStop(t *testing.T) {
	s, _ := setupTestServer(t)
	s.config.Addr = "127.0.0.1:0"

	require.NoError(t, s.Start())
	addr := s.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
	assert.ErrorIs(t, s.Start(), ErrServerClosed)
}

func TestSnapshotCache(t *testing.T) {
	s, db := setupTestServer(t)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/events", feed).Code)

	edges := func() int {
		rec := do(t, s, http.MethodGet, "/snapshot?view=bipartite", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var snap struct {
			Edges []map[string]interface{} `json:"edges"`
		}
		decode(t, rec, &snap)
		return len(snap.Edges)
	}

	assert.Equal(t, 3, edges())

	// A write that bypasses HTTP is not visible until the entry expires.
	_, err := db.ProcessEvent(storage.Event{Wiki: "en", User: "Carol", Title: "C"})
	require.NoError(t, err)
	assert.Equal(t, 3, edges())
	assert.Equal(t, uint64(1), s.snapshots.Stats().Hits)

	// A write through POST /events drops the cache.
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/events", `{"wiki":"en","user":"Dave","title":"D"}`).Code)
	assert.Equal(t, 5, edges())
}

func TestCacheDisabled(t *testing.T) {
	_, db := setupTestServer(t)
	cfg := DefaultConfig()
	cfg.CacheTTL = 0
	s, err := New(db, prometheus.NewRegistry(), cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, s.snapshots)

	rec := do(t, s, http.MethodGet, "/summary", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
