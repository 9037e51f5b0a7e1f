package scholar

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"researchmcp/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func unthrottled() *rate.Limiter { return rate.NewLimiter(rate.Inf, 1) }

func TestSearchRetriesOnceThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/paper/search", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("x-api-key"))
		assert.Contains(t, r.Header.Get("User-Agent"), "researchmcp")
		q := r.URL.Query()
		assert.Equal(t, "attention", q.Get("query"))
		assert.Equal(t, "20", q.Get("limit"))
		assert.Equal(t, "0", q.Get("offset"))
		assert.Contains(t, q.Get("fields"), "openAccessPdf")
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"paperId":"abc","title":"Attention","year":2017,"externalIds":{"ArXiv":"1706.03762"},"openAccessPdf":{"url":"https://x/p.pdf"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(Options{APIKey: "k", BaseURL: srv.URL, Gate: unthrottled(), RetryDelay: time.Millisecond})
	papers, err := c.Search(context.Background(), "  attention ", 50)
	require.NoError(t, err)
	require.Len(t, papers, 1)
	assert.Equal(t, "abc", papers[0].PaperID)
	assert.Equal(t, 2017, papers[0].Year)
	assert.Equal(t, "https://x/p.pdf", papers[0].OpenAccessPDF.URL)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSearchSwallowsPersistentFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(Options{APIKey: "k", BaseURL: srv.URL, Gate: unthrottled(), RetryDelay: time.Millisecond})
	papers, err := c.Search(context.Background(), "x", 0)
	require.NoError(t, err)
	assert.Empty(t, papers)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSearchMissingKeyAndEmptyQuery(t *testing.T) {
	c := NewClient(Options{Gate: unthrottled()})
	papers, err := c.Search(context.Background(), "   ", 5)
	require.NoError(t, err)
	assert.Empty(t, papers)

	_, err = c.Search(context.Background(), "attention", 5)
	require.ErrorIs(t, err, util.ErrMissingCredential)
}

func TestSearchSharesRateGate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	gate := rate.NewLimiter(rate.Every(60*time.Millisecond), 1)
	a := NewClient(Options{APIKey: "k", BaseURL: srv.URL, Gate: gate})
	b := NewClient(Options{APIKey: "k", BaseURL: srv.URL, Gate: gate})

	start := time.Now()
	_, err := a.Search(context.Background(), "one", 1)
	require.NoError(t, err)
	_, err = b.Search(context.Background(), "two", 1)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 45*time.Millisecond)
}

func TestFindByID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"paperId":"a","title":"A"},{"paperId":"b","title":"B"}]}`))
	}))
	defer srv.Close()
	c := NewClient(Options{APIKey: "k", BaseURL: srv.URL, Gate: unthrottled()})

	p, ok, err := c.FindByID(context.Background(), "b", "B")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "B", p.Title)

	_, ok, err = c.FindByID(context.Background(), "zzz", "")
	require.NoError(t, err)
	assert.False(t, ok)
}
