package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecords(t *testing.T) {
	c := NewCollector("test")

	c.RecordIngest(12, time.Second)
	c.RecordRoute("web_search")
	c.RecordRoute("web_search")
	c.RecordDiagram("render_rejected")
	c.RecordExternal("serpapi", time.Now(), nil)
	c.RecordExternal("serpapi", time.Now(), errors.New("boom"))

	assert.Equal(t, 12.0, testutil.ToFloat64(c.vectorsUpserted))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.routeDecisions.WithLabelValues("web_search")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.diagramOutcomes.WithLabelValues("render_rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.externalCalls.WithLabelValues("serpapi", "error")))
}

func TestCollectorHandlerExposesMetrics(t *testing.T) {
	c := NewCollector("researchmcp")
	c.RecordRewrite("rewritten")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `researchmcp_rewrite_outcomes_total{outcome="rewritten"} 1`))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.RecordIngest(1, time.Second)
	c.RecordRetrieval(1, time.Second)
	c.RecordExternal("x", time.Now(), nil)
	assert.Nil(t, c.Registry())
}
