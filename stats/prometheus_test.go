package stats_test

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvengine/corekv/stats"
)

func TestPrometheusExporterRefreshAndScrape(t *testing.T) {
	exp := stats.NewPrometheusExporter("corekv_test", "mycache")

	exp.Refresh(stats.Snapshot{Hits: 5, Misses: 2, Prunes: 1, Evicted: 3, Expired: 1, AvgGet: 2 * time.Millisecond}, 10, 20)
	// A second refresh must only add the delta, not double-count.
	exp.Refresh(stats.Snapshot{Hits: 8, Misses: 2, Prunes: 2, Evicted: 3, Expired: 1, AvgGet: 3 * time.Millisecond}, 12, 22)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	exp.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	out := string(body)
	assert.Contains(t, out, `corekv_test_hits_total{cache="mycache"} 8`)
	assert.Contains(t, out, `corekv_test_misses_total{cache="mycache"} 2`)
	assert.Contains(t, out, `corekv_test_keys{cache="mycache"} 12`)
	assert.Contains(t, out, `corekv_test_units{cache="mycache"} 22`)
}
