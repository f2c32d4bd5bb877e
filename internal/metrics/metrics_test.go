package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetricsAreIndependent(t *testing.T) {
	a := New()
	b := New()

	a.CacheHit()
	a.CacheHit()
	a.CacheMiss()

	out := scrape(t, a)
	assert.Contains(t, out, `sfpools_extraction_cache_total{result="hit"} 2`)
	assert.Contains(t, out, `sfpools_extraction_cache_total{result="miss"} 1`)
	assert.NotContains(t, scrape(t, b), "sfpools_extraction_cache_total{")
}

func TestObserveRunAndChanges(t *testing.T) {
	m := New()

	m.SetFacilities(7, 2, 2)
	m.ObserveChanges(3, 1, 2, 1)
	m.ObserveRun(time.Now().Add(-time.Second), "ok")

	out := scrape(t, m)
	assert.Contains(t, out, `sfpools_facilities{outcome="processed"} 7`)
	assert.Contains(t, out, `sfpools_facilities{outcome="failed"} 2`)
	assert.Contains(t, out, `sfpools_program_changes_total{kind="added"} 3`)
	assert.Contains(t, out, "sfpools_last_run_severity 1")
	assert.Contains(t, out, `sfpools_runs_total{result="ok"} 1`)
	assert.Contains(t, out, "sfpools_run_duration_seconds_count 1")
	assert.NotContains(t, out, "sfpools_last_successful_run_timestamp_seconds 0\n")
}
