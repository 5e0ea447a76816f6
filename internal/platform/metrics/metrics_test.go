package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncRequests()
		m.IncErrors()
		m.ObserveStatusTransition("idle", "initializing")
		m.ObserveInitAttempt("success")
		m.ObserveQualitySwitch("switched")
		m.AddActiveSessions(1)
		m.SetNetwork(1e6, 4)
		m.IncProbeFailures()
		m.SetBuffer(time.Second, 2*time.Second)
		m.IncBufferRequests()
		m.SetDrift(40 * time.Millisecond)
		m.IncSyncCorrections("video")
		m.ObserveCacheLookup(true)
		m.SetCacheEntries(3)
	})
}

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.ObserveStatusTransition("paused", "playing")
	m.ObserveStatusTransition("paused", "playing")
	m.ObserveCacheLookup(true)
	m.ObserveCacheLookup(false)
	m.ObserveCacheLookup(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.statusTransitions.WithLabelValues("paused", "playing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheHits))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheMisses))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	called := false
	h := m.Handler(func() {
		called = true
		m.SetCacheEntries(7)
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)
	assert.True(t, strings.Contains(rec.Body.String(), "player_manifest_cache_entries 7"))
}

func TestRequestMiddleware(t *testing.T) {
	m := New()
	mw := RequestMiddleware(m)
	ok := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	bad := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	ok.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	bad.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errorsTotal))
}
