package stats

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStatsUpdater(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux)
	assert.NotNil(t, su, "expected StatsUpdater to be non-nil")
	assert.NotNil(t, su.updateChan, "expected updateChan to be initialized")
	handler, pattern := mux.Handler(&http.Request{URL: &url.URL{Path: "/debug/vars"}, Method: http.MethodGet})
	assert.NotNil(t, handler, "expected handler for /debug/vars to be set")
	assert.Equal(t, "GET /debug/vars", pattern, "expected handler to be registered for GET method on /debug/vars")
}

func TestStatsUpdater_IncrDecr(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux)
	su.RegisterMetric(NumActiveClients)
	su.Run()
	defer su.Stop()

	su.Incr(NumActiveClients)
	su.Incr(NumActiveClients)
	su.Decr(NumActiveClients)

	assert.Eventually(t, func() bool {
		v := su.vars.Get(NumActiveClients)
		return v != nil && v.String() == "1"
	}, time.Second, 10*time.Millisecond, "expected counter to settle at 1")

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/debug/vars", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body[NumActiveClients], "expected counter in response")
	assert.Contains(t, body, "Uptime", "expected uptime in response")
}

func TestStatsUpdater_StopTwice(t *testing.T) {
	su := NewStatsUpdater(http.NewServeMux())
	su.Run()
	su.Stop()
	assert.NotPanics(t, su.Stop, "expected second Stop to be a no-op")
}

func TestStatsUpdater_UpdateAfterStop(t *testing.T) {
	su := NewStatsUpdater(http.NewServeMux())
	su.RegisterMetric(NumActiveClients)
	su.Run()
	su.Stop()

	assert.NotPanics(t, func() {
		su.Incr(NumActiveClients)
		su.Decr(NumActiveClients)
	}, "expected updates after Stop to be dropped")
}

func TestStatsUpdater_UpdateAfterStopWithFullQueue(t *testing.T) {
	su := NewStatsUpdater(http.NewServeMux())
	su.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < cap(su.updateChan)+10; i++ {
			su.Decr(NumActiveClients)
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected updates after Stop never to block")
	}
}
