package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)

	c.ObserveCall("stats", "ok", 30*time.Millisecond)
	c.ObserveCall("stats", "ok", 40*time.Millisecond)
	c.ObserveCall("discover", "timeout", 2*time.Second)
	c.IncLoss("confirmed")
	c.AddAbandoned(1)
	c.AddAbandoned(1)
	c.AddAbandoned(-1)
	c.SetOnline(3)
	c.SetLinkRate("aa:aa", "bb:bb", 100, 50)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.BackendCalls.WithLabelValues("stats", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.BackendCalls.WithLabelValues("discover", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Losses.WithLabelValues("confirmed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.AbandonedCalls))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.OnlineAdapters))
	assert.Equal(t, 100.0, testutil.ToFloat64(c.LinkRate.WithLabelValues("aa:aa", "bb:bb", "tx")))
	assert.Equal(t, 50.0, testutil.ToFloat64(c.LinkRate.WithLabelValues("aa:aa", "bb:bb", "rx")))
}

func TestCollectorReusesRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewCollector(reg)
	require.NoError(t, err)
	second, err := NewCollector(reg)
	require.NoError(t, err)

	first.SetKnown(4)
	assert.Equal(t, 4.0, testutil.ToFloat64(second.KnownAdapters))
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObserveCall("stats", "ok", time.Millisecond)
		c.ObserveGateWait(time.Millisecond)
		c.AddAbandoned(1)
		c.ObserveCycle("presence", time.Second)
		c.IncCycleSkipped("stats")
		c.IncLoss("recovered")
		c.SetOnline(1)
		c.SetKnown(1)
		c.SetLinkRate("a", "b", 1, 2)
	})
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)
	c.SetOnline(2)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.True(t, strings.Contains(string(body), "plcmesh_adapters_online 2"))
}
