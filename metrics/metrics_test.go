package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// remoteWriteServer decodes remote write requests onto a channel.
func remoteWriteServer(t *testing.T, buffer int) (*httptest.Server, chan []prompb.TimeSeries) {
	t.Helper()
	received := make(chan []prompb.TimeSeries, buffer)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/write", r.URL.Path)
		assert.Equal(t, "snappy", r.Header.Get("Content-Encoding"))
		assert.Equal(t, "application/x-protobuf", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		decoded, err := snappy.Decode(nil, body)
		require.NoError(t, err)

		var req prompb.WriteRequest
		require.NoError(t, proto.Unmarshal(decoded, &req))
		received <- req.Timeseries
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(server.Close)
	return server, received
}

func label(ts prompb.TimeSeries, name string) string {
	for _, l := range ts.Labels {
		if l.Name == name {
			return l.Value
		}
	}
	return ""
}

func next(t *testing.T, ch chan []prompb.TimeSeries) []prompb.TimeSeries {
	t.Helper()
	select {
	case ts := <-ch:
		return ts
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for remote write")
		return nil
	}
}

func TestPushGauge_Set(t *testing.T) {
	server, received := remoteWriteServer(t, 1)

	registry := NewPushRegistry(PushConfig{
		URL:      server.URL,
		Prefix:   "flowmaster",
		Job:      "flowctl",
		Instance: "host1",
	})

	gauge, err := registry.NewGauge(prometheus.GaugeOpts{Name: "active_flows", Help: "Active flows"})
	require.NoError(t, err)
	gauge.Set(42)

	series := next(t, received)
	require.Len(t, series, 1)
	assert.Equal(t, "flowmaster_active_flows", label(series[0], "__name__"))
	assert.Equal(t, "flowctl", label(series[0], "job"))
	assert.Equal(t, "host1", label(series[0], "instance"))
	require.Len(t, series[0].Samples, 1)
	assert.Equal(t, 42.0, series[0].Samples[0].Value)
}

func TestPushGaugeVec_LabelsSorted(t *testing.T) {
	server, received := remoteWriteServer(t, 1)
	registry := NewPushRegistry(PushConfig{URL: server.URL})

	vec, err := registry.NewGaugeVec(prometheus.GaugeOpts{Name: "flows"}, []string{"status", "flow_type"})
	require.NoError(t, err)
	vec.With(prometheus.Labels{"status": "running", "flow_type": "discovery"}).Set(3)

	series := next(t, received)
	require.Len(t, series, 1)
	names := make([]string, 0, len(series[0].Labels))
	for _, l := range series[0].Labels {
		names = append(names, l.Name)
	}
	assert.Equal(t, []string{"__name__", "flow_type", "status"}, names)
	assert.Equal(t, 3.0, series[0].Samples[0].Value)
}

func TestPushCounterVec_AccumulatesPerSeries(t *testing.T) {
	server, received := remoteWriteServer(t, 3)
	registry := NewPushRegistry(PushConfig{URL: server.URL})

	vec, err := registry.NewCounterVec(prometheus.CounterOpts{Name: "operations_total"}, []string{"operation"})
	require.NoError(t, err)

	vec.With(prometheus.Labels{"operation": "create"}).Inc()
	vec.With(prometheus.Labels{"operation": "create"}).Inc()
	vec.With(prometheus.Labels{"operation": "pause"}).Inc()

	assert.Equal(t, 1.0, next(t, received)[0].Samples[0].Value)
	assert.Equal(t, 2.0, next(t, received)[0].Samples[0].Value)
	assert.Equal(t, 1.0, next(t, received)[0].Samples[0].Value)
}

func TestPushRegistry_PushBatch(t *testing.T) {
	server, received := remoteWriteServer(t, 1)
	registry := NewPushRegistry(PushConfig{URL: server.URL, Job: "flowctl"})

	err := registry.Push(context.Background(),
		Sample{Name: "a", Value: 1},
		Sample{Name: "b", Value: 2, Labels: map[string]string{"x": "y"}},
	)
	require.NoError(t, err)

	series := next(t, received)
	require.Len(t, series, 2)
	assert.Equal(t, "b", label(series[1], "__name__"))
	assert.Equal(t, "y", label(series[1], "x"))
	assert.Equal(t, "flowctl", label(series[0], "job"))

	assert.NoError(t, registry.Push(context.Background()))
}

func TestRemoteWriter_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer server.Close()

	w := NewRemoteWriter(server.URL, "", nil, time.Second)
	err := w.Write(context.Background(), Sample{Name: "x", Value: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 400")
}

func TestScrapeRegistry(t *testing.T) {
	registry, err := NewScrapeRegistry("flowmaster")
	require.NoError(t, err)

	gauge, err := registry.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "A test gauge"})
	require.NoError(t, err)
	gauge.Set(42)

	counter, err := registry.NewCounterVec(prometheus.CounterOpts{Name: "test_ops_total", Help: "A test counter"}, []string{"op"})
	require.NoError(t, err)
	counter.With(prometheus.Labels{"op": "create"}).Inc()

	hist, err := registry.NewHistogramVec(prometheus.HistogramOpts{Name: "test_latency", Help: "A test histogram"}, []string{"op"})
	require.NoError(t, err)
	hist.With(prometheus.Labels{"op": "create"}).Observe(12)

	_, err = registry.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "duplicate"})
	assert.Error(t, err)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	registry.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, "flowmaster_test_gauge 42")
	assert.Contains(t, body, `flowmaster_test_ops_total{op="create"} 1`)
	assert.Contains(t, body, `flowmaster_test_latency_count{op="create"} 1`)
}

func TestNop(t *testing.T) {
	reg := Nop()
	g, err := reg.NewGaugeVec(prometheus.GaugeOpts{Name: "x"}, []string{"a"})
	require.NoError(t, err)
	g.With(prometheus.Labels{"a": "b"}).Set(1)

	c, err := reg.NewCounter(prometheus.CounterOpts{Name: "y"})
	require.NoError(t, err)
	c.Inc()

	h, err := reg.NewHistogramVec(prometheus.HistogramOpts{Name: "z"}, nil)
	require.NoError(t, err)
	h.With(nil).Observe(1)
}
