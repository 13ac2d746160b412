package metrics

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
)

// DefaultTimeout bounds a single remote write request.
const DefaultTimeout = 30 * time.Second

// Sample is a single metric point sent over remote write.
type Sample struct {
	Name      string
	Value     float64
	Labels    map[string]string
	Timestamp time.Time
}

// RemoteWriter sends samples to a Prometheus remote write endpoint
// (Prometheus, VictoriaMetrics, Mimir).
type RemoteWriter struct {
	url        string
	httpClient *http.Client
	prefix     string
	// static labels added to every sample, e.g. job and instance
	static map[string]string
}

// NewRemoteWriter creates a writer for baseURL. Sample names are prefixed
// with prefix and an underscore when prefix is set.
func NewRemoteWriter(baseURL, prefix string, static map[string]string, timeout time.Duration) *RemoteWriter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &RemoteWriter{
		url:        baseURL + "/api/v1/write",
		httpClient: &http.Client{Timeout: timeout},
		prefix:     prefix,
		static:     static,
	}
}

// Write sends samples in a single request.
func (w *RemoteWriter) Write(ctx context.Context, samples ...Sample) error {
	if len(samples) == 0 {
		return nil
	}

	req := &prompb.WriteRequest{
		Timeseries: make([]prompb.TimeSeries, 0, len(samples)),
	}
	for _, s := range samples {
		req.Timeseries = append(req.Timeseries, w.timeSeries(s))
	}

	data, err := proto.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling write request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(snappy.Encode(nil, data)))
	if err != nil {
		return fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Encoding", "snappy")
	httpReq.Header.Set("Content-Type", "application/x-protobuf")
	httpReq.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")

	resp, err := w.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// timeSeries converts a sample to a TimeSeries with labels sorted by name,
// as remote write receivers expect.
func (w *RemoteWriter) timeSeries(s Sample) prompb.TimeSeries {
	name := s.Name
	if w.prefix != "" {
		name = w.prefix + "_" + name
	}

	labels := make([]prompb.Label, 0, len(s.Labels)+len(w.static)+1)
	labels = append(labels, prompb.Label{Name: "__name__", Value: name})
	for k, v := range w.static {
		if v != "" {
			labels = append(labels, prompb.Label{Name: k, Value: v})
		}
	}
	for k, v := range s.Labels {
		labels = append(labels, prompb.Label{Name: k, Value: v})
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i].Name < labels[j].Name })

	ts := s.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return prompb.TimeSeries{
		Labels:  labels,
		Samples: []prompb.Sample{{Value: s.Value, Timestamp: ts.UnixMilli()}},
	}
}
