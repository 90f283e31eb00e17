// Prometheus metrics for the client session transport, adapted from the
// transport layer's metric catalogue to this protocol's commands.
//
// # Metric catalogue
//
//	clientsession_connection_attempts_total   – counter: times the client tried to dial the server
//	clientsession_connection_errors_total     – counter: dial attempts that failed
//	clientsession_data_frames_sent_total      – counter: data frames sent
//	clientsession_send_errors_total           – counter: frame writes that returned an error
//	clientsession_recv_errors_total           – counter: reply reads that returned an error
//	clientsession_connected                   – gauge:   1 when a connection is open, 0 otherwise
package clientsession

import (
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
)

// Metrics holds counters and gauges for one client's transport activity.
// The zero value is ready to use.
type Metrics struct {
	ConnectionAttempts atomic.Int64
	ConnectionErrors   atomic.Int64
	DataFramesSent     atomic.Int64
	SendErrors         atomic.Int64
	RecvErrors         atomic.Int64
	Connected          atomic.Int64
}

// NewMetrics allocates a new Metrics value with all counters at zero.
func NewMetrics() *Metrics {
	return &Metrics{}
}

type metricLine struct {
	help  string
	kind  string
	name  string
	value int64
}

func (m *Metrics) snapshot() []metricLine {
	return []metricLine{
		{"Total number of connection attempts made by the client session.", "counter", "clientsession_connection_attempts_total", m.ConnectionAttempts.Load()},
		{"Total number of connection attempts that failed.", "counter", "clientsession_connection_errors_total", m.ConnectionErrors.Load()},
		{"Total number of data frames sent.", "counter", "clientsession_data_frames_sent_total", m.DataFramesSent.Load()},
		{"Total number of frame writes that returned an error.", "counter", "clientsession_send_errors_total", m.SendErrors.Load()},
		{"Total number of reply reads that returned an error.", "counter", "clientsession_recv_errors_total", m.RecvErrors.Load()},
		{"1 when a connection is currently open, 0 otherwise.", "gauge", "clientsession_connected", m.Connected.Load()},
	}
}

// Handler returns an http.Handler serving these metrics in Prometheus text
// exposition format on every GET request.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		writeMetrics(w, m.snapshot())
	})
}

func writeMetrics(w io.Writer, lines []metricLine) {
	for _, l := range lines {
		fmt.Fprintf(w, "# HELP %s %s\n", l.name, l.help)
		fmt.Fprintf(w, "# TYPE %s %s\n", l.name, l.kind)
		fmt.Fprintf(w, "%s %d\n", l.name, l.value)
	}
}
