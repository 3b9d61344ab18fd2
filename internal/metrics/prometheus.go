// ABOUTME: Prometheus metrics for the receiver
// ABOUTME: Session counters from observer events plus gauges over receiver stats
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/airstream-go/airstream/pkg/airstream"
	"github.com/airstream-go/airstream/pkg/audio"
	"github.com/airstream-go/airstream/pkg/dacp"
	"github.com/airstream-go/airstream/pkg/dmap"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatsFunc returns a receiver diagnostics snapshot
type StatsFunc func() airstream.Stats

// Metrics contains all Prometheus metrics for the receiver
type Metrics struct {
	// Session metrics
	StreamsStarted  prometheus.Counter
	StreamsStopped  prometheus.Counter
	StreamDuration  prometheus.Histogram
	Flushes         prometheus.Counter
	MetadataUpdates prometheus.Counter
	RemotesResolved prometheus.Counter

	// Remote control metrics
	RemoteCommands *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// NewMetrics creates and registers all metrics with reg. stats is polled at
// scrape time for the receiver gauges.
func NewMetrics(reg *prometheus.Registry, stats StatsFunc) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		StreamsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "airstream_streams_started_total",
			Help: "Total number of sessions that started streaming",
		}),
		StreamsStopped: factory.NewCounter(prometheus.CounterOpts{
			Name: "airstream_streams_stopped_total",
			Help: "Total number of sessions that ended",
		}),
		StreamDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "airstream_stream_duration_seconds",
			Help:    "Duration of sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5 hours
		}),
		Flushes: factory.NewCounter(prometheus.CounterOpts{
			Name: "airstream_flushes_total",
			Help: "Total number of audio flushes requested by senders",
		}),
		MetadataUpdates: factory.NewCounter(prometheus.CounterOpts{
			Name: "airstream_metadata_updates_total",
			Help: "Total number of track metadata updates",
		}),
		RemotesResolved: factory.NewCounter(prometheus.CounterOpts{
			Name: "airstream_remotes_resolved_total",
			Help: "Total number of sender remote control endpoints resolved",
		}),

		RemoteCommands: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "airstream_remote_commands_total",
			Help: "Total number of remote control commands sent",
		}, []string{"command", "result"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "airstream_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "airstream_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),

		gatherer: reg,
	}

	if stats != nil {
		registerStats(factory, stats)
	}
	return m
}

func registerStats(factory promauto.Factory, stats StatsFunc) {
	gauge := func(name, help string, value func(airstream.Stats) float64) {
		factory.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help},
			func() float64 { return value(stats()) })
	}
	counter := func(name, help string, value func(audio.BufferStats) uint64) {
		factory.NewCounterFunc(prometheus.CounterOpts{Name: name, Help: help},
			func() float64 { return float64(value(stats().Buffer)) })
	}

	gauge("airstream_running", "Whether the receiver is running", func(s airstream.Stats) float64 {
		if s.Running {
			return 1
		}
		return 0
	})
	gauge("airstream_active_sessions", "Current number of live sessions", func(s airstream.Stats) float64 {
		return float64(s.ActiveSessions)
	})
	gauge("airstream_max_sessions", "Configured session limit", func(s airstream.Stats) float64 {
		return float64(s.MaxSessions)
	})
	gauge("airstream_buffered_bytes", "Audio currently waiting in handoff buffers", func(s airstream.Stats) float64 {
		return float64(s.Buffer.Buffered)
	})

	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "airstream_sessions_total",
		Help: "Total number of sessions negotiated",
	}, func() float64 { return float64(stats().TotalSessions) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "airstream_sessions_rejected_total",
		Help: "Total number of sessions rejected",
	}, func() float64 { return float64(stats().RejectedSessions) })

	counter("airstream_buffer_written_bytes_total", "Audio bytes accepted into handoff buffers",
		func(b audio.BufferStats) uint64 { return b.Written })
	counter("airstream_buffer_dropped_bytes_total", "Audio bytes discarded on overflow",
		func(b audio.BufferStats) uint64 { return b.Dropped })
	counter("airstream_buffer_underruns_total", "Output reads padded with silence",
		func(b audio.BufferStats) uint64 { return b.Underruns })
}

// Observer returns an observer that records session events
func (m *Metrics) Observer() airstream.Observer {
	return airstream.ObserverFuncs{
		OnStreamWillStart: func(airstream.SessionInfo, audio.Format) error {
			m.StreamsStarted.Inc()
			return nil
		},
		OnStreamDidStop: func(info airstream.SessionInfo) {
			m.StreamsStopped.Inc()
			if !info.Started.IsZero() {
				m.StreamDuration.Observe(time.Since(info.Started).Seconds())
			}
		},
		OnAudioFlush: func(airstream.SessionInfo) {
			m.Flushes.Inc()
		},
		OnMetadata: func(dmap.Metadata) {
			m.MetadataUpdates.Inc()
		},
		OnRemoteAvailable: func(airstream.SessionInfo, dacp.Endpoint) {
			m.RemotesResolved.Inc()
		},
	}
}

// RecordRemoteCommand records the outcome of a remote control command
func (m *Metrics) RecordRemoteCommand(cmd dacp.Command, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, dacp.ErrRemoteUnavailable):
		result = "unavailable"
	case errors.Is(err, dacp.ErrUnknownCommand):
		result = "unknown"
	default:
		result = "error"
	}
	m.RemoteCommands.WithLabelValues(string(cmd), result).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
