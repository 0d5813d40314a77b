package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dpup/movilidad/server/internal/cache"
)

// Street pair outcomes
const (
	OutcomeConnected = "connected"
	OutcomeUnmatched = "unmatched"
	OutcomeError     = "error"
)

type Collector struct {
	reg *prometheus.Registry

	RoutesSegmented prometheus.Counter
	SegmentsEmitted prometheus.Counter
	ImportFailures  *prometheus.CounterVec // stage label: fetch|validate|persist|publish

	StreetPairs *prometheus.CounterVec // outcome label: connected|unmatched|error

	UpstreamErrors   *prometheus.CounterVec   // source label: red|nominatim|osrm|uoct|metro
	UpstreamDuration *prometheus.HistogramVec // source label

	RowsWritten *prometheus.CounterVec // table label: calles|metro|conexiones

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	LastImportTimestamp prometheus.Gauge
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		RoutesSegmented: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "movilidad_routes_segmented_total",
			Help: "Total route directions run through segmentation.",
		}),
		SegmentsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "movilidad_segments_emitted_total",
			Help: "Total GeoJSON features emitted by segmentation.",
		}),
		ImportFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "movilidad_import_failures_total",
			Help: "Route import failures by stage.",
		}, []string{"stage"}),
		StreetPairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "movilidad_street_pairs_total",
			Help: "Street pairs processed by outcome.",
		}, []string{"outcome"}),
		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "movilidad_upstream_errors_total",
			Help: "Failed upstream requests by source.",
		}, []string{"source"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "movilidad_upstream_duration_seconds",
			Help:    "Duration of upstream requests by source.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"source"}),
		RowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "movilidad_rows_written_total",
			Help: "Rows written to PostGIS by table.",
		}, []string{"table"}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "movilidad_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "movilidad_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "movilidad_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "movilidad_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		LastImportTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "movilidad_last_import_timestamp_seconds",
			Help: "Unix time of the last completed batch import.",
		}),
	}

	reg.MustRegister(
		c.RoutesSegmented, c.SegmentsEmitted, c.ImportFailures,
		c.StreetPairs, c.UpstreamErrors, c.UpstreamDuration, c.RowsWritten,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.LastImportTimestamp,
	)

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// TrackCache exports cache occupancy, read from stats on every scrape
func (c *Collector) TrackCache(stats func() cache.Stats) {
	entries := func(state string, count func(cache.Stats) int) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "movilidad_cache_entries",
			Help:        "Cached entries by freshness.",
			ConstLabels: prometheus.Labels{"state": state},
		}, func() float64 { return float64(count(stats())) })
	}

	c.reg.MustRegister(
		entries("fresh", func(s cache.Stats) int { return s.FreshEntries }),
		entries("stale", func(s cache.Stats) int { return s.StaleEntries }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "movilidad_cache_oldest_entry_age_seconds",
			Help: "Age of the oldest cached entry.",
		}, func() float64 {
			oldest := stats().OldestEntry
			if oldest.IsZero() {
				return 0
			}
			return time.Since(oldest).Seconds()
		}),
	)
}

// ObserveUpstream records the duration and outcome of one upstream request
func (c *Collector) ObserveUpstream(source string, start time.Time, err error) {
	c.UpstreamDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
	if err != nil {
		c.UpstreamErrors.WithLabelValues(source).Inc()
	}
}

// The following satisfy publisher.PublisherMetrics

func (c *Collector) IncNATSPublished() { c.NATSPublished.Inc() }
func (c *Collector) IncNATSPublishErr() { c.NATSPublishErrs.Inc() }
func (c *Collector) ObservePublishDuration(d time.Duration) { c.PublishDuration.Observe(d.Seconds()) }

func (c *Collector) SetNATSConnected(v bool) {
	if v {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}
