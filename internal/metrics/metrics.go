package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector exposes Prometheus counters for one scraper run. A nil Collector
// is valid and turns every recording method into a no-op, so callers never
// have to branch on whether metrics are enabled.
type Collector struct {
	registry *prometheus.Registry

	eventsScraped   *prometheus.CounterVec
	eventsInvalid   prometheus.Counter
	eventsFiltered  prometheus.Counter
	eventsDuplicate prometheus.Counter
	eventsPersisted prometheus.Counter
	eventsDeleted   prometheus.Counter
	sourceFailures  *prometheus.CounterVec
	geocodeLookups  *prometheus.CounterVec
	imageLookups    *prometheus.CounterVec
}

// NewCollector constructs a collector with all pipeline counters registered.
func NewCollector() (*Collector, error) {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		eventsScraped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blissbase",
			Subsystem: "scraper",
			Name:      "events_scraped_total",
			Help:      "Raw events produced by source adapters.",
		}, []string{"source"}),
		eventsInvalid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blissbase",
			Subsystem: "scraper",
			Name:      "events_invalid_total",
			Help:      "Events dropped for missing required fields.",
		}),
		eventsFiltered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blissbase",
			Subsystem: "scraper",
			Name:      "events_span_filtered_total",
			Help:      "Events dropped for spanning too many days.",
		}),
		eventsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blissbase",
			Subsystem: "scraper",
			Name:      "events_duplicate_total",
			Help:      "Events discarded by slug deduplication.",
		}),
		eventsPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blissbase",
			Subsystem: "scraper",
			Name:      "events_persisted_total",
			Help:      "Events upserted into the store.",
		}),
		eventsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blissbase",
			Subsystem: "scraper",
			Name:      "events_deleted_total",
			Help:      "Stale events removed by reconciliation.",
		}),
		sourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blissbase",
			Subsystem: "scraper",
			Name:      "source_failures_total",
			Help:      "Source adapters that failed to produce records.",
		}, []string{"source"}),
		geocodeLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blissbase",
			Subsystem: "scraper",
			Name:      "geocode_lookups_total",
			Help:      "Geocode cache lookups by outcome.",
		}, []string{"outcome"}),
		imageLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blissbase",
			Subsystem: "scraper",
			Name:      "image_lookups_total",
			Help:      "Image cache lookups by outcome.",
		}, []string{"outcome"}),
	}

	collectors := []prometheus.Collector{
		c.eventsScraped, c.eventsInvalid, c.eventsFiltered, c.eventsDuplicate,
		c.eventsPersisted, c.eventsDeleted, c.sourceFailures,
		c.geocodeLookups, c.imageLookups,
	}
	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Handler returns an HTTP handler exposing the registered metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// EventsScraped records raw adapter output.
func (c *Collector) EventsScraped(source string, n int) {
	if c == nil {
		return
	}
	c.eventsScraped.WithLabelValues(source).Add(float64(n))
}

// EventInvalid records a record dropped by validation.
func (c *Collector) EventInvalid() {
	if c == nil {
		return
	}
	c.eventsInvalid.Inc()
}

// EventsSpanFiltered records records dropped by the span filter.
func (c *Collector) EventsSpanFiltered(n int) {
	if c == nil {
		return
	}
	c.eventsFiltered.Add(float64(n))
}

// EventsDeduplicated records records discarded by slug deduplication.
func (c *Collector) EventsDeduplicated(n int) {
	if c == nil {
		return
	}
	c.eventsDuplicate.Add(float64(n))
}

// EventsPersisted records upserted records.
func (c *Collector) EventsPersisted(n int) {
	if c == nil {
		return
	}
	c.eventsPersisted.Add(float64(n))
}

// EventsDeleted records stale records removed by reconciliation.
func (c *Collector) EventsDeleted(n int) {
	if c == nil {
		return
	}
	c.eventsDeleted.Add(float64(n))
}

// SourceFailed records a source adapter failure.
func (c *Collector) SourceFailed(source string) {
	if c == nil {
		return
	}
	c.sourceFailures.WithLabelValues(source).Inc()
}

// GeocodeLookup records a geocode cache lookup outcome ("hit", "miss",
// "unresolved" or "error").
func (c *Collector) GeocodeLookup(outcome string) {
	if c == nil {
		return
	}
	c.geocodeLookups.WithLabelValues(outcome).Inc()
}

// ImageLookup records an image cache lookup outcome ("hit", "miss" or
// "failure").
func (c *Collector) ImageLookup(outcome string) {
	if c == nil {
		return
	}
	c.imageLookups.WithLabelValues(outcome).Inc()
}
