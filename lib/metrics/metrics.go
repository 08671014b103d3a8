// Copyright 2026 The Stashwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes stashwatch's counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stashwatch/stashwatch/lib/diff"
	"github.com/stashwatch/stashwatch/lib/dispatch"
	"github.com/stashwatch/stashwatch/lib/feed"
)

const namespace = "stashwatch"

// Sources are read on every scrape. Nil sources are skipped.
type Sources struct {
	Engine     interface{ Stats() diff.Stats }
	Dispatcher interface{ Stats() dispatch.Stats }
	Tracker    interface{ Committed() int64 }
}

// Collector is a prometheus.Collector for the poller pipeline. It
// implements the poller's Observer interface for fetch outcomes and
// reads everything else from its Sources at scrape time.
type Collector struct {
	sources Sources

	fetches       *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	backoff       prometheus.Gauge
	pageBytes     prometheus.Counter
	events        *prometheus.CounterVec
	ledgerErrors  prometheus.Counter

	knownStashes    *prometheus.Desc
	knownItems      *prometheus.Desc
	queuedBatches   *prometheus.Desc
	queuedBytes     *prometheus.Desc
	deliveries      *prometheus.Desc
	droppedBatches  *prometheus.Desc
	droppedEvents   *prometheus.Desc
	reloads         *prometheus.Desc
	cursorsAdvanced *prometheus.Desc
}

// NewCollector returns a Collector reading from sources.
func NewCollector(sources Sources) *Collector {
	return &Collector{
		sources: sources,
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Feed page fetches by result.",
		}, []string{"result"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Time to fetch and decode a feed page.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		backoff: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fetch_backoff_seconds",
			Help:      "Backoff after the latest failed fetch; zero once a fetch succeeds.",
		}),
		pageBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "page_bytes_total",
			Help:      "Decoded bytes of feed pages fetched.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Change events produced by the diff engine, by kind.",
		}, []string{"kind"}),
		ledgerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_errors_total",
			Help:      "Pages that could not be written to the ledger.",
		}),
		knownStashes: prometheus.NewDesc(namespace+"_known_stashes",
			"Stashes in the known state.", nil, nil),
		knownItems: prometheus.NewDesc(namespace+"_known_items",
			"Items in the known state.", nil, nil),
		queuedBatches: prometheus.NewDesc(namespace+"_dispatch_queued_batches",
			"Pages waiting for delivery.", nil, nil),
		queuedBytes: prometheus.NewDesc(namespace+"_dispatch_queued_bytes",
			"Serialized event bytes waiting for delivery.", nil, nil),
		deliveries: prometheus.NewDesc(namespace+"_dispatch_deliveries_total",
			"Event deliveries by result.", []string{"result"}, nil),
		droppedBatches: prometheus.NewDesc(namespace+"_dispatch_dropped_batches_total",
			"Pages dropped from a full delivery queue.", nil, nil),
		droppedEvents: prometheus.NewDesc(namespace+"_dispatch_dropped_events_total",
			"Events dropped with their pages.", nil, nil),
		reloads: prometheus.NewDesc(namespace+"_dispatch_reloads_total",
			"Reload requests by result.", []string{"result"}, nil),
		cursorsAdvanced: prometheus.NewDesc(namespace+"_cursor_advances_total",
			"Cursors committed after their page was processed.", nil, nil),
	}
}

// FetchSucceeded records a fetched page.
func (c *Collector) FetchSucceeded(batch *feed.Batch, elapsed time.Duration) {
	c.fetches.WithLabelValues("ok").Inc()
	c.fetchDuration.Observe(elapsed.Seconds())
	c.pageBytes.Add(float64(batch.Size))
	c.backoff.Set(0)
}

// FetchFailed records a failed fetch and the backoff before the retry.
func (c *Collector) FetchFailed(_ error, backoff time.Duration) {
	c.fetches.WithLabelValues("error").Inc()
	c.backoff.Set(backoff.Seconds())
}

// EventsProduced records the events of one page.
func (c *Collector) EventsProduced(adds, removes int) {
	c.events.WithLabelValues(diff.Add.String()).Add(float64(adds))
	c.events.WithLabelValues(diff.Remove.String()).Add(float64(removes))
}

// LedgerFailed records a page the ledger could not store.
func (c *Collector) LedgerFailed() {
	c.ledgerErrors.Inc()
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.fetches.Describe(ch)
	c.fetchDuration.Describe(ch)
	c.backoff.Describe(ch)
	c.pageBytes.Describe(ch)
	c.events.Describe(ch)
	c.ledgerErrors.Describe(ch)
	for _, desc := range []*prometheus.Desc{
		c.knownStashes, c.knownItems, c.queuedBatches, c.queuedBytes,
		c.deliveries, c.droppedBatches, c.droppedEvents, c.reloads, c.cursorsAdvanced,
	} {
		ch <- desc
	}
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.fetches.Collect(ch)
	c.fetchDuration.Collect(ch)
	c.backoff.Collect(ch)
	c.pageBytes.Collect(ch)
	c.events.Collect(ch)
	c.ledgerErrors.Collect(ch)

	if c.sources.Engine != nil {
		stats := c.sources.Engine.Stats()
		ch <- prometheus.MustNewConstMetric(c.knownStashes, prometheus.GaugeValue, float64(stats.Stashes))
		ch <- prometheus.MustNewConstMetric(c.knownItems, prometheus.GaugeValue, float64(stats.Items))
	}
	if c.sources.Dispatcher != nil {
		stats := c.sources.Dispatcher.Stats()
		ch <- prometheus.MustNewConstMetric(c.queuedBatches, prometheus.GaugeValue, float64(stats.QueuedUnits))
		ch <- prometheus.MustNewConstMetric(c.queuedBytes, prometheus.GaugeValue, float64(stats.QueuedBytes))
		ch <- prometheus.MustNewConstMetric(c.deliveries, prometheus.CounterValue, float64(stats.DeliveredEvents), "ok")
		ch <- prometheus.MustNewConstMetric(c.deliveries, prometheus.CounterValue, float64(stats.FailedEvents), "error")
		ch <- prometheus.MustNewConstMetric(c.droppedBatches, prometheus.CounterValue, float64(stats.DroppedUnits))
		ch <- prometheus.MustNewConstMetric(c.droppedEvents, prometheus.CounterValue, float64(stats.DroppedEvents))
		ch <- prometheus.MustNewConstMetric(c.reloads, prometheus.CounterValue, float64(stats.Reloads-stats.FailedReloads), "ok")
		ch <- prometheus.MustNewConstMetric(c.reloads, prometheus.CounterValue, float64(stats.FailedReloads), "error")
	}
	if c.sources.Tracker != nil {
		ch <- prometheus.MustNewConstMetric(c.cursorsAdvanced, prometheus.CounterValue, float64(c.sources.Tracker.Committed()))
	}
}

// NewRegistry returns a registry holding collector and the Go runtime
// and process collectors.
func NewRegistry(collector *Collector) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collector,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

// Handler serves registry in the Prometheus exposition format.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
