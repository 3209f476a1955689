package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	Pings          *prometheus.CounterVec // outcome label: applied|unchanged|unknown_vehicle|no_active_trip|stationary|invalid|error
	PingDuration   prometheus.Histogram
	Transitions    *prometheus.CounterVec // kind label: trip_started|stop_arrived|trip_completed
	ProgressNew    prometheus.Counter
	ApplyConflicts prometheus.Counter

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	MQTTMessages  *prometheus.CounterVec // result label: accepted|rejected|failed
	MQTTConnected prometheus.Gauge

	RateLimited prometheus.Counter
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Pings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_pings_total",
			Help: "Pings handled, by outcome.",
		}, []string{"outcome"}),
		PingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_ping_duration_seconds",
			Help:    "Time to handle one ping.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_transitions_total",
			Help: "Trip progress transitions persisted, by kind.",
		}, []string{"kind"}),
		ProgressNew: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_progress_created_total",
			Help: "Trip progress records created.",
		}),
		ApplyConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_apply_conflicts_total",
			Help: "Conditional updates that lost to a concurrent change.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		MQTTMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_mqtt_messages_total",
			Help: "MQTT ping messages received, by result.",
		}, []string{"result"}),
		MQTTConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_mqtt_connected",
			Help: "1 if the MQTT client is connected, 0 otherwise.",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_rate_limited_total",
			Help: "HTTP requests rejected by the rate limiter.",
		}),
	}

	reg.MustRegister(
		c.Pings, c.PingDuration, c.Transitions, c.ProgressNew, c.ApplyConflicts,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.MQTTMessages, c.MQTTConnected, c.RateLimited,
	)
	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Registry exposes the private registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) ObservePing(result string, d time.Duration) {
	c.Pings.WithLabelValues(result).Inc()
	c.PingDuration.Observe(d.Seconds())
}

func (c *Collector) ObserveTransition(kind string) { c.Transitions.WithLabelValues(kind).Inc() }
func (c *Collector) ObserveProgressCreated()       { c.ProgressNew.Inc() }
func (c *Collector) ObserveApplyConflict()         { c.ApplyConflicts.Inc() }

func (c *Collector) NATSPublishedInc()              { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc()             { c.NATSPublishErrs.Inc() }
func (c *Collector) PublishObserve(d time.Duration) { c.PublishDuration.Observe(d.Seconds()) }

func (c *Collector) NATSSetConnected(connected bool) { setBool(c.NATSConnected, connected) }
func (c *Collector) MQTTSetConnected(connected bool) { setBool(c.MQTTConnected, connected) }

func (c *Collector) MQTTMessage(result string) { c.MQTTMessages.WithLabelValues(result).Inc() }

func (c *Collector) RateLimitedInc() { c.RateLimited.Inc() }

func setBool(g prometheus.Gauge, v bool) {
	if v {
		g.Set(1)
		return
	}
	g.Set(0)
}
