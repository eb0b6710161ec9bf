package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Collector struct {
	// Poll cycle metrics
	pollCycles     *prometheus.CounterVec
	pollDuration   prometheus.Histogram
	droppedRecords prometheus.Counter

	// Vendor API metrics
	vendorRequests *prometheus.CounterVec

	// Account metrics
	accountBalance prometheus.Gauge
	proxyCount     prometheus.Gauge

	// Per-proxy metrics
	bandwidthRemaining *prometheus.GaugeVec
	proxyUp            *prometheus.GaugeVec
	probeLatency       prometheus.Histogram

	// API metrics
	apiRequests *prometheus.CounterVec
	apiDuration *prometheus.HistogramVec
}

func NewCollector(namespace string) *Collector {
	c := &Collector{
		pollCycles: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "poll_cycles_total",
				Help:      "Total number of poll cycles by result",
			},
			[]string{"result"},
		),
		pollDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "poll_cycle_duration_seconds",
				Help:      "Poll cycle duration in seconds",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		droppedRecords: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dropped_records_total",
				Help:      "Total number of proxy records dropped for lacking an identifier",
			},
		),
		vendorRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "vendor_requests_total",
				Help:      "Total number of vendor API requests",
			},
			[]string{"endpoint", "result"},
		),
		accountBalance: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "account_balance",
				Help:      "Current account balance in the account currency",
			},
		),
		proxyCount: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "proxy_count",
				Help:      "Number of proxies in the last snapshot",
			},
		),
		bandwidthRemaining: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "bandwidth_remaining_gb",
				Help:      "Remaining bandwidth per metered proxy",
			},
			[]string{"proxy"},
		),
		proxyUp: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "proxy_up",
				Help:      "Whether the last reachability probe of the proxy succeeded",
			},
			[]string{"proxy"},
		),
		probeLatency: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "probe_latency_seconds",
				Help:      "Proxy reachability probe latency in seconds",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		apiRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of API requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		apiDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
	}

	return c
}

func (c *Collector) RecordPollCycle(result string, seconds float64) {
	c.pollCycles.WithLabelValues(result).Inc()
	c.pollDuration.Observe(seconds)
}

func (c *Collector) RecordDroppedRecords(count int) {
	c.droppedRecords.Add(float64(count))
}

func (c *Collector) RecordVendorRequest(endpoint, result string) {
	c.vendorRequests.WithLabelValues(endpoint, result).Inc()
}

func (c *Collector) SetAccountBalance(balance float64) {
	c.accountBalance.Set(balance)
}

func (c *Collector) SetProxyCount(count int) {
	c.proxyCount.Set(float64(count))
}

func (c *Collector) SetBandwidthRemaining(proxy string, gb float64) {
	c.bandwidthRemaining.WithLabelValues(proxy).Set(gb)
}

func (c *Collector) ClearBandwidthRemaining(proxy string) {
	c.bandwidthRemaining.DeleteLabelValues(proxy)
}

func (c *Collector) SetProxyUp(proxy string, up bool) {
	v := 0.0
	if up {
		v = 1.0
	}
	c.proxyUp.WithLabelValues(proxy).Set(v)
}

func (c *Collector) ClearProxy(proxy string) {
	c.bandwidthRemaining.DeleteLabelValues(proxy)
	c.proxyUp.DeleteLabelValues(proxy)
}

func (c *Collector) RecordProbeLatency(seconds float64) {
	c.probeLatency.Observe(seconds)
}

func (c *Collector) RecordAPIRequest(method, endpoint, status string) {
	c.apiRequests.WithLabelValues(method, endpoint, status).Inc()
}

func (c *Collector) RecordAPIDuration(method, endpoint string, seconds float64) {
	c.apiDuration.WithLabelValues(method, endpoint).Observe(seconds)
}
