package stats

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func MilisecondsElapsed(from time.Time) float64 {
	return float64(time.Since(from)) / float64(time.Millisecond)
}

var (
	prometheusMetricsFactory promauto.Factory = promauto.With(prometheus.DefaultRegisterer)
	gauges                   map[string]prometheus.Gauge = map[string]prometheus.Gauge{
		"connectedClients": prometheusMetricsFactory.NewGauge(prometheus.GaugeOpts{
			Name: "perch_connected_clients",
			Help: "The number of clients currently registered.",
		}),
	}
	counters map[string]prometheus.Counter = map[string]prometheus.Counter{
		"checksumFailures": prometheusMetricsFactory.NewCounter(prometheus.CounterOpts{
			Name: "perch_checksum_failures_total",
			Help: "The number of reads failed because of a message checksum mismatch.",
		}),
		"groupRebalances": prometheusMetricsFactory.NewCounter(prometheus.CounterOpts{
			Name: "perch_group_rebalances_total",
			Help: "The number of consumer group partition reassignments.",
		}),
	}
	counterVecs map[string]*prometheus.CounterVec = map[string]*prometheus.CounterVec{
		"messagesAppended": prometheusMetricsFactory.NewCounterVec(prometheus.CounterOpts{
			Name: "perch_messages_appended_total",
			Help: "The number of messages appended to partitions.",
		}, []string{"stream", "topic"}),
		"bytesAppended": prometheusMetricsFactory.NewCounterVec(prometheus.CounterOpts{
			Name: "perch_bytes_appended_total",
			Help: "The number of payload bytes appended to partitions.",
		}, []string{"stream", "topic"}),
	}
	histograms map[string]prometheus.Histogram = map[string]prometheus.Histogram{
		"appendTime": prometheusMetricsFactory.NewHistogram(prometheus.HistogramOpts{
			Name:    "perch_append_time_milliseconds",
			Help:    "The time elapsed appending a batch to a partition.",
			Buckets: []float64{0.1, 0.5, 1, 5, 50, 100},
		}),
		"fetchTime": prometheusMetricsFactory.NewHistogram(prometheus.HistogramOpts{
			Name:    "perch_fetch_time_milliseconds",
			Help:    "The time elapsed reading messages from a partition.",
			Buckets: []float64{0.1, 0.5, 1, 5, 50, 100},
		}),
	}
)

func Gauge(name string) prometheus.Gauge {
	return gauges[name]
}
func Counter(name string) prometheus.Counter {
	return counters[name]
}
func CounterVec(name string) *prometheus.CounterVec {
	return counterVecs[name]
}
func Histogram(name string) prometheus.Histogram {
	return histograms[name]
}

// Handler exposes every registered metric.
func Handler() http.Handler {
	return promhttp.Handler()
}
