// Package metrics exposes bus, store and transport counters to Prometheus.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rzbill/pollbus/internal/bus"
	"github.com/rzbill/pollbus/internal/messagelog"
	pebblestore "github.com/rzbill/pollbus/internal/storage/pebble"
)

// Metrics owns a private registry. One instance serves a process.
type Metrics struct {
	reg *prometheus.Registry

	published          prometheus.Counter
	publishCalls       prometheus.Counter
	notifyErrors       prometheus.Counter
	wakeups            prometheus.Counter
	pollLatency        *prometheus.HistogramVec
	pollMessages       prometheus.Counter
	listenerReconnects prometheus.Counter
	malformed          prometheus.Counter
	gcDeleted          prometheus.Counter
	gcErrors           prometheus.Counter
	pruneBatches       prometheus.Counter
	storeLatency       *prometheus.HistogramVec
	storeBytes         *prometheus.CounterVec

	waitersOnce sync.Once
}

var (
	_ bus.Observer             = (*Metrics)(nil)
	_ pebblestore.MetricsHook  = (*Metrics)(nil)
	_ messagelog.PruneObserver = (*Metrics)(nil)
)

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		published: f.NewCounter(prometheus.CounterOpts{
			Name: "pollbus_messages_published_total",
			Help: "Messages appended to the log by this process.",
		}),
		publishCalls: f.NewCounter(prometheus.CounterOpts{
			Name: "pollbus_publish_calls_total",
			Help: "SendMany calls that appended at least one message.",
		}),
		notifyErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "pollbus_notify_errors_total",
			Help: "Notifications that failed after a durable append.",
		}),
		wakeups: f.NewCounter(prometheus.CounterOpts{
			Name: "pollbus_waiter_wakeups_total",
			Help: "Waiters signalled by the listener.",
		}),
		pollLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name: "pollbus_poll_duration_seconds",
			Help: "Time from poll start to return.",
			// 12 buckets from 1ms to ~60s.
			Buckets: prometheus.ExponentialBucketsRange(0.001, 60, 12),
		}, []string{"result"}),
		pollMessages: f.NewCounter(prometheus.CounterOpts{
			Name: "pollbus_poll_messages_total",
			Help: "Messages returned by polls.",
		}),
		listenerReconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "pollbus_listener_reconnects_total",
			Help: "Listener resubscribe attempts.",
		}),
		malformed: f.NewCounter(prometheus.CounterOpts{
			Name: "pollbus_malformed_notifications_total",
			Help: "Notifications the listener could not decode.",
		}),
		gcDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "pollbus_gc_deleted_total",
			Help: "Rows removed by garbage collection.",
		}),
		gcErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "pollbus_gc_errors_total",
			Help: "Garbage collection runs that failed.",
		}),
		pruneBatches: f.NewCounter(prometheus.CounterOpts{
			Name: "pollbus_store_prune_batches_total",
			Help: "Delete batches committed by the Pebble store during collection.",
		}),
		storeLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pollbus_store_op_duration_seconds",
			Help:    "Pebble operation latency.",
			Buckets: prometheus.ExponentialBucketsRange(0.00005, 1, 12),
		}, []string{"op"}),
		storeBytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pollbus_store_bytes_total",
			Help: "Bytes read or written by the Pebble store.",
		}, []string{"op"}),
	}
}

// Registry is the registry backing Handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// WatchWaiters exports n as the active waiter gauge. Only the first call
// registers.
func (m *Metrics) WatchWaiters(n func() int) {
	m.waitersOnce.Do(func() {
		m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "pollbus_active_waiters",
			Help: "Waiter registrations currently parked in this process.",
		}, func() float64 { return float64(n()) }))
	})
}

func (m *Metrics) ObservePublish(entries, _ int) {
	m.publishCalls.Inc()
	m.published.Add(float64(entries))
}

func (m *Metrics) ObserveNotifyError() { m.notifyErrors.Inc() }

func (m *Metrics) ObserveWake(waiters int) { m.wakeups.Add(float64(waiters)) }

func (m *Metrics) ObservePoll(messages int, elapsed time.Duration, waited bool) {
	result := "immediate"
	switch {
	case messages > 0 && waited:
		result = "woken"
	case messages == 0 && waited:
		result = "timeout"
	case messages == 0:
		result = "empty"
	}
	m.pollLatency.WithLabelValues(result).Observe(elapsed.Seconds())
	m.pollMessages.Add(float64(messages))
}

func (m *Metrics) ObserveListenerReconnect() { m.listenerReconnects.Inc() }

func (m *Metrics) ObserveMalformedNotification() { m.malformed.Inc() }

func (m *Metrics) ObserveCollect(deleted int, err error) {
	if err != nil {
		m.gcErrors.Inc()
		return
	}
	m.gcDeleted.Add(float64(deleted))
}

func (m *Metrics) ObservePrune(_ string, _, _ uint64, _ int) { m.pruneBatches.Inc() }

func (m *Metrics) ObserveWrite(elapsed time.Duration, bytes int) {
	m.storeLatency.WithLabelValues("write").Observe(elapsed.Seconds())
	m.storeBytes.WithLabelValues("write").Add(float64(bytes))
}

func (m *Metrics) ObserveRead(elapsed time.Duration, bytes int) {
	m.storeLatency.WithLabelValues("read").Observe(elapsed.Seconds())
	m.storeBytes.WithLabelValues("read").Add(float64(bytes))
}

func (m *Metrics) ObserveBatchCommit(elapsed time.Duration, _ int, bytes int) {
	m.storeLatency.WithLabelValues("commit").Observe(elapsed.Seconds())
	m.storeBytes.WithLabelValues("commit").Add(float64(bytes))
}
