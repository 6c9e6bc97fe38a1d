// Package metrics exposes Prometheus collectors for operations, messages and
// settlements processed by a host network.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	liquidstake "github.com/marwen-abid/liquidstake-go"
	"github.com/marwen-abid/liquidstake-go/errors"
	"github.com/marwen-abid/liquidstake-go/settlement"
)

const namespace = "lst"

// Recorder holds the collectors. A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry    *prometheus.Registry
	operations  *prometheus.CounterVec
	messages    *prometheus.CounterVec
	pending     prometheus.Gauge
	settlements *prometheus.CounterVec
}

// New creates a recorder with its own registry, including Go runtime and
// process collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Operations executed, by kind and result code.",
		}, []string{"kind", "result"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Cross-chain messages executed, by kind and result code.",
		}, []string{"kind", "result"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_messages",
			Help:      "Queued deliveries not yet drained.",
		}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Settlement state changes, by new status.",
		}, []string{"status"}),
	}
	r.registry.MustRegister(
		r.operations,
		r.messages,
		r.pending,
		r.settlements,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func result(err error) string {
	if err == nil {
		return "ok"
	}
	if code := errors.CodeOf(err); code != "" {
		return string(code)
	}
	return "error"
}

// OperationExecuted counts one operation.
func (r *Recorder) OperationExecuted(kind liquidstake.OperationKind, err error) {
	if r == nil {
		return
	}
	r.operations.WithLabelValues(string(kind), result(err)).Inc()
}

// MessageExecuted counts one delivered message.
func (r *Recorder) MessageExecuted(kind liquidstake.MessageKind, err error) {
	if r == nil {
		return
	}
	r.messages.WithLabelValues(string(kind), result(err)).Inc()
}

// SetPending sets the number of queued deliveries.
func (r *Recorder) SetPending(n int) {
	if r == nil {
		return
	}
	r.pending.Set(float64(n))
}

// Attach counts every settlement status change fired by hooks.
func (r *Recorder) Attach(hooks *settlement.HookRegistry) {
	if r == nil || hooks == nil {
		return
	}
	for _, ev := range []settlement.HookEvent{
		settlement.HookInitiated,
		settlement.HookInFlight,
		settlement.HookSettled,
		settlement.HookFailed,
	} {
		hooks.On(ev, func(s *liquidstake.Settlement) {
			r.settlements.WithLabelValues(string(s.Status)).Inc()
		})
	}
}

// Registry returns the underlying Prometheus registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
