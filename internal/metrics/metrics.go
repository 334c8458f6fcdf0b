package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector receives runtime events from the reader loop and the
// command dispatcher. Calls happen inline and must be cheap.
type Collector interface {
	IncLine()
	IncEvent(kind string)
	IncDecodeAnomaly()
	IncConnectAttempt(ok bool)
	IncCommand(result string)
	SetConnected(connected bool)
}

type noopCollector struct{}

// Noop returns a collector that discards everything.
func Noop() Collector { return noopCollector{} }

func (noopCollector) IncLine()               {}
func (noopCollector) IncEvent(string)        {}
func (noopCollector) IncDecodeAnomaly()      {}
func (noopCollector) IncConnectAttempt(bool) {}
func (noopCollector) IncCommand(string)      {}
func (noopCollector) SetConnected(bool)      {}

// PrometheusCollector exposes the events as Prometheus metrics.
type PrometheusCollector struct {
	lines     prometheus.Counter
	events    *prometheus.CounterVec
	anomalies prometheus.Counter
	connects  *prometheus.CounterVec
	commands  *prometheus.CounterVec
	connected prometheus.Gauge
}

// NewPrometheusCollector registers the brewbridge metrics with reg.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &PrometheusCollector{
		lines: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "brewbridge_serial_lines_total",
			Help: "Non-empty lines received from the brewer.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "brewbridge_device_events_total",
			Help: "Decoded device events by kind.",
		}, []string{"kind"}),
		anomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "brewbridge_decode_anomalies_total",
			Help: "Telemetry lines discarded because their values were malformed.",
		}),
		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "brewbridge_connect_attempts_total",
			Help: "Serial connection attempts by result.",
		}, []string{"result"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "brewbridge_commands_total",
			Help: "Submitted commands by result.",
		}, []string{"result"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "brewbridge_device_connected",
			Help: "1 while a serial session to the brewer is open.",
		}),
	}
	for _, c := range []prometheus.Collector{p.lines, p.events, p.anomalies, p.connects, p.commands, p.connected} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *PrometheusCollector) IncLine() { p.lines.Inc() }

func (p *PrometheusCollector) IncEvent(kind string) { p.events.WithLabelValues(kind).Inc() }

func (p *PrometheusCollector) IncDecodeAnomaly() { p.anomalies.Inc() }

func (p *PrometheusCollector) IncConnectAttempt(ok bool) {
	result := "failure"
	if ok {
		result = "success"
	}
	p.connects.WithLabelValues(result).Inc()
}

func (p *PrometheusCollector) IncCommand(result string) { p.commands.WithLabelValues(result).Inc() }

func (p *PrometheusCollector) SetConnected(connected bool) {
	if connected {
		p.connected.Set(1)
		return
	}
	p.connected.Set(0)
}
