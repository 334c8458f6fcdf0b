package brewer

import (
	"github.com/shaunagostinho/brewbridge/internal/metrics"
	"github.com/shaunagostinho/brewbridge/internal/state"
)

// LinkMonitor receives session connectivity and log lines. It updates the
// store and the connected gauge together, whichever caller hit the fault.
type LinkMonitor struct {
	store   *state.Store
	metrics metrics.Collector
}

// NewLinkMonitor creates a monitor for device.WithMonitor. A nil collector
// disables metrics.
func NewLinkMonitor(store *state.Store, m metrics.Collector) *LinkMonitor {
	if m == nil {
		m = metrics.Noop()
	}
	return &LinkMonitor{store: store, metrics: m}
}

func (l *LinkMonitor) SetConnected(connected bool) {
	l.store.SetConnected(connected)
	l.metrics.SetConnected(connected)
}

func (l *LinkMonitor) Log(msg string) { l.store.Log(msg) }
