package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/shaunagostinho/brewbridge/internal/protocol"
)

// DefaultLogCapacity is the size of the recent-log ring.
const DefaultLogCapacity = 20

// Status texts stored in and derived from the device state.
const (
	StatusInitializing      = "initializing"
	StatusReady             = "ready"
	StatusBrewing           = "brewing"
	StatusDone              = "done"
	StatusWaterRefilled     = "water refilled"
	StatusBeansRefilled     = "beans refilled"
	StatusInsufficientBeans = "error: insufficient beans"

	StatusWaiting     = "waiting for device data"
	StatusRefillWater = "please refill water"
	StatusRefillBeans = "please refill beans"
)

// Snapshot is a point-in-time copy of the device state.
type Snapshot struct {
	Status      string     `json:"status"`
	Water       *int       `json:"water"`
	Beans       *int       `json:"beans"`
	LastUpdate  *time.Time `json:"lastUpdate"`
	Logs        []string   `json:"logs"`
	Connected   bool       `json:"connected"`
	Initialized bool       `json:"initialized"`
	Brewing     bool       `json:"brewing"`
	Version     uint64     `json:"-"`
}

// Options configures a Store.
type Options struct {
	FullWater   int              // Level set on a water refill event
	FullBeans   int              // Level set on a beans refill event
	LogCapacity int              // Recent-log ring size
	Now         func() time.Time // Clock, defaults to time.Now
}

// Store holds the single shared device state. All methods are safe for
// concurrent use.
type Store struct {
	mu   sync.RWMutex
	opts Options

	status      string
	water       *int
	beans       *int
	lastUpdate  time.Time
	logs        []string
	connected   bool
	initialized bool
	brewing     bool
	version     uint64
}

// New creates a Store in the initializing state.
func New(opts Options) *Store {
	if opts.FullWater <= 0 {
		opts.FullWater = 3
	}
	if opts.FullBeans <= 0 {
		opts.FullBeans = 100
	}
	if opts.LogCapacity <= 0 {
		opts.LogCapacity = DefaultLogCapacity
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		opts:   opts,
		status: StatusInitializing,
		logs:   make([]string, 0, opts.LogCapacity),
	}
}

// Apply mutates the state according to one decoded event.
func (s *Store) Apply(ev protocol.Event) {
	if ev.Kind == protocol.Unrecognized {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Kind {
	case protocol.Telemetry:
		water, beans := ev.Water, ev.Beans
		s.water = &water
		s.beans = &beans
		s.lastUpdate = s.opts.Now()
		if !s.initialized {
			s.initialized = true
			s.status = StatusReady
		}
		s.pushLog(fmt.Sprintf("update: water=%d, beans=%d", water, beans))
	case protocol.BrewStarted:
		s.brewing = true
		s.status = StatusBrewing
		s.pushLog("brewing started")
	case protocol.BrewFinished:
		s.brewing = false
		s.status = StatusDone
		s.pushLog("brewing finished")
	case protocol.WaterRefilled:
		water := s.opts.FullWater
		s.water = &water
		s.status = StatusWaterRefilled
		s.pushLog("water tank refilled")
	case protocol.BeansRefilled:
		beans := s.opts.FullBeans
		s.beans = &beans
		s.status = StatusBeansRefilled
		s.pushLog("bean hopper refilled")
	case protocol.InsufficientBeans:
		s.status = StatusInsufficientBeans
		s.pushLog("brew attempted with insufficient beans")
	default:
		return
	}
	s.version++
}

// Snapshot returns a copy of the state. Refill prompts are derived here
// and never written back.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Status:      s.status,
		Logs:        append([]string(nil), s.logs...),
		Connected:   s.connected,
		Initialized: s.initialized,
		Brewing:     s.brewing,
		Version:     s.version,
	}

	if !s.initialized {
		snap.Status = StatusWaiting
		snap.Brewing = false
		return snap
	}

	snap.Water = copyInt(s.water)
	snap.Beans = copyInt(s.beans)
	if !s.lastUpdate.IsZero() {
		ts := s.lastUpdate
		snap.LastUpdate = &ts
	}

	switch {
	case snap.Water != nil && *snap.Water == 0:
		snap.Status = StatusRefillWater
	case snap.Beans != nil && *snap.Beans == 0:
		snap.Status = StatusRefillBeans
	}
	return snap
}

// Log appends a timestamped entry to the recent-log ring.
func (s *Store) Log(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushLog(msg)
	s.version++
}

// SetConnected records link liveness.
func (s *Store) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected == connected {
		return
	}
	s.connected = connected
	s.version++
}

// Beans returns the last known bean level.
func (s *Store) Beans() (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.beans == nil {
		return 0, false
	}
	return *s.beans, true
}

// Version increases on every state change.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// pushLog must be called with mu held.
func (s *Store) pushLog(msg string) {
	entry := fmt.Sprintf("[%s] %s", s.opts.Now().Format("15:04:05"), msg)
	s.logs = append(s.logs, entry)
	for len(s.logs) > s.opts.LogCapacity {
		s.logs = s.logs[1:]
	}
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}
