package device

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shaunagostinho/brewbridge/internal/protocol"
)

// ErrDemoClosed is returned by reads and writes on a closed demo port.
var ErrDemoClosed = errors.New("device: demo port closed")

// DemoConfig describes the simulated brewer.
type DemoConfig struct {
	Phrases   protocol.Phrases
	Costs     map[string]int // Bean cost per coffee type
	FullWater int
	FullBeans int
	BrewTime  time.Duration // Delay between brew start and finish
}

// DemoDevice simulates the brewer firmware for development without
// hardware. Its levels survive reconnects like a real board would.
type DemoDevice struct {
	cfg DemoConfig

	mu      sync.Mutex
	water   int
	beans   int
	brewing bool
	port    *demoPort
}

// NewDemoDevice creates a simulated brewer with full tanks.
func NewDemoDevice(cfg DemoConfig) *DemoDevice {
	cfg.Phrases = protocol.NewTextDecoder(cfg.Phrases).Phrases()
	if cfg.FullWater <= 0 {
		cfg.FullWater = 3
	}
	if cfg.FullBeans <= 0 {
		cfg.FullBeans = 100
	}
	if cfg.BrewTime <= 0 {
		cfg.BrewTime = 3 * time.Second
	}
	return &DemoDevice{
		cfg:   cfg,
		water: cfg.FullWater,
		beans: cfg.FullBeans,
	}
}

// Open satisfies Opener. Any previously opened demo port is closed.
func (d *DemoDevice) Open(name string, baudRate int) (Port, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.port != nil {
		d.port.Close()
	}
	d.port = &demoPort{
		dev:     d,
		lines:   make(chan []byte, 64),
		closed:  make(chan struct{}),
		timeout: 100 * time.Millisecond,
	}
	d.emitLocked(d.telemetryLocked())
	return d.port, nil
}

// Levels returns the simulated water and bean levels.
func (d *DemoDevice) Levels() (water, beans int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.water, d.beans
}

func (d *DemoDevice) handle(cmd string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p := d.cfg.Phrases
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return
	}

	switch fields[0] {
	case "status":
		d.emitLocked(d.telemetryLocked())
	case "brew":
		if len(fields) < 2 || d.brewing {
			return
		}
		cost, ok := d.cfg.Costs[fields[1]]
		if !ok {
			return
		}
		if d.beans < cost {
			d.emitLocked(p.InsufficientBeans)
			return
		}
		if d.water <= 0 {
			d.emitLocked(d.telemetryLocked())
			return
		}
		d.beans -= cost
		d.water--
		d.brewing = true
		d.emitLocked(p.BrewStarted + "...")
		time.AfterFunc(d.cfg.BrewTime, d.finishBrew)
	case "refill":
		if len(fields) < 2 {
			return
		}
		switch fields[1] {
		case "water":
			d.water = d.cfg.FullWater
			d.emitLocked(p.WaterRefilled)
		case "beans":
			d.beans = d.cfg.FullBeans
			d.emitLocked(p.BeansRefilled)
		}
	}
}

func (d *DemoDevice) finishBrew() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.brewing = false
	d.emitLocked(d.cfg.Phrases.BrewFinished)
	d.emitLocked(d.telemetryLocked())
}

func (d *DemoDevice) telemetryLocked() string {
	return fmt.Sprintf("%s %d, %s %d", d.cfg.Phrases.BeansMarker, d.beans, d.cfg.Phrases.WaterMarker, d.water)
}

// emitLocked queues a line on the open port; output is lost while no
// port is open or the buffer is full.
func (d *DemoDevice) emitLocked(line string) {
	if d.port == nil {
		return
	}
	select {
	case <-d.port.closed:
	case d.port.lines <- []byte(line + "\r\n"):
	default:
	}
}

type demoPort struct {
	dev       *DemoDevice
	lines     chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	timeout   time.Duration
	leftover  []byte
}

func (p *demoPort) Read(buf []byte) (int, error) {
	if len(p.leftover) > 0 {
		n := copy(buf, p.leftover)
		p.leftover = p.leftover[n:]
		return n, nil
	}

	t := time.NewTimer(p.timeout)
	defer t.Stop()
	select {
	case <-p.closed:
		return 0, ErrDemoClosed
	case line := <-p.lines:
		n := copy(buf, line)
		p.leftover = line[n:]
		return n, nil
	case <-t.C:
		return 0, nil
	}
}

func (p *demoPort) Write(b []byte) (int, error) {
	select {
	case <-p.closed:
		return 0, ErrDemoClosed
	default:
	}
	for _, cmd := range strings.Split(string(b), "\n") {
		if cmd = strings.TrimSpace(cmd); cmd != "" {
			p.dev.handle(cmd)
		}
	}
	return len(b), nil
}

func (p *demoPort) SetReadTimeout(t time.Duration) error {
	p.timeout = t
	return nil
}

func (p *demoPort) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}
