package brewer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shaunagostinho/brewbridge/internal/metrics"
	"github.com/shaunagostinho/brewbridge/internal/state"
)

// Rejection reasons. Match them with errors.Is on a *Rejection.
var (
	ErrInvalidCommand    = errors.New("invalid command")
	ErrUnknownCoffee     = errors.New("unknown coffee type")
	ErrInsufficientBeans = errors.New("insufficient beans")
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrIOFailure         = errors.New("device i/o failure")
)

// DefaultCosts is the bean cost of each coffee type.
var DefaultCosts = map[string]int{
	"weak":   10,
	"medium": 20,
	"strong": 30,
}

const statusCommand = "status"

// Rejection is returned by Submit when a command was not sent.
type Rejection struct {
	Reason  error
	Message string // Human-readable, safe to show to users
}

func (r *Rejection) Error() string { return r.Message }

func (r *Rejection) Unwrap() error { return r.Reason }

func reject(reason error, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// DispatcherConfig tunes the command path.
type DispatcherConfig struct {
	Costs    map[string]int
	FollowUp time.Duration // Delay before the automatic status poll
}

// Dispatcher validates commands against the store and writes them to the
// link. One lock serializes validate-and-write so commands reach the
// device in order. The bean check uses the last reported level, which only
// changes when the next telemetry line arrives, so back-to-back brews are
// each checked against the same level and the firmware stays the final
// judge.
type Dispatcher struct {
	link    Link
	store   *state.Store
	metrics metrics.Collector
	log     zerolog.Logger
	costs   map[string]int
	follow  time.Duration
	sleep   func(ctx context.Context, d time.Duration) error

	mu sync.Mutex
}

// NewDispatcher creates a command dispatcher.
func NewDispatcher(link Link, store *state.Store, cfg DispatcherConfig, m metrics.Collector, logger zerolog.Logger) *Dispatcher {
	costs := make(map[string]int, len(DefaultCosts))
	src := cfg.Costs
	if len(src) == 0 {
		src = DefaultCosts
	}
	for k, v := range src {
		costs[k] = v
	}
	if cfg.FollowUp < 0 {
		cfg.FollowUp = 0
	}
	if m == nil {
		m = metrics.Noop()
	}
	return &Dispatcher{
		link:    link,
		store:   store,
		metrics: m,
		log:     logger.With().Str("component", "dispatcher").Logger(),
		costs:   costs,
		follow:  cfg.FollowUp,
		sleep:   sleepContext,
	}
}

// Submit validates and sends a command. A nil error means the command
// was written; otherwise the error is a *Rejection. Non-status commands
// are followed by a status poll so telemetry refreshes on its own.
func (d *Dispatcher) Submit(ctx context.Context, command string) error {
	command = strings.TrimSpace(command)

	if err := d.submit(ctx, command); err != nil {
		d.metrics.IncCommand(resultLabel(err))
		return err
	}
	d.metrics.IncCommand("accepted")

	if isStatus(command) {
		return nil
	}
	if err := d.sleep(ctx, d.follow); err != nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.sendLocked(ctx, statusCommand); err != nil {
		d.log.Warn().Err(err).Msg("follow-up status poll failed")
	}
	return nil
}

// Refresh asks for fresh telemetry if a session is already open. It never
// connects.
func (d *Dispatcher) Refresh(ctx context.Context) {
	if !d.link.IsOpen() {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.sendLocked(ctx, statusCommand); err != nil {
		d.log.Debug().Err(err).Msg("status refresh failed")
	}
}

// Costs returns a copy of the coffee cost table.
func (d *Dispatcher) Costs() map[string]int {
	out := make(map[string]int, len(d.costs))
	for k, v := range d.costs {
		out[k] = v
	}
	return out
}

func (d *Dispatcher) submit(ctx context.Context, command string) error {
	if command == "" {
		return reject(ErrInvalidCommand, "empty command")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if fields := strings.Fields(command); fields[0] == "brew" {
		if len(fields) < 2 {
			return reject(ErrUnknownCoffee, "brew requires a coffee type")
		}
		coffee := fields[1]
		cost, ok := d.costs[coffee]
		if !ok {
			return reject(ErrUnknownCoffee, "unknown coffee type %q", coffee)
		}
		if beans, known := d.store.Beans(); known && beans < cost {
			d.store.Log(fmt.Sprintf("not enough beans for %s (need %d)", coffee, cost))
			return reject(ErrInsufficientBeans, "not enough beans for %s coffee (need %d)", coffee, cost)
		}
	}

	return d.sendLocked(ctx, command)
}

func (d *Dispatcher) sendLocked(ctx context.Context, command string) error {
	if err := d.link.Ensure(ctx); err != nil {
		d.log.Warn().Err(err).Str("command", command).Msg("no session for command")
		return reject(ErrDeviceUnavailable, "brewer is not connected")
	}
	if err := d.link.WriteLine(command); err != nil {
		d.store.SetConnected(false)
		d.store.Log(fmt.Sprintf("failed to send command: %v", err))
		d.log.Warn().Err(err).Str("command", command).Msg("write failed")
		return reject(ErrIOFailure, "failed to send command to brewer")
	}
	d.store.Log(fmt.Sprintf("sent command: %s", command))
	d.log.Info().Str("command", command).Msg("sent")
	return nil
}

func isStatus(command string) bool {
	return strings.HasPrefix(command, statusCommand)
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientBeans):
		return "insufficient_beans"
	case errors.Is(err, ErrUnknownCoffee), errors.Is(err, ErrInvalidCommand):
		return "invalid"
	case errors.Is(err, ErrDeviceUnavailable):
		return "unavailable"
	case errors.Is(err, ErrIOFailure):
		return "io_failure"
	}
	return "rejected"
}
