package brewer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/shaunagostinho/brewbridge/internal/metrics"
	"github.com/shaunagostinho/brewbridge/internal/protocol"
	"github.com/shaunagostinho/brewbridge/internal/state"
)

// Link is the serial session as seen by the reader loop and dispatcher.
// *device.Session implements it.
type Link interface {
	Ensure(ctx context.Context) error
	ReadLine() (string, bool, error)
	WriteLine(cmd string) error
	IsOpen() bool
}

// ReaderConfig tunes the reader loop.
type ReaderConfig struct {
	Backoff time.Duration // Wait between reconnect attempts
	Idle    time.Duration // Pause when no line is available
}

type linkState int

const (
	stateDisconnected linkState = iota
	stateConnected
)

// Reader pulls lines from the link, decodes them and applies them to the
// store. It is the only writer of device telemetry.
type Reader struct {
	link    Link
	decoder protocol.Decoder
	store   *state.Store
	metrics metrics.Collector
	log     zerolog.Logger
	cfg     ReaderConfig
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewReader creates a reader loop. A nil collector disables metrics.
func NewReader(link Link, decoder protocol.Decoder, store *state.Store, cfg ReaderConfig, m metrics.Collector, logger zerolog.Logger) *Reader {
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.Idle <= 0 {
		cfg.Idle = 50 * time.Millisecond
	}
	if m == nil {
		m = metrics.Noop()
	}
	return &Reader{
		link:    link,
		decoder: decoder,
		store:   store,
		metrics: m,
		log:     logger.With().Str("component", "reader").Logger(),
		cfg:     cfg,
		sleep:   sleepContext,
	}
}

// Run loops until ctx is cancelled, reconnecting without limit.
func (r *Reader) Run(ctx context.Context) error {
	st := stateDisconnected
	first := true

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		switch st {
		case stateDisconnected:
			if !first {
				if err := r.sleep(ctx, r.cfg.Backoff); err != nil {
					return err
				}
			}
			first = false

			// The dispatcher may already have reconnected; that is not an attempt.
			attempted := !r.link.IsOpen()
			if err := r.link.Ensure(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.metrics.IncConnectAttempt(false)
				r.log.Debug().Err(err).Dur("retry_in", r.cfg.Backoff).Msg("connect failed")
				continue
			}
			if attempted {
				r.metrics.IncConnectAttempt(true)
			}
			r.setConnected(true)
			st = stateConnected

		case stateConnected:
			line, ok, err := r.link.ReadLine()
			if err != nil {
				r.log.Warn().Err(err).Msg("read failed, reconnecting")
				r.setConnected(false)
				st = stateDisconnected
				continue
			}
			if !ok {
				if err := r.sleep(ctx, r.cfg.Idle); err != nil {
					return err
				}
				continue
			}
			r.handle(line)
		}
	}
}

func (r *Reader) handle(line string) {
	r.metrics.IncLine()

	ev, err := r.decoder.Decode(line)
	if err != nil {
		r.metrics.IncDecodeAnomaly()
		r.store.Log(fmt.Sprintf("data error: %v", err))
		r.log.Warn().Err(err).Msg("discarding line")
		return
	}
	if ev.Kind == protocol.Unrecognized {
		r.log.Debug().Str("line", line).Msg("ignoring line")
		return
	}

	r.store.Apply(ev)
	r.metrics.IncEvent(ev.Kind.String())
	r.log.Debug().Str("event", ev.Kind.String()).Str("line", line).Msg("applied")
}

func (r *Reader) setConnected(connected bool) {
	r.store.SetConnected(connected)
	r.metrics.SetConnected(connected)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
