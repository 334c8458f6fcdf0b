package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.bug.st/serial"
)

var (
	// ErrNoDeviceFound is returned by Connect when no port matches.
	ErrNoDeviceFound = errors.New("device: no matching serial port found")
	// ErrNotConnected is returned by I/O calls without an open port.
	ErrNotConnected = errors.New("device: not connected")
)

// maxPending bounds the bytes buffered while waiting for a line terminator.
const maxPending = 4096

// IOError wraps a fault on the serial port.
type IOError struct {
	Op   string // "open", "read" or "write"
	Port string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("device: %s %s: %v", e.Op, e.Port, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Port is the subset of serial.Port used by a Session.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Opener opens a port by name.
type Opener func(name string, baudRate int) (Port, error)

// OpenSerial opens a real serial port at 8N1.
func OpenSerial(name string, baudRate int) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	return port, nil
}

// Monitor receives connectivity changes and user-visible log lines.
type Monitor interface {
	SetConnected(connected bool)
	Log(msg string)
}

type nopMonitor struct{}

func (nopMonitor) SetConnected(bool) {}
func (nopMonitor) Log(string)        {}

// SessionConfig holds connection parameters.
type SessionConfig struct {
	BaudRate    int
	Settle      time.Duration // Wait after open for the board to reset
	ReadTimeout time.Duration // Upper bound of a single ReadLine call
}

// Session owns the single serial connection to the brewer. All methods
// are safe for concurrent use; port access is serialized.
type Session struct {
	cfg     SessionConfig
	finder  Finder
	open    Opener
	monitor Monitor
	log     zerolog.Logger
	sleep   func(ctx context.Context, d time.Duration) error

	mu          sync.Mutex
	port        Port
	name        string
	pending     []byte
	buf         []byte
	lastFailure string // Last connect failure sent to the monitor
}

// Option customizes a Session.
type Option func(*Session)

// WithOpener replaces the serial opener (demo device, tests).
func WithOpener(open Opener) Option {
	return func(s *Session) { s.open = open }
}

// WithMonitor installs the connectivity/log sink.
func WithMonitor(m Monitor) Option {
	return func(s *Session) {
		if m != nil {
			s.monitor = m
		}
	}
}

// WithLogger provides a process logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) { s.log = logger.With().Str("component", "session").Logger() }
}

// NewSession creates a closed Session that resolves its port through finder.
func NewSession(cfg SessionConfig, finder Finder, opts ...Option) *Session {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 9600
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 100 * time.Millisecond
	}
	s := &Session{
		cfg:     cfg,
		finder:  finder,
		open:    OpenSerial,
		monitor: nopMonitor{},
		log:     zerolog.Nop(),
		sleep:   sleepContext,
		buf:     make([]byte, 256),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect closes any open port, locates the device, opens it and waits
// for the settle duration.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked(ctx)
}

// Ensure connects only when no port is open. Reader loop and command
// path both reconnect through here.
func (s *Session) Ensure(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		return nil
	}
	return s.connectLocked(ctx)
}

func (s *Session) connectLocked(ctx context.Context) error {
	s.closeLocked()

	name, ok := "", false
	if s.finder != nil {
		name, ok = s.finder.FindDevice()
	}
	if !ok {
		s.failLocked("brewer not found")
		return ErrNoDeviceFound
	}

	port, err := s.open(name, s.cfg.BaudRate)
	if err != nil {
		s.failLocked(fmt.Sprintf("connection error: %v", err))
		return &IOError{Op: "open", Port: name, Err: err}
	}
	if err := port.SetReadTimeout(s.cfg.ReadTimeout); err != nil {
		port.Close()
		s.failLocked(fmt.Sprintf("connection error: %v", err))
		return &IOError{Op: "open", Port: name, Err: err}
	}

	// Opening the port resets most boards; give the firmware time to boot.
	if s.cfg.Settle > 0 {
		if err := s.sleep(ctx, s.cfg.Settle); err != nil {
			port.Close()
			return err
		}
	}

	s.port = port
	s.name = name
	s.pending = s.pending[:0]
	s.lastFailure = ""
	s.monitor.SetConnected(true)
	s.monitor.Log(fmt.Sprintf("connected to %s", name))
	s.log.Info().Str("port", name).Int("baud", s.cfg.BaudRate).Msg("connected")
	return nil
}

// WriteLine sends one newline-terminated command.
func (s *Session) WriteLine(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return ErrNotConnected
	}
	if _, err := s.port.Write([]byte(cmd + "\n")); err != nil {
		name := s.name
		s.dropLocked(err)
		return &IOError{Op: "write", Port: name, Err: err}
	}
	return nil
}

// ReadLine returns the next non-empty trimmed line. ok is false when no
// complete line arrived within the read timeout.
func (s *Session) ReadLine() (line string, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return "", false, ErrNotConnected
	}

	for {
		if idx := bytes.IndexByte(s.pending, '\n'); idx >= 0 {
			raw := s.pending[:idx]
			s.pending = s.pending[idx+1:]
			text := strings.TrimSpace(strings.ToValidUTF8(string(raw), "\uFFFD"))
			if text == "" {
				continue
			}
			return text, true, nil
		}

		n, rerr := s.port.Read(s.buf)
		if rerr != nil {
			name := s.name
			s.dropLocked(rerr)
			return "", false, &IOError{Op: "read", Port: name, Err: rerr}
		}
		if n == 0 {
			return "", false, nil
		}
		s.pending = append(s.pending, s.buf[:n]...)
		if len(s.pending) > maxPending && bytes.IndexByte(s.pending, '\n') < 0 {
			s.log.Warn().Int("bytes", len(s.pending)).Msg("discarding unterminated input")
			s.pending = s.pending[:0]
		}
	}
}

// IsOpen reports whether a port is currently open.
func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port != nil
}

// PortName returns the name of the open port, or "".
func (s *Session) PortName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return ""
	}
	return s.name
}

// Close shuts the port down.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.closeLocked()
	s.monitor.SetConnected(false)
	return err
}

func (s *Session) closeLocked() error {
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	s.name = ""
	s.pending = s.pending[:0]
	return err
}

// failLocked reports a failed connect. A failure identical to the previous
// one is not logged again until a connect succeeds, so retries while the
// brewer is unplugged do not flush the recent-log ring.
func (s *Session) failLocked(msg string) {
	s.monitor.SetConnected(false)
	if msg == s.lastFailure {
		return
	}
	s.lastFailure = msg
	s.monitor.Log(msg)
}

// dropLocked discards the port after an I/O fault.
func (s *Session) dropLocked(cause error) {
	s.log.Warn().Err(cause).Str("port", s.name).Msg("serial fault, dropping connection")
	s.closeLocked()
	s.monitor.SetConnected(false)
	s.monitor.Log(fmt.Sprintf("serial error: %v", cause))
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
