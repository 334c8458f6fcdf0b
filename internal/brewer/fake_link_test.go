package brewer

import (
	"context"
	"errors"
	"sync"
)

var errUnplugged = errors.New("unplugged")

type readResult struct {
	line string
	ok   bool
	err  error
}

// fakeLink scripts connect and read results. Once the scripted reads run
// out it reports "no data".
type fakeLink struct {
	mu          sync.Mutex
	open        bool
	connectErrs []error
	connects    int
	reads       []readResult
	writeErr    error
	written     []string
	onRead      func(n int)
	readCalls   int
}

func (f *fakeLink) Ensure(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.open {
		return nil
	}
	f.connects++
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		if err != nil {
			return err
		}
	}
	f.open = true
	return nil
}

func (f *fakeLink) ReadLine() (string, bool, error) {
	f.mu.Lock()
	f.readCalls++
	n := f.readCalls
	var res readResult
	if len(f.reads) > 0 {
		res = f.reads[0]
		f.reads = f.reads[1:]
	}
	if res.err != nil {
		f.open = false
	}
	hook := f.onRead
	f.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return res.line, res.ok, res.err
}

func (f *fakeLink) WriteLine(cmd string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		f.open = false
		return f.writeErr
	}
	f.written = append(f.written, cmd)
	return nil
}

func (f *fakeLink) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeLink) writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.written...)
}

// recordingCollector counts connect attempts and tracks the connected gauge.
type recordingCollector struct {
	mu        sync.Mutex
	attempts  map[bool]int
	connected bool
}

func newRecordingCollector() *recordingCollector {
	return &recordingCollector{attempts: make(map[bool]int)}
}

func (c *recordingCollector) IncLine()          {}
func (c *recordingCollector) IncEvent(string)   {}
func (c *recordingCollector) IncDecodeAnomaly() {}
func (c *recordingCollector) IncCommand(string) {}

func (c *recordingCollector) IncConnectAttempt(ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts[ok]++
}

func (c *recordingCollector) SetConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = connected
}

func (c *recordingCollector) gauge() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
