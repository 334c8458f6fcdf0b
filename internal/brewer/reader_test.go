package brewer

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/brewbridge/internal/device"
	"github.com/shaunagostinho/brewbridge/internal/protocol"
	"github.com/shaunagostinho/brewbridge/internal/state"
)

const (
	testBackoff = time.Second
	testIdle    = time.Millisecond
)

func newTestReader(link Link, store *state.Store) *Reader {
	return NewReader(link, protocol.NewTextDecoder(protocol.Phrases{}), store,
		ReaderConfig{Backoff: testBackoff, Idle: testIdle}, nil, zerolog.Nop())
}

// stopWhenIdle cancels the loop the first time it runs out of data.
func stopWhenIdle(r *Reader, cancel context.CancelFunc, onBackoff func()) {
	r.sleep = func(ctx context.Context, d time.Duration) error {
		if d == testBackoff {
			if onBackoff != nil {
				onBackoff()
			}
			return nil
		}
		cancel()
		return ctx.Err()
	}
}

func TestReaderAppliesLinesInOrder(t *testing.T) {
	link := &fakeLink{reads: []readResult{
		{line: "Зерна: 80, Вода: 2", ok: true},
		{line: "Варим кофе...", ok: true},
		{line: "bootloader v1.2", ok: true},
		{line: "Зерна: ??, Вода: 2", ok: true},
		{line: "Готово!", ok: true},
		{line: "Зерна: 70, Вода: 1", ok: true},
	}}
	store := state.New(state.Options{})
	r := newTestReader(link, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopWhenIdle(r, cancel, nil)

	err := r.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	snap := store.Snapshot()
	assert.True(t, snap.Connected)
	assert.True(t, snap.Initialized)
	assert.False(t, snap.Brewing)
	assert.Equal(t, state.StatusDone, snap.Status)
	assert.Equal(t, 1, *snap.Water)
	assert.Equal(t, 70, *snap.Beans)

	// update, brew start, data error, brew finish, update
	require.Len(t, snap.Logs, 5)
	assert.Contains(t, snap.Logs[2], "data error")
	assert.Contains(t, snap.Logs[4], "water=1, beans=70")
}

func TestReaderReconnectsAfterReadErrors(t *testing.T) {
	link := &fakeLink{
		connectErrs: []error{nil, device.ErrNoDeviceFound, device.ErrNoDeviceFound, device.ErrNoDeviceFound, nil},
		reads: []readResult{
			{err: errUnplugged},
			{line: "Зерна: 50, Вода: 3", ok: true},
		},
	}
	store := state.New(state.Options{})
	r := newTestReader(link, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backoffs := 0
	stopWhenIdle(r, cancel, func() {
		backoffs++
		assert.False(t, store.Snapshot().Connected, "connected while reconnecting (backoff %d)", backoffs)
	})
	link.onRead = func(n int) {
		switch n {
		case 1:
			assert.True(t, store.Snapshot().Connected)
		case 2:
			assert.True(t, store.Snapshot().Connected, "connected after successful reconnect")
		}
	}

	require.ErrorIs(t, r.Run(ctx), context.Canceled)
	assert.Equal(t, 4, backoffs)
	assert.Equal(t, 5, link.connects)
	assert.True(t, store.Snapshot().Connected)
	assert.Equal(t, 50, *store.Snapshot().Beans)
}

func TestReaderFirstConnectIsImmediate(t *testing.T) {
	link := &fakeLink{}
	store := state.New(state.Options{})
	r := newTestReader(link, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backoffs := 0
	stopWhenIdle(r, cancel, func() { backoffs++ })

	require.ErrorIs(t, r.Run(ctx), context.Canceled)
	assert.Zero(t, backoffs)
	assert.Equal(t, 1, link.connects)
}

func TestReaderCountsOnlyRealAttempts(t *testing.T) {
	link := &fakeLink{
		open:        true,
		connectErrs: []error{device.ErrNoDeviceFound, nil},
		reads:       []readResult{{err: errUnplugged}},
	}
	store := state.New(state.Options{})
	m := newRecordingCollector()
	r := NewReader(link, protocol.NewTextDecoder(protocol.Phrases{}), store,
		ReaderConfig{Backoff: testBackoff, Idle: testIdle}, m, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopWhenIdle(r, cancel, nil)

	require.ErrorIs(t, r.Run(ctx), context.Canceled)
	assert.Equal(t, 1, m.attempts[false])
	assert.Equal(t, 1, m.attempts[true], "an already open link is not an attempt")
	assert.Equal(t, 2, link.connects)
	assert.True(t, m.gauge())
}

func TestReaderKeepsLogWhileUnplugged(t *testing.T) {
	store := state.New(state.Options{})
	store.Apply(protocol.Event{Kind: protocol.BrewFinished})
	sess := device.NewSession(device.SessionConfig{}, device.FixedPort(""), device.WithMonitor(store))
	r := newTestReader(sess, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	backoffs := 0
	r.sleep = func(ctx context.Context, d time.Duration) error {
		if backoffs++; backoffs == 50 {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	require.ErrorIs(t, r.Run(ctx), context.Canceled)
	logs := store.Snapshot().Logs
	require.Len(t, logs, 2)
	assert.Contains(t, logs[0], "brewing finished")
	assert.Contains(t, logs[1], "brewer not found")
}

func TestReaderStopsDuringConnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	link := &fakeLink{connectErrs: []error{context.Canceled}}
	link.onRead = func(int) { t.Error("read without a session") }
	r := newTestReader(link, state.New(state.Options{}))
	cancel()

	assert.ErrorIs(t, r.Run(ctx), context.Canceled)
}

func TestReaderWithDemoDevice(t *testing.T) {
	dev := device.NewDemoDevice(device.DemoConfig{
		Costs:    DefaultCosts,
		BrewTime: 20 * time.Millisecond,
	})
	store := state.New(state.Options{})
	sess := device.NewSession(device.SessionConfig{ReadTimeout: 10 * time.Millisecond},
		device.FixedPort("demo"), device.WithOpener(dev.Open), device.WithMonitor(store))
	defer sess.Close()

	r := NewReader(sess, protocol.NewTextDecoder(protocol.Phrases{}), store,
		ReaderConfig{Backoff: 10 * time.Millisecond, Idle: 5 * time.Millisecond}, nil, zerolog.Nop())
	d := NewDispatcher(sess, store, DispatcherConfig{FollowUp: 10 * time.Millisecond}, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	require.Eventually(t, func() bool { return store.Snapshot().Initialized }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, d.Submit(ctx, "brew medium"))

	require.Eventually(t, func() bool {
		snap := store.Snapshot()
		return snap.Status == state.StatusDone && snap.Beans != nil && *snap.Beans == 80
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, *store.Snapshot().Water)
}
