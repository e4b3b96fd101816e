package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/deltran/corridorsim/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTicker struct {
	ch      chan time.Time
	mu      sync.Mutex
	stopped bool
}

func (f *fakeTicker) C() <-chan time.Time { return f.ch }

func (f *fakeTicker) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *fakeTicker) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

type fakeClock struct {
	mu      sync.Mutex
	tickers []*fakeTicker
	period  time.Duration
}

func (c *fakeClock) factory(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.period = d
	t := &fakeTicker{ch: make(chan time.Time)}
	c.tickers = append(c.tickers, t)
	return t
}

func (c *fakeClock) last(t *testing.T) *fakeTicker {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.tickers)
	return c.tickers[len(c.tickers)-1]
}

func (c *fakeClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tickers)
}

func newTestDriver(t *testing.T, n int) (*Driver, *fakeClock, <-chan Event) {
	t.Helper()
	clock := &fakeClock{}
	d := NewDriver(NewPlayer(Fixed(n)), WithTickerFactory(clock.factory))
	events := make(chan Event, 64)
	d.Subscribe(func(ev Event) { events <- ev })
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = d.Close(ctx)
	})
	return d, clock, events
}

// tick fires the ticker and waits for the resulting tick event
func tick(t *testing.T, ticker *fakeTicker, events <-chan Event) Event {
	t.Helper()
	select {
	case ticker.ch <- time.Now():
	case <-time.After(time.Second):
		t.Fatal("ticker not consumed")
	}
	return waitFor(t, events, EventTick)
}

func waitFor(t *testing.T, events <-chan Event, kind EventKind) Event {
	t.Helper()
	timeout := time.After(time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", kind)
		}
	}
}

func TestDriver_AutoplayAdvancesOncePerTick(t *testing.T) {
	ctx := context.Background()
	d, clock, events := newTestDriver(t, 3)

	snap, err := d.TogglePlay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Cursor)
	assert.True(t, snap.Playing)
	assert.Equal(t, DefaultInterval, clock.period)

	ticker := clock.last(t)
	ev := tick(t, ticker, events)
	assert.Equal(t, 1, ev.Snapshot.Cursor)
	ev = tick(t, ticker, events)
	assert.Equal(t, 2, ev.Snapshot.Cursor)
	assert.True(t, ev.Snapshot.Playing)

	// Next at the last step ends autoplay and stops the ticker
	ev = tick(t, ticker, events)
	assert.Equal(t, 2, ev.Snapshot.Cursor)
	assert.False(t, ev.Snapshot.Playing)
	assert.True(t, ev.Snapshot.Complete)
	assert.True(t, ticker.isStopped())
	assert.Equal(t, 1, clock.count())
}

func TestDriver_PauseStopsAdvancing(t *testing.T) {
	ctx := context.Background()
	d, clock, events := newTestDriver(t, 5)

	_, err := d.TogglePlay(ctx)
	require.NoError(t, err)
	ticker := clock.last(t)
	tick(t, ticker, events)

	snap, err := d.TogglePlay(ctx)
	require.NoError(t, err)
	assert.False(t, snap.Playing)
	assert.True(t, ticker.isStopped())

	// A late tick from the stopped ticker must not advance the cursor
	select {
	case ticker.ch <- time.Now():
	case <-time.After(50 * time.Millisecond):
	}

	snap, err = d.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Cursor)
	assert.False(t, snap.Playing)

	// Resume gets a fresh ticker
	_, err = d.TogglePlay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, clock.count())
	ev := tick(t, clock.last(t), events)
	assert.Equal(t, 2, ev.Snapshot.Cursor)
}

func TestDriver_StaleTicksAreDropped(t *testing.T) {
	clock := &fakeClock{}
	d := NewDriver(NewPlayer(Fixed(5)), WithTickerFactory(clock.factory))
	defer d.Close(context.Background())

	// Inject a tick carrying an old generation directly
	d.ticks <- 0

	snap, err := d.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, -1, snap.Cursor)

	_, err = d.TogglePlay(context.Background())
	require.NoError(t, err)
	_, err = d.TogglePlay(context.Background())
	require.NoError(t, err)

	// Generation of the first (now stopped) ticker
	d.ticks <- 1

	snap, err = d.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Cursor)
}

func TestDriver_ReconfigureResets(t *testing.T) {
	ctx := context.Background()
	d, clock, events := newTestDriver(t, 6)

	_, err := d.TogglePlay(ctx)
	require.NoError(t, err)
	ticker := clock.last(t)
	tick(t, ticker, events)

	snap, err := d.Reconfigure(ctx, Fixed(7))
	require.NoError(t, err)
	assert.Equal(t, Snapshot{Cursor: -1, Playing: false, Length: 7}, snap)
	assert.True(t, ticker.isStopped())

	ev := waitFor(t, events, EventReconfigure)
	assert.Equal(t, 7, ev.Snapshot.Length)
}

func TestDriver_ManualCommands(t *testing.T) {
	ctx := context.Background()
	d, _, events := newTestDriver(t, 4)

	snap, err := d.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Cursor)
	assert.Equal(t, EventNext, waitFor(t, events, EventNext).Kind)

	snap, err = d.JumpTo(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Cursor)

	_, err = d.JumpTo(ctx, 4)
	assert.ErrorIs(t, err, types.ErrInvalidSelection)

	snap, err = d.Prev(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Cursor)

	snap, err = d.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, -1, snap.Cursor)
}

func TestDriver_DoFailureEmitsNothing(t *testing.T) {
	ctx := context.Background()
	d, _, events := newTestDriver(t, 4)

	boom := errors.New("boom")
	_, err := d.Do(ctx, EventSelect, func(p *Player) error { return boom })
	assert.ErrorIs(t, err, boom)

	_, err = d.Do(ctx, EventSelect, func(p *Player) error {
		p.Restart(Fixed(2))
		return nil
	})
	require.NoError(t, err)

	ev := <-events
	assert.Equal(t, EventSelect, ev.Kind)
	assert.Equal(t, 2, ev.Snapshot.Length)
}

func TestDriver_Unsubscribe(t *testing.T) {
	ctx := context.Background()
	d := NewDriver(NewPlayer(Fixed(3)))
	defer d.Close(ctx)

	var mu sync.Mutex
	count := 0
	unsubscribe := d.Subscribe(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	_, err := d.Next(ctx)
	require.NoError(t, err)
	unsubscribe()
	_, err = d.Next(ctx)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestDriver_Close(t *testing.T) {
	clock := &fakeClock{}
	d := NewDriver(NewPlayer(Fixed(3)), WithTickerFactory(clock.factory))

	_, err := d.TogglePlay(context.Background())
	require.NoError(t, err)

	require.NoError(t, d.Close(context.Background()))
	require.NoError(t, d.Close(context.Background()))
	assert.True(t, clock.last(t).isStopped())

	_, err = d.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDriver_RealTicker(t *testing.T) {
	ctx := context.Background()
	d := NewDriver(NewPlayer(Fixed(4)), WithInterval(5*time.Millisecond))
	defer d.Close(ctx)

	done := make(chan Snapshot, 1)
	d.Subscribe(func(ev Event) {
		if ev.Kind == EventTick && !ev.Snapshot.Playing {
			done <- ev.Snapshot
		}
	})

	_, err := d.TogglePlay(ctx)
	require.NoError(t, err)

	select {
	case snap := <-done:
		assert.Equal(t, 3, snap.Cursor)
		assert.True(t, snap.Complete)
	case <-time.After(2 * time.Second):
		t.Fatal("autoplay did not finish")
	}
}
