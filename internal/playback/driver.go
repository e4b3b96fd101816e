package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultInterval is the autoplay period
const DefaultInterval = 2500 * time.Millisecond

// ErrClosed is returned for commands sent to a closed driver
var ErrClosed = errors.New("playback driver closed")

// EventKind names the transition that produced an event
type EventKind string

const (
	EventNext        EventKind = "next"
	EventPrev        EventKind = "prev"
	EventReset       EventKind = "reset"
	EventPlay        EventKind = "play"
	EventPause       EventKind = "pause"
	EventJump        EventKind = "jump"
	EventTick        EventKind = "tick"
	EventReconfigure EventKind = "reconfigure"
	EventSelect      EventKind = "select"
)

// Event is delivered to observers after every transition
type Event struct {
	Kind     EventKind `json:"kind"`
	Snapshot Snapshot  `json:"snapshot"`
	At       time.Time `json:"at"`
}

// Observer receives events on the driver goroutine. It must not call back
// into the driver.
type Observer func(Event)

// Ticker is the subset of time.Ticker the driver needs
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates a ticker firing every d
type TickerFactory func(d time.Duration) Ticker

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// NewRealTicker wraps time.NewTicker
func NewRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// Option configures a Driver
type Option func(*Driver)

// WithInterval sets the autoplay period
func WithInterval(d time.Duration) Option {
	return func(dr *Driver) {
		if d > 0 {
			dr.interval = d
		}
	}
}

// WithTickerFactory replaces the ticker source
func WithTickerFactory(f TickerFactory) Option {
	return func(dr *Driver) {
		if f != nil {
			dr.newTicker = f
		}
	}
}

// WithLogger sets the driver logger
func WithLogger(logger *zap.Logger) Option {
	return func(dr *Driver) {
		if logger != nil {
			dr.logger = logger
		}
	}
}

type command struct {
	kind  EventKind
	apply func(p *Player) (EventKind, error)
	reply chan reply
}

type reply struct {
	snapshot Snapshot
	err      error
}

// Driver owns a Player and is its only writer. User commands and autoplay
// ticks are applied one at a time on a single goroutine.
type Driver struct {
	player    *Player
	interval  time.Duration
	newTicker TickerFactory
	logger    *zap.Logger

	commands chan command
	ticks    chan uint64
	done     chan struct{}
	stopped  chan struct{}

	closeOnce sync.Once

	mu        sync.RWMutex
	observers map[int]Observer
	nextObs   int

	// loop-owned
	ticker     Ticker
	tickerStop chan struct{}
	generation uint64
}

// NewDriver starts the driver loop for player
func NewDriver(player *Player, opts ...Option) *Driver {
	d := &Driver{
		player:    player,
		interval:  DefaultInterval,
		newTicker: NewRealTicker,
		logger:    zap.NewNop(),
		commands:  make(chan command),
		ticks:     make(chan uint64),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
		observers: make(map[int]Observer),
	}
	for _, opt := range opts {
		opt(d)
	}

	go d.run()
	return d
}

// Interval returns the autoplay period
func (d *Driver) Interval() time.Duration {
	return d.interval
}

// Subscribe registers an observer and returns a function that removes it
func (d *Driver) Subscribe(obs Observer) func() {
	d.mu.Lock()
	id := d.nextObs
	d.nextObs++
	d.observers[id] = obs
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.observers, id)
		d.mu.Unlock()
	}
}

// Next advances one step
func (d *Driver) Next(ctx context.Context) (Snapshot, error) {
	return d.submit(ctx, EventNext, func(p *Player) (EventKind, error) {
		p.Next()
		return EventNext, nil
	})
}

// Prev moves back one step
func (d *Driver) Prev(ctx context.Context) (Snapshot, error) {
	return d.submit(ctx, EventPrev, func(p *Player) (EventKind, error) {
		p.Prev()
		return EventPrev, nil
	})
}

// Reset returns to the not-started state and stops autoplay
func (d *Driver) Reset(ctx context.Context) (Snapshot, error) {
	return d.submit(ctx, EventReset, func(p *Player) (EventKind, error) {
		p.Reset()
		return EventReset, nil
	})
}

// TogglePlay starts or pauses autoplay
func (d *Driver) TogglePlay(ctx context.Context) (Snapshot, error) {
	return d.submit(ctx, EventPlay, func(p *Player) (EventKind, error) {
		p.TogglePlay()
		if p.Playing() {
			return EventPlay, nil
		}
		return EventPause, nil
	})
}

// JumpTo moves to step index i and pauses
func (d *Driver) JumpTo(ctx context.Context, i int) (Snapshot, error) {
	return d.submit(ctx, EventJump, func(p *Player) (EventKind, error) {
		return EventJump, p.JumpTo(i)
	})
}

// Reconfigure switches the player to a new sequence and resets it
func (d *Driver) Reconfigure(ctx context.Context, length LengthFunc) (Snapshot, error) {
	return d.submit(ctx, EventReconfigure, func(p *Player) (EventKind, error) {
		p.Restart(length)
		return EventReconfigure, nil
	})
}

// Do runs fn on the driver goroutine, for state changes that live next to the
// player (such as a session's selection). The ticker is re-synchronized
// afterwards. If fn fails, or kind is empty, no event is emitted; an empty
// kind serves reads of state owned by the loop.
func (d *Driver) Do(ctx context.Context, kind EventKind, fn func(p *Player) error) (Snapshot, error) {
	return d.submit(ctx, kind, func(p *Player) (EventKind, error) {
		return kind, fn(p)
	})
}

// Snapshot returns the current state without changing it
func (d *Driver) Snapshot(ctx context.Context) (Snapshot, error) {
	return d.submit(ctx, "", nil)
}

// Close stops the loop and any running ticker. It waits for the loop to exit
// or for ctx to be done.
func (d *Driver) Close(ctx context.Context) error {
	d.closeOnce.Do(func() { close(d.done) })
	select {
	case <-d.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Driver) submit(ctx context.Context, kind EventKind, apply func(p *Player) (EventKind, error)) (Snapshot, error) {
	cmd := command{kind: kind, apply: apply, reply: make(chan reply, 1)}

	select {
	case d.commands <- cmd:
	case <-d.done:
		return Snapshot{}, ErrClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}

	select {
	case r := <-cmd.reply:
		return r.snapshot, r.err
	case <-d.stopped:
		return Snapshot{}, ErrClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (d *Driver) run() {
	defer close(d.stopped)
	defer d.stopTicker()

	for {
		select {
		case <-d.done:
			return

		case cmd := <-d.commands:
			if cmd.apply == nil {
				cmd.reply <- reply{snapshot: d.player.Snapshot()}
				continue
			}
			kind, err := cmd.apply(d.player)
			d.syncTicker()
			snap := d.player.Snapshot()
			cmd.reply <- reply{snapshot: snap, err: err}
			if err == nil && kind != "" {
				d.emit(kind, snap)
			}

		case gen := <-d.ticks:
			if gen != d.generation || d.ticker == nil {
				d.logger.Debug("Dropped stale autoplay tick", zap.Uint64("generation", gen))
				continue
			}
			d.player.Next()
			d.syncTicker()
			d.emit(EventTick, d.player.Snapshot())
		}
	}
}

// syncTicker runs a ticker exactly while the player is playing
func (d *Driver) syncTicker() {
	playing := d.player.Playing()
	switch {
	case playing && d.ticker == nil:
		d.generation++
		d.ticker = d.newTicker(d.interval)
		d.tickerStop = make(chan struct{})
		go d.forward(d.ticker, d.generation, d.tickerStop)
	case !playing && d.ticker != nil:
		d.stopTicker()
	}
}

func (d *Driver) stopTicker() {
	if d.ticker == nil {
		return
	}
	d.ticker.Stop()
	close(d.tickerStop)
	d.ticker = nil
	d.tickerStop = nil
	d.generation++
}

// forward tags ticks with the generation of the ticker that produced them
func (d *Driver) forward(t Ticker, gen uint64, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-t.C():
			select {
			case d.ticks <- gen:
			case <-stop:
				return
			}
		}
	}
}

func (d *Driver) emit(kind EventKind, snap Snapshot) {
	ev := Event{Kind: kind, Snapshot: snap, At: time.Now()}

	d.mu.RLock()
	observers := make([]Observer, 0, len(d.observers))
	for _, obs := range d.observers {
		observers = append(observers, obs)
	}
	d.mu.RUnlock()

	for _, obs := range observers {
		obs(ev)
	}
}
