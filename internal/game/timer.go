package game

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Phase is where a timer reading sits relative to the round.
type Phase int

const (
	PhaseCountdown Phase = iota + 1 // anchor still in the future
	PhaseRunning
	PhaseExpired
)

func (p Phase) String() string {
	switch p {
	case PhaseCountdown:
		return "countdown"
	case PhaseRunning:
		return "running"
	case PhaseExpired:
		return "expired"
	}
	return "unknown"
}

// Reading is one recomputation of the round clock.
type Reading struct {
	Phase     Phase
	StartsIn  time.Duration // time left before the round begins
	Remaining int           // whole seconds left in the round
}

// Compute derives the reading at now from the round anchor and duration. It
// keeps no state, so every peer holding the same anchor agrees on the clock
// regardless of when it last looked.
func Compute(now, anchor time.Time, durationSeconds int) Reading {
	if durationSeconds <= 0 {
		return Reading{Phase: PhaseExpired}
	}
	if now.Before(anchor) {
		return Reading{Phase: PhaseCountdown, StartsIn: anchor.Sub(now), Remaining: durationSeconds}
	}
	elapsed := int(now.Sub(anchor) / time.Second)
	remaining := durationSeconds - elapsed
	if remaining <= 0 {
		return Reading{Phase: PhaseExpired}
	}
	return Reading{Phase: PhaseRunning, Remaining: remaining}
}

// DefaultTick is how often a running timer recomputes its reading.
const DefaultTick = 200 * time.Millisecond

// TimerOption configures a Timer.
type TimerOption func(*Timer)

// WithStartTime pins the round to an absolute start instead of activation time.
func WithStartTime(start time.Time) TimerOption {
	return func(t *Timer) {
		t.anchor = start
		t.absolute = true
	}
}

// WithTick overrides the recomputation interval.
func WithTick(d time.Duration) TimerOption {
	return func(t *Timer) {
		if d > 0 {
			t.tick = d
		}
	}
}

// Timer counts a round down and delivers readings on C. A reading waiting for
// its reader is recomputed on every tick, so whatever arrives is current to
// within one tick. The expired reading is delivered exactly once, after which
// C is closed.
type Timer struct {
	clock    clockwork.Clock
	duration int
	anchor   time.Time
	absolute bool
	tick     time.Duration
	out      chan Reading

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewTimer builds an inactive timer for durationSeconds.
func NewTimer(clock clockwork.Clock, durationSeconds int, opts ...TimerOption) *Timer {
	t := &Timer{
		clock:    clock,
		duration: durationSeconds,
		tick:     DefaultTick,
		out:      make(chan Reading),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// C delivers readings while the timer runs.
func (t *Timer) C() <-chan Reading {
	return t.out
}

// Anchor is the instant the round clock counts from. For relative timers it
// is zero until Start.
func (t *Timer) Anchor() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.anchor
}

// Read computes the current reading without delivering it.
func (t *Timer) Read() Reading {
	return Compute(t.clock.Now(), t.Anchor(), t.duration)
}

// Start activates the timer. Starting twice is a no-op.
func (t *Timer) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return
	}
	t.started = true
	if !t.absolute {
		t.anchor = t.clock.Now()
	}
	ctx, t.cancel = context.WithCancel(ctx)
	ticker := t.clock.NewTicker(t.tick)
	go t.run(ctx, ticker, t.anchor)
}

// Stop halts recomputation. Once Stop returns nothing more is delivered on C.
func (t *Timer) Stop() {
	t.mu.Lock()
	if !t.started {
		t.started = true
		t.mu.Unlock()
		close(t.done)
		return
	}
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	<-t.done
}

func (t *Timer) run(ctx context.Context, ticker clockwork.Ticker, anchor time.Time) {
	defer close(t.done)
	defer ticker.Stop()

	reading := Compute(t.clock.Now(), anchor, t.duration)
	for {
		// Catch up on ticks first so a late reader never gets an old reading.
		select {
		case <-ticker.Chan():
			reading = Compute(t.clock.Now(), anchor, t.duration)
			continue
		default:
		}

		select {
		case t.out <- reading:
			if reading.Phase == PhaseExpired {
				close(t.out)
				return
			}
			select {
			case <-ticker.Chan():
				reading = Compute(t.clock.Now(), anchor, t.duration)
			case <-ctx.Done():
				return
			}
		case <-ticker.Chan():
			reading = Compute(t.clock.Now(), anchor, t.duration)
		case <-ctx.Done():
			return
		}
	}
}
